package appointment

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/apperr"
	"github.com/hospitalops/hospital/internal/platform/db"
	"github.com/hospitalops/hospital/internal/platform/outbox"
)

const aggregateType = "appointment"

type Options struct {
	// IdempotentCancel turns Cancel on a cancelled appointment into a no-op
	// returning the current view instead of an InvalidTransition error.
	IdempotentCancel bool
}

// Service is the only writer of appointment status and doctor assignment.
// Every mutation runs in one transaction: lock the row, authorize, consult
// the state machine, write with a version compare, append an outbox event.
type Service struct {
	repo        Repository
	patients    PatientLookup
	doctors     DoctorLookup
	specialties SpecialtyLookup
	tx          db.TxRunner
	events      outbox.Writer
	logger      zerolog.Logger
	opts        Options
	now         func() time.Time
}

func NewService(repo Repository, patients PatientLookup, doctors DoctorLookup, specialties SpecialtyLookup,
	tx db.TxRunner, events outbox.Writer, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		repo:        repo,
		patients:    patients,
		doctors:     doctors,
		specialties: specialties,
		tx:          tx,
		events:      events,
		logger:      logger.With().Str("service", "appointment").Logger(),
		opts:        opts,
		now:         time.Now,
	}
}

// Create books a Pending appointment for the calling customer's patient.
func (s *Service) Create(ctx context.Context, actor identity.Actor, req CreateRequest) (*View, error) {
	if actor.PatientID == nil {
		return nil, apperr.Forbidden("only customers with a patient profile can book appointments")
	}
	a := &Appointment{
		PatientID:   *actor.PatientID,
		DoctorID:    req.DoctorID,
		SpecialtyID: req.SpecialtyID,
		ScheduledAt: req.ScheduledAt.UTC(),
		Reason:      req.Reason,
		Status:      StatusPending,
	}
	if err := Authorize(actor, a, ActionCreate); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(a.Reason); n < ReasonMinLen || n > ReasonMaxLen {
		return nil, apperr.Validation("reason must be between %d and %d characters", ReasonMinLen, ReasonMaxLen)
	}
	if !a.ScheduledAt.After(s.now()) {
		return nil, apperr.Validation("scheduled_at must be in the future")
	}

	var view *View
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetByID(ctx, a.PatientID); err != nil {
			return err
		}
		if a.SpecialtyID != nil {
			if _, err := s.specialties.GetByID(ctx, *a.SpecialtyID); err != nil {
				return err
			}
		}
		if a.DoctorID != nil {
			if _, err := s.assignableDoctor(ctx, *a.DoctorID, a.SpecialtyID); err != nil {
				return err
			}
		}
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		var err error
		if view, err = s.repo.GetView(ctx, a.ID); err != nil {
			return err
		}
		return s.emit(ctx, outbox.AppointmentCreated, view)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("actor", actor.String()).
		Time("scheduled_at", a.ScheduledAt).
		Msg("appointment created")
	return view, nil
}

// AssignDoctor binds an active doctor to a Pending appointment. Status is
// left unchanged; the doctor confirms separately.
func (s *Service) AssignDoctor(ctx context.Context, actor identity.Actor, id uuid.UUID, req AssignDoctorRequest, expectedVersion int) (*View, error) {
	var view *View
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, a, ActionAssignDoctor); err != nil {
			return err
		}
		if err := checkVersion(a, expectedVersion); err != nil {
			return err
		}
		if a.Status != StatusPending {
			return apperr.InvalidTransition("a doctor can only be assigned while the appointment is Pending, it is %s", a.Status)
		}
		d, err := s.assignableDoctor(ctx, req.DoctorID, a.SpecialtyID)
		if err != nil {
			return err
		}
		a.DoctorID = &d.ID
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		if view, err = s.repo.GetView(ctx, a.ID); err != nil {
			return err
		}
		return s.emit(ctx, outbox.AppointmentDoctorAssigned, view)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("doctor_id", req.DoctorID.String()).
		Str("actor", actor.String()).
		Msg("doctor assigned")
	return view, nil
}

func (s *Service) Confirm(ctx context.Context, actor identity.Actor, id uuid.UUID, expectedVersion int) (*View, error) {
	return s.fire(ctx, actor, id, TriggerConfirm, expectedVersion)
}

func (s *Service) Cancel(ctx context.Context, actor identity.Actor, id uuid.UUID, expectedVersion int) (*View, error) {
	return s.fire(ctx, actor, id, TriggerCancel, expectedVersion)
}

func (s *Service) Complete(ctx context.Context, actor identity.Actor, id uuid.UUID, expectedVersion int) (*View, error) {
	return s.fire(ctx, actor, id, TriggerComplete, expectedVersion)
}

var triggerActions = map[Trigger]Action{
	TriggerConfirm:  ActionConfirm,
	TriggerCancel:   ActionCancel,
	TriggerComplete: ActionComplete,
}

var triggerEvents = map[Trigger]string{
	TriggerConfirm:  outbox.AppointmentConfirmed,
	TriggerCancel:   outbox.AppointmentCancelled,
	TriggerComplete: outbox.AppointmentCompleted,
}

func (s *Service) fire(ctx context.Context, actor identity.Actor, id uuid.UUID, t Trigger, expectedVersion int) (*View, error) {
	var (
		view     *View
		from, to Status
		noop     bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, a, triggerActions[t]); err != nil {
			return err
		}
		if err := checkVersion(a, expectedVersion); err != nil {
			return err
		}

		from = a.Status
		if t == TriggerCancel && from == StatusCancelled && s.opts.IdempotentCancel {
			noop = true
			view, err = s.repo.GetView(ctx, a.ID)
			return err
		}
		if to, err = Fire(from, t); err != nil {
			return err
		}

		a.Status = to
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		if view, err = s.repo.GetView(ctx, a.ID); err != nil {
			return err
		}
		return s.emit(ctx, triggerEvents[t], view)
	})
	if err != nil {
		return nil, err
	}

	if !noop {
		s.logger.Info().
			Str("appointment_id", id.String()).
			Str("from", from.String()).
			Str("to", to.String()).
			Str("actor", actor.String()).
			Msg("appointment transitioned")
	}
	return view, nil
}

// Delete withdraws a Pending appointment on behalf of its patient. It is a
// soft delete, not a transition.
func (s *Service) Delete(ctx context.Context, actor identity.Actor, id uuid.UUID, expectedVersion int) error {
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, a, ActionDelete); err != nil {
			return err
		}
		if err := checkVersion(a, expectedVersion); err != nil {
			return err
		}
		if a.Status != StatusPending {
			return apperr.InvalidTransition("only Pending appointments can be withdrawn, it is %s", a.Status)
		}
		view, err := s.repo.GetView(ctx, a.ID)
		if err != nil {
			return err
		}
		if err := s.repo.SoftDelete(ctx, a, s.now()); err != nil {
			return err
		}
		return s.emit(ctx, outbox.AppointmentWithdrawn, view)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("appointment_id", id.String()).Str("actor", actor.String()).Msg("appointment withdrawn")
	return nil
}

func (s *Service) Get(ctx context.Context, actor identity.Actor, id uuid.UUID) (*View, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, a, ActionView); err != nil {
		return nil, err
	}
	return s.repo.GetView(ctx, id)
}

// List returns the appointments visible to actor: customers see their own,
// doctors those bound to them, managers all.
func (s *Service) List(ctx context.Context, actor identity.Actor, f ListFilter) ([]*View, int, error) {
	f.PatientID, f.DoctorID = nil, nil
	switch actor.Role {
	case identity.RoleCustomer:
		if actor.PatientID == nil {
			return []*View{}, 0, nil
		}
		f.PatientID = actor.PatientID
	case identity.RoleDoctor:
		if actor.DoctorID == nil {
			return []*View{}, 0, nil
		}
		f.DoctorID = actor.DoctorID
	case identity.RoleManager:
	default:
		return nil, 0, apperr.Forbidden("role %q may not list appointments", actor.Role)
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		return nil, 0, apperr.Validation("cannot sort by %q", f.SortBy)
	}
	return s.repo.List(ctx, f)
}

// CountOpenByDoctor lets doctor management refuse to deactivate a doctor
// who still holds Pending or Confirmed appointments.
func (s *Service) CountOpenByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	return s.repo.CountOpenByDoctor(ctx, doctorID)
}

// assignableDoctor share-locks doctorID and checks it may take an appointment
// in specialtyID. Must run inside the caller's transaction.
func (s *Service) assignableDoctor(ctx context.Context, doctorID uuid.UUID, specialtyID *uuid.UUID) (*identity.Doctor, error) {
	d, err := s.doctors.GetForShare(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !d.IsActive() {
		return nil, apperr.Validation("doctor %s is inactive", doctorID)
	}
	if specialtyID != nil && d.SpecialtyID != *specialtyID {
		return nil, apperr.Validation("doctor %s does not practise the requested specialty", doctorID)
	}
	return d, nil
}

func (s *Service) emit(ctx context.Context, eventType string, v *View) error {
	e, err := outbox.NewEvent(aggregateType, v.ID.String(), eventType, v)
	if err != nil {
		return err
	}
	return s.events.Append(ctx, e)
}

// checkVersion compares the caller's expected version, when given, with the
// locked row.
func checkVersion(a *Appointment, expected int) error {
	if expected > 0 && expected != a.Version {
		return apperr.Conflict("appointment %s is at version %d, not %d", a.ID, a.Version, expected)
	}
	return nil
}
