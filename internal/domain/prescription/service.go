package prescription

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/apperr"
	"github.com/hospitalops/hospital/internal/platform/db"
	"github.com/hospitalops/hospital/internal/platform/outbox"
)

const aggregateType = "prescription"

type Service struct {
	repo         Repository
	medicines    MedicineRepository
	appointments AppointmentLocker
	tx           db.TxRunner
	events       outbox.Writer
	logger       zerolog.Logger
}

func NewService(repo Repository, medicines MedicineRepository, appointments AppointmentLocker,
	tx db.TxRunner, events outbox.Writer, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		medicines:    medicines,
		appointments: appointments,
		tx:           tx,
		events:       events,
		logger:       logger.With().Str("service", "prescription").Logger(),
	}
}

// Create issues the prescription for a completed appointment. The
// appointment row stays locked until commit, so two doctors racing on the
// same visit serialize and the second sees the first prescription.
func (s *Service) Create(ctx context.Context, actor identity.Actor, appointmentID uuid.UUID, req CreateRequest) (*View, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	var view *View
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		has, err := s.repo.ExistsForAppointment(ctx, a.ID)
		if err != nil {
			return err
		}
		if err := Check(actor, a, has); err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(req.Lines))
		for i, l := range req.Lines {
			ids[i] = l.MedicineID
		}
		meds, err := s.medicines.GetByIDs(ctx, ids)
		if err != nil {
			return err
		}

		p := &Prescription{
			AppointmentID: a.ID,
			DoctorID:      *a.DoctorID,
			Lines:         make([]Line, len(req.Lines)),
		}
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			p.Notes = &notes
		}
		for i, lr := range req.Lines {
			m, ok := meds[lr.MedicineID]
			if !ok {
				return apperr.NotFound("medicine %s", lr.MedicineID)
			}
			p.Lines[i] = Line{
				MedicineID:     m.ID,
				MedicineName:   m.Name,
				Quantity:       lr.Quantity,
				UnitPriceCents: m.PriceCents,
			}
			if instr := strings.TrimSpace(lr.UsageInstruction); instr != "" {
				p.Lines[i].UsageInstruction = &instr
			}
		}
		p.TotalCents = Total(p.Lines)

		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		if view, err = s.repo.GetView(ctx, p.ID); err != nil {
			return err
		}
		e, err := outbox.NewEvent(aggregateType, view.ID.String(), outbox.PrescriptionIssued, view)
		if err != nil {
			return err
		}
		return s.events.Append(ctx, e)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("prescription_id", view.ID.String()).
		Str("appointment_id", appointmentID.String()).
		Int64("total_cents", view.TotalCents).
		Str("actor", actor.String()).
		Msg("prescription issued")
	return view, nil
}

func (s *Service) Get(ctx context.Context, actor identity.Actor, id uuid.UUID) (*View, error) {
	v, err := s.repo.GetView(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, v) {
		return nil, apperr.Forbidden("%s may not view prescription %s", actor, id)
	}
	return v, nil
}

// GetByAppointment authorizes against the appointment first so that callers
// cannot probe foreign appointments for prescriptions.
func (s *Service) GetByAppointment(ctx context.Context, actor identity.Actor, appointmentID uuid.UUID) (*View, error) {
	a, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	allowed := actor.IsManager() || actor.OwnsPatient(a.PatientID) || actor.IsDoctorOf(a.DoctorID)
	if !allowed {
		return nil, apperr.Forbidden("%s may not view appointment %s", actor, appointmentID)
	}
	return s.repo.GetViewByAppointment(ctx, appointmentID)
}

// List returns prescriptions visible to actor: customers see their own,
// doctors those they issued, managers all.
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
		return nil, 0, apperr.Forbidden("role %q may not list prescriptions", actor.Role)
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		return nil, 0, apperr.Validation("cannot sort by %q", f.SortBy)
	}
	return s.repo.List(ctx, f)
}

func canView(actor identity.Actor, v *View) bool {
	return actor.IsManager() || actor.OwnsPatient(v.Patient.ID) || actor.IsDoctorOf(&v.DoctorID)
}

func validateRequest(req CreateRequest) error {
	if utf8.RuneCountInString(req.Notes) > NotesMaxLen {
		return apperr.Validation("notes must be at most %d characters", NotesMaxLen)
	}
	if len(req.Lines) == 0 {
		return apperr.Validation("a prescription needs at least one line")
	}
	seen := make(map[uuid.UUID]bool, len(req.Lines))
	for _, l := range req.Lines {
		if l.MedicineID == uuid.Nil {
			return apperr.Validation("medicine_id is required")
		}
		if seen[l.MedicineID] {
			return apperr.Validation("medicine %s is listed more than once", l.MedicineID)
		}
		seen[l.MedicineID] = true
		if l.Quantity < 1 {
			return apperr.Validation("quantity must be at least 1")
		}
		if utf8.RuneCountInString(l.UsageInstruction) > InstructionMaxLen {
			return apperr.Validation("usage_instruction must be at most %d characters", InstructionMaxLen)
		}
	}
	return nil
}
