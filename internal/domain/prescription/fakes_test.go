package prescription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospitalops/hospital/internal/domain/appointment"
	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/apperr"
	"github.com/hospitalops/hospital/internal/platform/outbox"
)

type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memAppointments struct {
	mu   sync.Mutex
	rows map[uuid.UUID]appointment.Appointment

	// prescribed, when set, derives has_prescription for views.
	prescribed *memRepo
}

func (m *memAppointments) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("appointment %s", id)
	}
	return &a, nil
}

func (m *memAppointments) GetForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return m.GetByID(ctx, id)
}

// memRepo mirrors the unique index on appointment_id.
type memRepo struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]Prescription
	appts    *memAppointments
	patients map[uuid.UUID]identity.PatientSummary
	doctors  map[uuid.UUID]identity.DoctorSummary
}

func (m *memRepo) Create(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.AppointmentID == p.AppointmentID {
			return apperr.Conflict("appointment %s already has a prescription", p.AppointmentID)
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	lines := make([]Line, len(p.Lines))
	copy(lines, p.Lines)
	stored := *p
	stored.Lines = lines
	m.rows[p.ID] = stored
	return nil
}

func (m *memRepo) ExistsForAppointment(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.AppointmentID == appointmentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) view(p Prescription) *View {
	a := m.appts.rows[p.AppointmentID]
	return &View{
		Prescription: p,
		Appointment:  AppointmentInfo{ID: a.ID, ScheduledAt: a.ScheduledAt, Reason: a.Reason},
		Patient:      m.patients[a.PatientID],
		Doctor:       m.doctors[p.DoctorID],
	}
}

func (m *memRepo) GetView(_ context.Context, id uuid.UUID) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("prescription for %s", id)
	}
	return m.view(p), nil
}

func (m *memRepo) GetViewByAppointment(_ context.Context, appointmentID uuid.UUID) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.AppointmentID == appointmentID {
			return m.view(p), nil
		}
	}
	return nil, apperr.NotFound("prescription for %s", appointmentID)
}

func (m *memRepo) List(_ context.Context, f ListFilter) ([]*View, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*View
	for _, p := range m.rows {
		v := m.view(p)
		if f.PatientID != nil && v.Patient.ID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && p.DoctorID != *f.DoctorID {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, len(out), nil
}

type memMedicines map[uuid.UUID]*Medicine

func (m memMedicines) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Medicine, error) {
	out := map[uuid.UUID]*Medicine{}
	for _, id := range ids {
		if med, ok := m[id]; ok {
			out[id] = med
		}
	}
	return out, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (r *recordedEvents) Append(_ context.Context, e outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	svc    *Service
	repo   *memRepo
	appts  *memAppointments
	events *recordedEvents

	aspirin, amoxicillin uuid.UUID

	alice, bob      identity.Actor
	drHouse, drGrey identity.Actor
	manager         identity.Actor
	alicePatient    uuid.UUID
	bobPatient      uuid.UUID
	houseID, greyID uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		appts:        &memAppointments{rows: map[uuid.UUID]appointment.Appointment{}},
		events:       &recordedEvents{},
		aspirin:      uuid.New(),
		amoxicillin:  uuid.New(),
		alicePatient: uuid.New(),
		bobPatient:   uuid.New(),
		houseID:      uuid.New(),
		greyID:       uuid.New(),
	}
	f.repo = &memRepo{
		rows:  map[uuid.UUID]Prescription{},
		appts: f.appts,
		patients: map[uuid.UUID]identity.PatientSummary{
			f.alicePatient: {ID: f.alicePatient, FullName: "Alice Nguyen", Email: "alice@example.com"},
			f.bobPatient:   {ID: f.bobPatient, FullName: "Bob Tran", Email: "bob@example.com"},
		},
		doctors: map[uuid.UUID]identity.DoctorSummary{
			f.houseID: {ID: f.houseID, FullName: "Dr. House", IsActive: true},
			f.greyID:  {ID: f.greyID, FullName: "Dr. Grey", IsActive: true},
		},
	}
	meds := memMedicines{
		f.aspirin:     {ID: f.aspirin, Name: "Aspirin", PriceCents: 250},
		f.amoxicillin: {ID: f.amoxicillin, Name: "Amoxicillin", PriceCents: 1200},
	}

	f.alice = identity.Actor{UserID: uuid.New(), Role: identity.RoleCustomer, PatientID: &f.alicePatient}
	f.bob = identity.Actor{UserID: uuid.New(), Role: identity.RoleCustomer, PatientID: &f.bobPatient}
	f.drHouse = identity.Actor{UserID: uuid.New(), Role: identity.RoleDoctor, DoctorID: &f.houseID}
	f.drGrey = identity.Actor{UserID: uuid.New(), Role: identity.RoleDoctor, DoctorID: &f.greyID}
	f.manager = identity.Actor{UserID: uuid.New(), Role: identity.RoleManager}

	f.svc = NewService(f.repo, meds, f.appts, directTx{}, f.events, zerolog.Nop())
	return f
}

// visit stores an appointment for patient, bound to doctor, in status st.
func (f *fixture) visit(patient, doctor uuid.UUID, st appointment.Status) uuid.UUID {
	id := uuid.New()
	f.appts.rows[id] = appointment.Appointment{
		ID:          id,
		PatientID:   patient,
		DoctorID:    &doctor,
		ScheduledAt: time.Now().Add(-time.Hour),
		Reason:      "Persistent headache for two weeks",
		Status:      st,
		Version:     4,
	}
	return id
}
