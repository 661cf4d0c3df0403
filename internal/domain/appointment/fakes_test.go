package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/apperr"
	"github.com/hospitalops/hospital/internal/platform/outbox"
)

// -- Unit of work --

type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -- Appointment repository --

// memRepo stores copies so callers never share state with the store, and
// enforces the version compare the way the SQL UPDATE does.
type memRepo struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]Appointment
	patients    map[uuid.UUID]identity.PatientSummary
	doctors     map[uuid.UUID]*identity.Doctor
	specialties map[uuid.UUID]string
	prescribed  map[uuid.UUID]bool

	// afterLock runs after GetForUpdate reads a row, outside the mutex.
	afterLock func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		rows:        map[uuid.UUID]Appointment{},
		patients:    map[uuid.UUID]identity.PatientSummary{},
		doctors:     map[uuid.UUID]*identity.Doctor{},
		specialties: map[uuid.UUID]string{},
		prescribed:  map[uuid.UUID]bool{},
	}
}

func (m *memRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Version = 1
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.rows[a.ID] = *a
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.IsDeleted() {
		return nil, apperr.NotFound("appointment %s", id)
	}
	return &a, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := m.GetByID(ctx, id)
	if err == nil && m.afterLock != nil {
		m.afterLock()
	}
	return a, err
}

func (m *memRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[a.ID]
	if !ok || cur.IsDeleted() || cur.Version != a.Version {
		return apperr.Conflict("appointment %s was modified concurrently", a.ID)
	}
	a.Version++
	a.UpdatedAt = time.Now()
	m.rows[a.ID] = *a
	return nil
}

func (m *memRepo) SoftDelete(_ context.Context, a *Appointment, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[a.ID]
	if !ok || cur.IsDeleted() || cur.Version != a.Version {
		return apperr.Conflict("appointment %s was modified concurrently", a.ID)
	}
	a.MarkDeleted(at)
	a.Version++
	m.rows[a.ID] = *a
	return nil
}

func (m *memRepo) view(a Appointment) *View {
	v := &View{
		ID:              a.ID,
		Status:          a.Status,
		ScheduledAt:     a.ScheduledAt,
		Reason:          a.Reason,
		Patient:         m.patients[a.PatientID],
		HasPrescription: m.prescribed[a.ID],
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.DoctorID != nil {
		d := m.doctors[*a.DoctorID]
		v.Doctor = &identity.DoctorSummary{ID: *a.DoctorID}
		if d != nil {
			v.Doctor.FullName = d.FullName
			v.Doctor.SpecialtyID = d.SpecialtyID
			v.Doctor.IsActive = d.IsActive()
		}
	}
	if a.SpecialtyID != nil {
		v.Specialty = &SpecialtySummary{ID: *a.SpecialtyID, Name: m.specialties[*a.SpecialtyID]}
	}
	return v.finish()
}

func (m *memRepo) GetView(_ context.Context, id uuid.UUID) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.IsDeleted() {
		return nil, apperr.NotFound("appointment %s", id)
	}
	return m.view(a), nil
}

func (m *memRepo) List(_ context.Context, f ListFilter) ([]*View, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*View
	for _, a := range m.rows {
		if a.IsDeleted() {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && (a.DoctorID == nil || *a.DoctorID != *f.DoctorID) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(a.Reason), strings.ToLower(f.Search)) {
			continue
		}
		all = append(all, m.view(a))
	}
	sort.Slice(all, func(i, j int) bool {
		if f.Desc {
			return all[i].ScheduledAt.After(all[j].ScheduledAt)
		}
		return all[i].ScheduledAt.Before(all[j].ScheduledAt)
	})
	total := len(all)
	if f.Offset >= total {
		return []*View{}, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (m *memRepo) CountOpenByDoctor(_ context.Context, doctorID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.rows {
		if !a.IsDeleted() && a.DoctorID != nil && *a.DoctorID == doctorID && !a.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

// -- Identity lookups --

type memPatients map[uuid.UUID]*identity.Patient

func (m memPatients) GetByID(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := m[id]
	if !ok || p.IsDeleted() {
		return nil, apperr.NotFound("patient %s", id)
	}
	return p, nil
}

type memDoctors struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*identity.Doctor
	shared []uuid.UUID // GetForShare calls, in order
}

func (m *memDoctors) GetForShare(_ context.Context, id uuid.UUID) (*identity.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shared = append(m.shared, id)
	d, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("doctor %s", id)
	}
	cp := *d
	return &cp, nil
}

type memSpecialties map[uuid.UUID]*identity.Specialty

func (m memSpecialties) GetByID(_ context.Context, id uuid.UUID) (*identity.Specialty, error) {
	s, ok := m[id]
	if !ok {
		return nil, apperr.NotFound("specialty %s", id)
	}
	return s, nil
}

// -- Outbox --

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

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

// -- Fixture --

type fixture struct {
	svc     *Service
	repo    *memRepo
	events  *recordedEvents
	doctors *memDoctors

	cardiology  uuid.UUID
	dermatology uuid.UUID

	alice          identity.Actor // customer
	bob            identity.Actor // another customer
	drHouse        identity.Actor // cardiologist
	drGrey         identity.Actor // another cardiologist
	drInact        uuid.UUID      // inactive doctor profile
	drSkin         uuid.UUID      // dermatologist
	manager        identity.Actor
	strangerDoctor identity.Actor // doctor role without an active profile
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		repo:        newMemRepo(),
		events:      &recordedEvents{},
		cardiology:  uuid.New(),
		dermatology: uuid.New(),
	}

	patients := memPatients{}
	newCustomer := func(name string) identity.Actor {
		p := &identity.Patient{ID: uuid.New(), UserID: uuid.New()}
		patients[p.ID] = p
		f.repo.patients[p.ID] = identity.PatientSummary{ID: p.ID, FullName: name, Email: strings.ToLower(name) + "@example.com"}
		return identity.Actor{UserID: p.UserID, Role: identity.RoleCustomer, PatientID: &p.ID}
	}
	f.alice = newCustomer("Alice")
	f.bob = newCustomer("Bob")

	f.doctors = &memDoctors{rows: map[uuid.UUID]*identity.Doctor{}}
	newDoctor := func(name string, specialty uuid.UUID, active bool) uuid.UUID {
		d := &identity.Doctor{ID: uuid.New(), UserID: uuid.New(), SpecialtyID: specialty, FullName: name}
		if !active {
			d.MarkDeleted(time.Now())
		}
		f.doctors.rows[d.ID] = d
		f.repo.doctors[d.ID] = d
		return d.ID
	}
	asActor := func(id uuid.UUID) identity.Actor {
		d := f.doctors.rows[id]
		return identity.Actor{UserID: d.UserID, Role: identity.RoleDoctor, DoctorID: &d.ID}
	}
	f.drHouse = asActor(newDoctor("Dr House", f.cardiology, true))
	f.drGrey = asActor(newDoctor("Dr Grey", f.cardiology, true))
	f.drInact = newDoctor("Dr Retired", f.cardiology, false)
	f.drSkin = newDoctor("Dr Skin", f.dermatology, true)
	f.strangerDoctor = identity.Actor{UserID: uuid.New(), Role: identity.RoleDoctor}
	f.manager = identity.Actor{UserID: uuid.New(), Role: identity.RoleManager}

	specialties := memSpecialties{
		f.cardiology:  {ID: f.cardiology, Name: "Cardiology"},
		f.dermatology: {ID: f.dermatology, Name: "Dermatology"},
	}
	f.repo.specialties[f.cardiology] = "Cardiology"
	f.repo.specialties[f.dermatology] = "Dermatology"

	f.svc = NewService(f.repo, patients, f.doctors, specialties, directTx{}, f.events, zerolog.Nop(), opts)
	return f
}

func (f *fixture) book(actor identity.Actor, specialty *uuid.UUID) *View {
	v, err := f.svc.Create(context.Background(), actor, CreateRequest{
		SpecialtyID: specialty,
		ScheduledAt: time.Now().Add(24 * time.Hour),
		Reason:      "Recurring chest pain after exercise",
	})
	if err != nil {
		panic(err)
	}
	return v
}
