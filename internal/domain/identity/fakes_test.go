package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hospitalops/hospital/internal/platform/apperr"
)

type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memUsers struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*User
}

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	m.rows[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("user %s", id)
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("user %s", email)
}

func (m *memUsers) EmailOrPhoneTaken(_ context.Context, email, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.rows {
		if u.Email == email || u.PhoneNumber == phone {
			return true, nil
		}
	}
	return false, nil
}

type memPatients struct {
	rows map[uuid.UUID]*Patient
}

func (m *memPatients) Create(_ context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	m.rows[p.ID] = &cp
	return nil
}

func (m *memPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("patient %s", id)
	}
	return p, nil
}

func (m *memPatients) GetByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	for _, p := range m.rows {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, apperr.NotFound("patient for user %s", userID)
}

func (m *memPatients) List(_ context.Context, f PatientFilter) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.rows {
		if f.Search == "" || strings.Contains(p.FullName, f.Search) || strings.Contains(p.InsuranceNo, f.Search) {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

type memDoctors struct {
	rows  map[uuid.UUID]*Doctor
	locks []string // "share:<id>" or "update:<id>", in call order
}

func (m *memDoctors) Create(_ context.Context, d *Doctor) error {
	for _, other := range m.rows {
		if other.LicenseNo == d.LicenseNo {
			return apperr.Conflict("license number %s already registered", d.LicenseNo)
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	cp := *d
	m.rows[d.ID] = &cp
	return nil
}

func (m *memDoctors) Update(_ context.Context, d *Doctor) error {
	if _, ok := m.rows[d.ID]; !ok {
		return apperr.NotFound("doctor %s", d.ID)
	}
	cp := *d
	m.rows[d.ID] = &cp
	return nil
}

func (m *memDoctors) GetByIDIncludingInactive(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := m.rows[id]
	if !ok {
		return nil, apperr.NotFound("doctor %s", id)
	}
	cp := *d
	return &cp, nil
}

func (m *memDoctors) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := m.GetByIDIncludingInactive(ctx, id)
	if err != nil || !d.IsActive() {
		return nil, apperr.NotFound("doctor %s", id)
	}
	return d, nil
}

func (m *memDoctors) GetByUserID(_ context.Context, userID uuid.UUID) (*Doctor, error) {
	for _, d := range m.rows {
		if d.UserID == userID && d.IsActive() {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("doctor for user %s", userID)
}

func (m *memDoctors) GetForShare(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	m.locks = append(m.locks, "share:"+id.String())
	return m.GetByIDIncludingInactive(ctx, id)
}

func (m *memDoctors) GetForUpdate(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	m.locks = append(m.locks, "update:"+id.String())
	return m.GetByIDIncludingInactive(ctx, id)
}

func (m *memDoctors) List(_ context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	var out []*Doctor
	for _, d := range m.rows {
		if !f.IncludeInactive && !d.IsActive() {
			continue
		}
		if f.SpecialtyID != nil && d.SpecialtyID != *f.SpecialtyID {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}

func (m *memDoctors) SetDeletedAt(_ context.Context, id uuid.UUID, at *time.Time) error {
	d, ok := m.rows[id]
	if !ok {
		return apperr.NotFound("doctor %s", id)
	}
	d.DeletedAt = at
	return nil
}

type memSpecialties []*Specialty

func (m memSpecialties) GetByID(_ context.Context, id uuid.UUID) (*Specialty, error) {
	for _, s := range m {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, apperr.NotFound("specialty %s", id)
}

func (m memSpecialties) List(context.Context) ([]*Specialty, error) { return m, nil }

type stubTokens struct {
	issued []string
}

func (s *stubTokens) Issue(userID, role string) (string, time.Time, error) {
	s.issued = append(s.issued, userID+"/"+role)
	return "token-for-" + userID, time.Now().Add(time.Hour), nil
}

type stubWorkload map[uuid.UUID]int

func (w stubWorkload) CountOpenByDoctor(_ context.Context, doctorID uuid.UUID) (int, error) {
	return w[doctorID], nil
}
