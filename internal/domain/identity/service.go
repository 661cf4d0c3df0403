package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospitalops/hospital/internal/platform/apperr"
	"github.com/hospitalops/hospital/internal/platform/auth"
	"github.com/hospitalops/hospital/internal/platform/db"
)

// ErrInvalidCredentials is returned by Login for an unknown email or a wrong
// password alike.
var ErrInvalidCredentials = errors.New("invalid email or password")

// TokenIssuer mints access tokens for logged-in users.
type TokenIssuer interface {
	Issue(userID, role string) (string, time.Time, error)
}

// DoctorWorkload reports how many non-terminal appointments a doctor holds.
type DoctorWorkload interface {
	CountOpenByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
}

type Service struct {
	users       UserRepository
	patients    PatientRepository
	doctors     DoctorRepository
	specialties SpecialtyRepository
	tx          db.TxRunner
	tokens      TokenIssuer
	workload    DoctorWorkload
	logger      zerolog.Logger
	now         func() time.Time
	checkPass   func(hash, password string) (bool, error)
}

// dummyHash is compared against when a login email is unknown so both
// failure paths cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() string {
	h, err := auth.HashPassword("unknown-account-placeholder")
	if err != nil {
		panic(err)
	}
	return h
})

func NewService(users UserRepository, patients PatientRepository, doctors DoctorRepository,
	specialties SpecialtyRepository, tx db.TxRunner, tokens TokenIssuer, workload DoctorWorkload,
	logger zerolog.Logger) *Service {
	return &Service{
		users:       users,
		patients:    patients,
		doctors:     doctors,
		specialties: specialties,
		tx:          tx,
		tokens:      tokens,
		workload:    workload,
		logger:      logger.With().Str("service", "identity").Logger(),
		now:         time.Now,
		checkPass:   auth.CheckPassword,
	}
}

// -- Account --

type RegisterRequest struct {
	FullName    string `json:"full_name" validate:"required,max=100"`
	Email       string `json:"email" validate:"required,email,max=255"`
	PhoneNumber string `json:"phone_number" validate:"required,min=9,max=15,numeric"`
	Password    string `json:"password" validate:"required,min=8,max=100"`
	InsuranceNo string `json:"insurance_no" validate:"required,max=100"`
	Address     string `json:"address" validate:"required,max=500"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

// Register creates a Customer user together with its patient profile.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	var u *User
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.createUser(ctx, StaffAccount{
			FullName:    req.FullName,
			Email:       req.Email,
			PhoneNumber: req.PhoneNumber,
			Password:    req.Password,
		}, RoleCustomer)
		if err != nil {
			return err
		}
		return s.patients.Create(ctx, &Patient{
			UserID:      u.ID,
			InsuranceNo: req.InsuranceNo,
			Address:     req.Address,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", u.ID.String()).Msg("customer registered")
	return u, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(req.Email))
	if apperr.IsNotFound(err) {
		_, _ = s.checkPass(dummyHash(), req.Password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := s.checkPass(u.PasswordHash, req.Password)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.tokens.Issue(u.ID.String(), string(u.Role))
	if err != nil {
		return nil, err
	}
	return &TokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp, User: u}, nil
}

// Profile is the response of GET /me.
type Profile struct {
	User    *User    `json:"user"`
	Actor   Actor    `json:"actor"`
	Patient *Patient `json:"patient,omitempty"`
	Doctor  *Doctor  `json:"doctor,omitempty"`
}

func (s *Service) Me(ctx context.Context, actor Actor) (*Profile, error) {
	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	p := &Profile{User: u, Actor: actor}
	if actor.PatientID != nil {
		if p.Patient, err = s.patients.GetByID(ctx, *actor.PatientID); err != nil {
			return nil, err
		}
	}
	if actor.DoctorID != nil {
		if p.Doctor, err = s.doctors.GetByID(ctx, *actor.DoctorID); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// -- Staff accounts --

// StaffAccount holds the user fields shared by every account kind.
type StaffAccount struct {
	FullName    string `json:"full_name" validate:"required,max=100"`
	Email       string `json:"email" validate:"required,email,max=255"`
	PhoneNumber string `json:"phone_number" validate:"required,min=9,max=15,numeric"`
	Password    string `json:"password" validate:"required,min=8,max=100"`
}

type CreateDoctorRequest struct {
	StaffAccount
	SpecialtyID       uuid.UUID `json:"specialty_id" validate:"required"`
	LicenseNo         string    `json:"license_no" validate:"required,max=50"`
	Bio               *string   `json:"bio" validate:"omitempty,max=2000"`
	YearsOfExperience int       `json:"years_of_experience" validate:"gte=0,lte=80"`
}

type UpdateDoctorRequest struct {
	SpecialtyID       uuid.UUID `json:"specialty_id" validate:"required"`
	LicenseNo         string    `json:"license_no" validate:"required,max=50"`
	Bio               *string   `json:"bio" validate:"omitempty,max=2000"`
	YearsOfExperience int       `json:"years_of_experience" validate:"gte=0,lte=80"`
}

// createUser inserts a user with role after the uniqueness check. Must run
// inside a transaction.
func (s *Service) createUser(ctx context.Context, acc StaffAccount, role Role) (*User, error) {
	acc.Email = strings.TrimSpace(acc.Email)
	if acc.FullName == "" || acc.Email == "" || acc.Password == "" {
		return nil, apperr.Validation("full_name, email and password are required")
	}
	hash, err := auth.HashPassword(acc.Password)
	if err != nil {
		return nil, err
	}
	taken, err := s.users.EmailOrPhoneTaken(ctx, acc.Email, acc.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperr.Conflict("email or phone number already registered")
	}
	u := &User{
		FullName:     strings.TrimSpace(acc.FullName),
		Email:        acc.Email,
		PhoneNumber:  acc.PhoneNumber,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateManager creates a Manager account. It is only reachable from the
// command line, where it bootstraps the first manager.
func (s *Service) CreateManager(ctx context.Context, acc StaffAccount) (*User, error) {
	var u *User
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.createUser(ctx, acc, RoleManager)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Msg("manager created")
	return u, nil
}

// CreateDoctor creates a Doctor user together with its doctor profile.
func (s *Service) CreateDoctor(ctx context.Context, actor Actor, req CreateDoctorRequest) (*Doctor, error) {
	if !actor.IsManager() {
		return nil, apperr.Forbidden("only managers can create doctors")
	}
	var d *Doctor
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.specialties.GetByID(ctx, req.SpecialtyID); err != nil {
			return err
		}
		u, err := s.createUser(ctx, req.StaffAccount, RoleDoctor)
		if err != nil {
			return err
		}
		created := &Doctor{
			UserID:            u.ID,
			SpecialtyID:       req.SpecialtyID,
			LicenseNo:         strings.TrimSpace(req.LicenseNo),
			Bio:               req.Bio,
			YearsOfExperience: req.YearsOfExperience,
		}
		if err := s.doctors.Create(ctx, created); err != nil {
			return err
		}
		d, err = s.doctors.GetByID(ctx, created.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", d.ID.String()).Str("actor", actor.String()).Msg("doctor created")
	return d, nil
}

// UpdateDoctor edits a doctor profile. The specialty cannot change while the
// doctor holds open appointments booked against the old one.
func (s *Service) UpdateDoctor(ctx context.Context, actor Actor, id uuid.UUID, req UpdateDoctorRequest) (*Doctor, error) {
	if !actor.IsManager() {
		return nil, apperr.Forbidden("only managers can edit doctors")
	}
	var d *Doctor
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if d, err = s.doctors.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if req.SpecialtyID != d.SpecialtyID {
			if _, err := s.specialties.GetByID(ctx, req.SpecialtyID); err != nil {
				return err
			}
			open, err := s.workload.CountOpenByDoctor(ctx, id)
			if err != nil {
				return err
			}
			if open > 0 {
				return apperr.Conflict("doctor %s still has %d open appointments", id, open)
			}
		}
		d.SpecialtyID = req.SpecialtyID
		d.LicenseNo = strings.TrimSpace(req.LicenseNo)
		d.Bio = req.Bio
		d.YearsOfExperience = req.YearsOfExperience
		if err := s.doctors.Update(ctx, d); err != nil {
			return err
		}
		d, err = s.doctors.GetByIDIncludingInactive(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", id.String()).Str("actor", actor.String()).Msg("doctor updated")
	return d, nil
}

// -- Doctors --

// GetDoctor returns an active doctor. Managers also see inactive ones.
func (s *Service) GetDoctor(ctx context.Context, actor Actor, id uuid.UUID) (*Doctor, error) {
	if actor.IsManager() {
		return s.doctors.GetByIDIncludingInactive(ctx, id)
	}
	return s.doctors.GetByID(ctx, id)
}

// ListDoctors returns active doctors. Managers may include inactive ones.
func (s *Service) ListDoctors(ctx context.Context, actor Actor, f DoctorFilter) ([]*Doctor, int, error) {
	if !actor.IsManager() {
		f.IncludeInactive = false
	}
	return s.doctors.List(ctx, f)
}

func (s *Service) ListSpecialties(ctx context.Context) ([]*Specialty, error) {
	return s.specialties.List(ctx)
}

// -- Patients --

// ListPatients is open to managers and doctors.
func (s *Service) ListPatients(ctx context.Context, actor Actor, f PatientFilter) ([]*Patient, int, error) {
	if !actor.IsManager() && !actor.IsDoctor() {
		return nil, 0, apperr.Forbidden("customers cannot list patients")
	}
	return s.patients.List(ctx, f)
}

// GetPatient lets a customer read their own profile and staff read any.
func (s *Service) GetPatient(ctx context.Context, actor Actor, id uuid.UUID) (*Patient, error) {
	if actor.IsCustomer() && !actor.OwnsPatient(id) {
		return nil, apperr.Forbidden("patient %s belongs to another customer", id)
	}
	return s.patients.GetByID(ctx, id)
}

// DeactivateDoctor soft-deletes a doctor. A doctor still holding pending or
// confirmed appointments cannot be deactivated. The doctor row is locked
// first so an assignment in flight either commits before the count or sees
// the doctor inactive.
func (s *Service) DeactivateDoctor(ctx context.Context, actor Actor, id uuid.UUID) (*Doctor, error) {
	if !actor.IsManager() {
		return nil, apperr.Forbidden("only managers can deactivate doctors")
	}
	var d *Doctor
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.doctors.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !d.IsActive() {
			return nil
		}
		open, err := s.workload.CountOpenByDoctor(ctx, id)
		if err != nil {
			return err
		}
		if open > 0 {
			return apperr.Conflict("doctor %s still has %d open appointments", id, open)
		}
		if !db.SoftDelete(d, s.now()) {
			return nil
		}
		return s.doctors.SetDeletedAt(ctx, id, d.DeletedAt)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", id.String()).Str("actor", actor.String()).Msg("doctor deactivated")
	return d, nil
}

func (s *Service) ReactivateDoctor(ctx context.Context, actor Actor, id uuid.UUID) (*Doctor, error) {
	if !actor.IsManager() {
		return nil, apperr.Forbidden("only managers can reactivate doctors")
	}
	var d *Doctor
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.doctors.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.IsActive() {
			return nil
		}
		d.Restore()
		return s.doctors.SetDeletedAt(ctx, id, nil)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", id.String()).Str("actor", actor.String()).Msg("doctor reactivated")
	return d, nil
}
