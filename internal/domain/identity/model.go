package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/hospitalops/hospital/internal/platform/db"
)

type Role string

const (
	RoleCustomer Role = "Customer"
	RoleDoctor   Role = "Doctor"
	RoleManager  Role = "Manager"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleDoctor, RoleManager:
		return true
	}
	return false
}

// User maps to the users table.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	FullName     string     `db:"full_name" json:"full_name"`
	Email        string     `db:"email" json:"email"`
	PhoneNumber  string     `db:"phone_number" json:"phone_number"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         Role       `db:"role" json:"role"`
	Avatar       *string    `db:"avatar" json:"avatar,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"-"`
}

func (u *User) IsDeleted() bool          { return u.DeletedAt != nil }
func (u *User) MarkDeleted(at time.Time) { u.DeletedAt = &at }

// Patient maps to the patient table. One per Customer user.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	InsuranceNo string     `db:"insurance_no" json:"insurance_no"`
	Address     string     `db:"address" json:"address"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at" json:"-"`

	// Joined from users on reads.
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

func (p *Patient) IsDeleted() bool          { return p.DeletedAt != nil }
func (p *Patient) MarkDeleted(at time.Time) { p.DeletedAt = &at }

// Doctor maps to the doctor table. A soft-deleted doctor is inactive and can
// be reactivated.
type Doctor struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	UserID            uuid.UUID  `db:"user_id" json:"user_id"`
	SpecialtyID       uuid.UUID  `db:"specialty_id" json:"specialty_id"`
	LicenseNo         string     `db:"license_no" json:"license_no"`
	Bio               *string    `db:"bio" json:"bio,omitempty"`
	YearsOfExperience int        `db:"years_of_experience" json:"years_of_experience"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt         *time.Time `db:"deleted_at" json:"-"`

	// Joined from users and specialty on reads.
	FullName      string `json:"full_name"`
	SpecialtyName string `json:"specialty_name"`
}

func (d *Doctor) IsDeleted() bool          { return d.DeletedAt != nil }
func (d *Doctor) MarkDeleted(at time.Time) { d.DeletedAt = &at }
func (d *Doctor) Restore()                 { d.DeletedAt = nil }

// IsActive is the logical view of the deletion marker.
func (d *Doctor) IsActive() bool { return d.DeletedAt == nil }

type DoctorFilter struct {
	IncludeInactive bool
	SpecialtyID     *uuid.UUID
	Search          string // matches full name
	Limit           int
	Offset          int
}

type PatientFilter struct {
	Search string // matches full name, email or insurance number
	Limit  int
	Offset int
}

type Specialty struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

func (s *Specialty) IsDeleted() bool          { return s.DeletedAt != nil }
func (s *Specialty) MarkDeleted(at time.Time) { s.DeletedAt = &at }
func (s *Specialty) Restore()                 { s.DeletedAt = nil }

var (
	_ db.SoftDeletable = (*User)(nil)
	_ db.SoftDeletable = (*Patient)(nil)
	_ db.Restorable    = (*Doctor)(nil)
	_ db.Restorable    = (*Specialty)(nil)
)

// PatientSummary is the patient block embedded in appointment and
// prescription views.
type PatientSummary struct {
	ID          uuid.UUID `json:"id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number"`
}

type DoctorSummary struct {
	ID            uuid.UUID `json:"id"`
	FullName      string    `json:"full_name"`
	SpecialtyID   uuid.UUID `json:"specialty_id"`
	SpecialtyName string    `json:"specialty_name"`
	IsActive      bool      `json:"is_active"`
}

// Actor is the resolved caller of a domain operation.
type Actor struct {
	UserID    uuid.UUID  `json:"user_id"`
	Role      Role       `json:"role"`
	DoctorID  *uuid.UUID `json:"doctor_id,omitempty"`
	PatientID *uuid.UUID `json:"patient_id,omitempty"`
}

func (a Actor) IsCustomer() bool { return a.Role == RoleCustomer }
func (a Actor) IsDoctor() bool   { return a.Role == RoleDoctor }
func (a Actor) IsManager() bool  { return a.Role == RoleManager }

// OwnsPatient reports whether the actor is the customer behind patientID.
func (a Actor) OwnsPatient(patientID uuid.UUID) bool {
	return a.Role == RoleCustomer && a.PatientID != nil && *a.PatientID == patientID
}

// IsDoctorOf reports whether the actor is the doctor with id doctorID. A nil
// doctorID never matches.
func (a Actor) IsDoctorOf(doctorID *uuid.UUID) bool {
	return a.Role == RoleDoctor && a.DoctorID != nil && doctorID != nil && *a.DoctorID == *doctorID
}

func (a Actor) String() string {
	return string(a.Role) + ":" + a.UserID.String()
}
