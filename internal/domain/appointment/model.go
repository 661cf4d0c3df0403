package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/db"
)

const (
	ReasonMinLen = 10
	ReasonMaxLen = 1000
)

// Appointment maps to the appointment table. Version increments on every
// write and guards updates against lost writes.
type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID    *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	SpecialtyID *uuid.UUID `db:"specialty_id" json:"specialty_id,omitempty"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Reason      string     `db:"reason" json:"reason"`
	Status      Status     `db:"status" json:"status"`
	Version     int        `db:"version" json:"version"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at" json:"-"`
}

func (a *Appointment) IsDeleted() bool          { return a.DeletedAt != nil }
func (a *Appointment) MarkDeleted(at time.Time) { a.DeletedAt = &at }

var _ db.SoftDeletable = (*Appointment)(nil)

type SpecialtySummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// View is the hydrated appointment returned by every service operation.
type View struct {
	ID                uuid.UUID               `json:"id"`
	Status            Status                  `json:"status"`
	StatusName        string                  `json:"status_name"`
	ScheduledAt       time.Time               `json:"scheduled_at"`
	Reason            string                  `json:"reason"`
	Patient           identity.PatientSummary `json:"patient"`
	Doctor            *identity.DoctorSummary `json:"doctor,omitempty"`
	Specialty         *SpecialtySummary       `json:"specialty,omitempty"`
	HasPrescription   bool                    `json:"has_prescription"`
	PermittedTriggers []Trigger               `json:"permitted_triggers"`
	Version           int                     `json:"version"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// finish fills the fields derived from Status.
func (v *View) finish() *View {
	v.StatusName = v.Status.String()
	v.PermittedTriggers = PermittedTriggers(v.Status)
	return v
}

type CreateRequest struct {
	DoctorID    *uuid.UUID `json:"doctor_id"`
	SpecialtyID *uuid.UUID `json:"specialty_id"`
	ScheduledAt time.Time  `json:"scheduled_at" validate:"required"`
	Reason      string     `json:"reason" validate:"required,min=10,max=1000"`
}

type AssignDoctorRequest struct {
	DoctorID uuid.UUID `json:"doctor_id" validate:"required"`
}

// ListFilter selects appointments for List. Visibility fields are set by the
// service from the actor, never from the request.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	Search    string
	SortBy    string
	Desc      bool
	Limit     int
	Offset    int
}

var sortColumns = map[string]string{
	"":             "a.scheduled_at",
	"scheduled_at": "a.scheduled_at",
	"created_at":   "a.created_at",
	"status":       "a.status",
}
