package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/db"
)

const (
	NotesMaxLen       = 2000
	InstructionMaxLen = 500
)

// Medicine is reference data; prices are in cents.
type Medicine struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description *string    `db:"description" json:"description,omitempty"`
	PriceCents  int64      `db:"price_cents" json:"price_cents"`
	DeletedAt   *time.Time `db:"deleted_at" json:"-"`
}

// Prescription maps to the prescription table. At most one per appointment.
type Prescription struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AppointmentID uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	TotalCents    int64      `db:"total_cents" json:"total_cents"`
	Lines         []Line     `json:"lines"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at" json:"-"`
}

func (p *Prescription) IsDeleted() bool          { return p.DeletedAt != nil }
func (p *Prescription) MarkDeleted(at time.Time) { p.DeletedAt = &at }

var _ db.SoftDeletable = (*Prescription)(nil)

// Line is one medicine on a prescription. UnitPriceCents is the medicine
// price at issue time and does not follow later price changes.
type Line struct {
	ID               uuid.UUID `db:"id" json:"id"`
	MedicineID       uuid.UUID `db:"medicine_id" json:"medicine_id"`
	MedicineName     string    `json:"medicine_name"`
	Quantity         int       `db:"quantity" json:"quantity"`
	UnitPriceCents   int64     `db:"unit_price_cents" json:"unit_price_cents"`
	UsageInstruction *string   `db:"usage_instruction" json:"usage_instruction,omitempty"`
}

func (l Line) TotalCents() int64 { return l.UnitPriceCents * int64(l.Quantity) }

// Total sums the line totals.
func Total(lines []Line) int64 {
	var sum int64
	for _, l := range lines {
		sum += l.TotalCents()
	}
	return sum
}

type AppointmentInfo struct {
	ID          uuid.UUID `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Reason      string    `json:"reason"`
}

// View is a prescription joined with its appointment, patient and doctor.
type View struct {
	Prescription
	Appointment AppointmentInfo         `json:"appointment"`
	Patient     identity.PatientSummary `json:"patient"`
	Doctor      identity.DoctorSummary  `json:"doctor"`
}

type LineRequest struct {
	MedicineID       uuid.UUID `json:"medicine_id" validate:"required"`
	Quantity         int       `json:"quantity" validate:"required,gte=1"`
	UsageInstruction string    `json:"usage_instruction" validate:"max=500"`
}

type CreateRequest struct {
	Notes string        `json:"notes" validate:"max=2000"`
	Lines []LineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ListFilter visibility fields are set by the service from the actor.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Search    string
	SortBy    string
	Desc      bool
	Limit     int
	Offset    int
}

var sortColumns = map[string]string{
	"":           "rx.created_at",
	"created_at": "rx.created_at",
	"patient":    "pu.full_name",
	"doctor":     "du.full_name",
}
