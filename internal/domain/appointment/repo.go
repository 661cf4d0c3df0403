package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hospitalops/hospital/internal/domain/identity"
)

// Repository reads exclude soft-deleted appointments.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes status, doctor and timestamps when the stored version
	// still equals a.Version, then advances a.Version. A stale version
	// yields apperr.ErrConflict.
	Update(ctx context.Context, a *Appointment) error
	SoftDelete(ctx context.Context, a *Appointment, at time.Time) error
	GetView(ctx context.Context, id uuid.UUID) (*View, error)
	List(ctx context.Context, f ListFilter) ([]*View, int, error)
	CountOpenByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
}

// Lookups over identity data needed by the lifecycle rules. The identity
// repositories satisfy them.
type PatientLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// DoctorLookup.GetForShare holds a shared lock on the doctor row until the
// transaction ends, so a concurrent deactivation waits for the assignment.
type DoctorLookup interface {
	GetForShare(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
}

type SpecialtyLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Specialty, error)
}
