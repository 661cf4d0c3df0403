package prescription

import (
	"context"

	"github.com/google/uuid"

	"github.com/hospitalops/hospital/internal/domain/appointment"
)

type Repository interface {
	// Create inserts the prescription and its lines. A second prescription
	// for the same appointment yields apperr.ErrConflict.
	Create(ctx context.Context, p *Prescription) error
	ExistsForAppointment(ctx context.Context, appointmentID uuid.UUID) (bool, error)
	GetView(ctx context.Context, id uuid.UUID) (*View, error)
	GetViewByAppointment(ctx context.Context, appointmentID uuid.UUID) (*View, error)
	List(ctx context.Context, f ListFilter) ([]*View, int, error)
}

type MedicineRepository interface {
	// GetByIDs returns the live medicines among ids, keyed by id.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Medicine, error)
}

// AppointmentLocker is satisfied by appointment.Repository.
type AppointmentLocker interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}
