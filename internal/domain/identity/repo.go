package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	EmailOrPhoneTaken(ctx context.Context, email, phone string) (bool, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	List(ctx context.Context, f PatientFilter) ([]*Patient, int, error)
}

// DoctorRepository reads exclude inactive doctors unless the method name or
// filter says otherwise. The locking reads include inactive doctors and must
// run inside a transaction.
type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	Update(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByIDIncludingInactive(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	// GetForShare blocks deactivation until the caller's transaction ends.
	GetForShare(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// GetForUpdate waits for pending assignments to the doctor to finish.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error)
	SetDeletedAt(ctx context.Context, id uuid.UUID, at *time.Time) error
}

type SpecialtyRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Specialty, error)
	List(ctx context.Context) ([]*Specialty, error)
}
