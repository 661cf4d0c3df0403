package identity

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hospitalops/hospital/internal/platform/apperr"
	"github.com/hospitalops/hospital/internal/platform/auth"
)

type actorKey struct{}

// WithActor stores the resolved actor on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// Resolver turns an authenticated user id into an Actor by looking up the
// user's role and the doctor or patient profile bound to it.
type Resolver struct {
	users    UserRepository
	patients PatientRepository
	doctors  DoctorRepository
}

func NewResolver(users UserRepository, patients PatientRepository, doctors DoctorRepository) *Resolver {
	return &Resolver{users: users, patients: patients, doctors: doctors}
}

// Resolve loads the actor for userID. The stored role is authoritative; a
// doctor whose profile is inactive resolves without a DoctorID and is denied
// every doctor-bound action.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (Actor, error) {
	u, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return Actor{}, err
	}
	a := Actor{UserID: u.ID, Role: u.Role}

	switch u.Role {
	case RoleCustomer:
		p, err := r.patients.GetByUserID(ctx, u.ID)
		if err != nil && !apperr.IsNotFound(err) {
			return Actor{}, err
		}
		if p != nil {
			a.PatientID = &p.ID
		}
	case RoleDoctor:
		d, err := r.doctors.GetByUserID(ctx, u.ID)
		if err != nil && !apperr.IsNotFound(err) {
			return Actor{}, err
		}
		if d != nil {
			a.DoctorID = &d.ID
		}
	}
	return a, nil
}

// Middleware resolves the actor for requests that passed JWT verification.
// Requests without an authenticated user pass through untouched.
func (r *Resolver) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			sub := auth.UserIDFromContext(ctx)
			if sub == "" {
				return next(c)
			}
			userID, err := uuid.Parse(sub)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}
			actor, err := r.Resolve(ctx, userID)
			if apperr.IsNotFound(err) {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
			}
			if err != nil {
				return err
			}
			c.SetRequest(c.Request().WithContext(WithActor(ctx, actor)))
			return next(c)
		}
	}
}

// RequireActor returns the actor resolved for the request or a 401.
func RequireActor(c echo.Context) (Actor, error) {
	a, ok := ActorFrom(c.Request().Context())
	if !ok {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return a, nil
}
