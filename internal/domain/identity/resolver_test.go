package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hospitalops/hospital/internal/platform/auth"
)

func newResolverFixture() (*Resolver, *memUsers, *memPatients, *memDoctors) {
	users := &memUsers{rows: map[uuid.UUID]*User{}}
	patients := &memPatients{rows: map[uuid.UUID]*Patient{}}
	doctors := &memDoctors{rows: map[uuid.UUID]*Doctor{}}
	return NewResolver(users, patients, doctors), users, patients, doctors
}

func TestResolver_Resolve(t *testing.T) {
	r, users, patients, doctors := newResolverFixture()
	ctx := context.Background()

	customer := &User{ID: uuid.New(), Role: RoleCustomer}
	doctorUser := &User{ID: uuid.New(), Role: RoleDoctor}
	retired := &User{ID: uuid.New(), Role: RoleDoctor}
	manager := &User{ID: uuid.New(), Role: RoleManager}
	for _, u := range []*User{customer, doctorUser, retired, manager} {
		users.rows[u.ID] = u
	}
	patientID := uuid.New()
	patients.rows[patientID] = &Patient{ID: patientID, UserID: customer.ID}
	doctorID, retiredID := uuid.New(), uuid.New()
	gone := time.Now()
	doctors.rows[doctorID] = &Doctor{ID: doctorID, UserID: doctorUser.ID}
	doctors.rows[retiredID] = &Doctor{ID: retiredID, UserID: retired.ID, DeletedAt: &gone}

	a, err := r.Resolve(ctx, customer.ID)
	if err != nil || a.PatientID == nil || *a.PatientID != patientID || a.DoctorID != nil {
		t.Errorf("customer: unexpected actor %+v (%v)", a, err)
	}

	a, err = r.Resolve(ctx, doctorUser.ID)
	if err != nil || a.DoctorID == nil || *a.DoctorID != doctorID {
		t.Errorf("doctor: unexpected actor %+v (%v)", a, err)
	}

	a, err = r.Resolve(ctx, retired.ID)
	if err != nil || a.DoctorID != nil || a.Role != RoleDoctor {
		t.Errorf("inactive doctor should resolve without a doctor id, got %+v (%v)", a, err)
	}

	a, err = r.Resolve(ctx, manager.ID)
	if err != nil || !a.IsManager() || a.PatientID != nil || a.DoctorID != nil {
		t.Errorf("manager: unexpected actor %+v (%v)", a, err)
	}
}

func TestResolver_Middleware(t *testing.T) {
	r, users, _, _ := newResolverFixture()
	known := &User{ID: uuid.New(), Role: RoleManager}
	users.rows[known.ID] = known

	tests := []struct {
		name     string
		sub      string
		wantCode int
		wantRole Role
	}{
		{"anonymous passes through", "", http.StatusOK, ""},
		{"known user", known.ID.String(), http.StatusOK, RoleManager},
		{"malformed subject", "not-a-uuid", http.StatusUnauthorized, ""},
		{"unknown user", uuid.NewString(), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.sub != "" {
				req = req.WithContext(auth.WithIdentity(req.Context(), tt.sub, "Customer"))
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var got Actor
			h := r.Middleware()(func(c echo.Context) error {
				got, _ = ActorFrom(c.Request().Context())
				return c.NoContent(http.StatusOK)
			})
			err := h(c)

			if tt.wantCode != http.StatusOK {
				httpErr, ok := err.(*echo.HTTPError)
				if !ok || httpErr.Code != tt.wantCode {
					t.Fatalf("expected %d, got %v", tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Role != tt.wantRole {
				t.Errorf("expected role %q, got %q", tt.wantRole, got.Role)
			}
		})
	}
}

func TestRequireActor(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if _, err := RequireActor(c); err == nil {
		t.Fatal("expected 401 without an actor")
	}
}
