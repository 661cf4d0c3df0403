package prescription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hospitalops/hospital/internal/domain/appointment"
	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/middleware"
	"github.com/hospitalops/hospital/pkg/pagination"
)

func newTestContext(method, target, body string, actor *identity.Actor) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = middleware.NewValidator()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if actor != nil {
		req = req.WithContext(identity.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_CreateAndGet(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	apptID := f.visit(f.alicePatient, f.houseID, appointment.StatusCompleted)

	body := fmt.Sprintf(`{"notes":"rest","lines":[{"medicine_id":%q,"quantity":2}]}`, f.aspirin)
	c, rec := newTestContext(http.MethodPost, "/", body, &f.drHouse)
	c.SetParamNames("id")
	c.SetParamValues(apptID.String())
	if err := h.Create(c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created View
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.TotalCents != 500 {
		t.Errorf("expected total 500, got %d", created.TotalCents)
	}

	c, rec = newTestContext(http.MethodGet, "/", "", &f.alice)
	c.SetParamNames("id")
	c.SetParamValues(apptID.String())
	if err := h.GetByAppointment(c); err != nil {
		t.Fatalf("GetByAppointment: %v", err)
	}
	if !strings.Contains(rec.Body.String(), created.ID.String()) {
		t.Errorf("expected prescription %s in %s", created.ID, rec.Body.String())
	}
}

func TestHandler_CreateRejectsEmptyLines(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	apptID := f.visit(f.alicePatient, f.houseID, appointment.StatusCompleted)

	c, _ := newTestContext(http.MethodPost, "/", `{"lines":[]}`, &f.drHouse)
	c.SetParamNames("id")
	c.SetParamValues(apptID.String())
	if err := h.Create(c); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestHandler_InvalidID(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	c, _ := newTestContext(http.MethodGet, "/", "", &f.alice)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	err := h.Get(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_List(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	apptID := f.visit(f.alicePatient, f.houseID, appointment.StatusCompleted)
	if _, err := f.svc.Create(context.Background(), f.drHouse, apptID, f.request()); err != nil {
		t.Fatal(err)
	}

	c, rec := newTestContext(http.MethodGet, "/api/v1/prescriptions", "", &f.manager)
	if err := h.List(c); err != nil {
		t.Fatalf("List: %v", err)
	}
	var resp pagination.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("expected total 1, got %d", resp.Total)
	}
}
