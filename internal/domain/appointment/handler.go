package appointment

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/auth"
	"github.com/hospitalops/hospital/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.List)
	api.GET("/appointments/:id", h.Get)
	api.PATCH("/appointments/:id/confirm", h.Confirm)
	api.PATCH("/appointments/:id/cancel", h.Cancel)
	api.PATCH("/appointments/:id/complete", h.Complete)
	api.DELETE("/appointments/:id", h.Delete)

	api.POST("/appointments", h.Create, auth.RequireRole(string(identity.RoleCustomer)))
	api.PATCH("/appointments/:id/assign-doctor", h.AssignDoctor, auth.RequireRole(string(identity.RoleManager)))
}

func (h *Handler) Create(c echo.Context) error {
	actor, err := identity.RequireActor(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	v, err := h.svc.Create(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, v)
}

func (h *Handler) Get(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, v)
}

func (h *Handler) List(c echo.Context) error {
	actor, err := identity.RequireActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ListFilter{
		Search: strings.TrimSpace(c.QueryParam("q")),
		SortBy: c.QueryParam("sort"),
		Desc:   strings.EqualFold(c.QueryParam("order"), "desc"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	if raw := c.QueryParam("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			return err
		}
		f.Status = &st
	}
	items, total, err := h.svc.List(c.Request().Context(), actor, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AssignDoctor(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req AssignDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	version, err := expectedVersion(c)
	if err != nil {
		return err
	}
	v, err := h.svc.AssignDoctor(c.Request().Context(), actor, id, req, version)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, v)
}

func (h *Handler) Confirm(c echo.Context) error  { return h.transition(c, h.svc.Confirm) }
func (h *Handler) Cancel(c echo.Context) error   { return h.transition(c, h.svc.Cancel) }
func (h *Handler) Complete(c echo.Context) error { return h.transition(c, h.svc.Complete) }

type transitionFunc func(ctx context.Context, actor identity.Actor, id uuid.UUID, expectedVersion int) (*View, error)

func (h *Handler) transition(c echo.Context, fn transitionFunc) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	version, err := expectedVersion(c)
	if err != nil {
		return err
	}
	v, err := fn(c.Request().Context(), actor, id, version)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, v)
}

func (h *Handler) Delete(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	version, err := expectedVersion(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id, version); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func actorAndID(c echo.Context) (identity.Actor, uuid.UUID, error) {
	actor, err := identity.RequireActor(c)
	if err != nil {
		return identity.Actor{}, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return identity.Actor{}, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return actor, id, nil
}

// expectedVersion reads the optimistic concurrency token from If-Match (as
// returned in ETag) or the version query parameter. Zero means unchecked.
func expectedVersion(c echo.Context) (int, error) {
	raw := c.Request().Header.Get("If-Match")
	if raw == "" {
		raw = c.QueryParam("version")
	}
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid version")
	}
	return n, nil
}

func respond(c echo.Context, code int, v *View) error {
	c.Response().Header().Set("ETag", strconv.Quote(strconv.Itoa(v.Version)))
	return c.JSON(code, v)
}
