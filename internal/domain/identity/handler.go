package identity

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hospitalops/hospital/internal/platform/auth"
	"github.com/hospitalops/hospital/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the unauthenticated account endpoints and the
// guest doctor directory.
func (h *Handler) RegisterPublicRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.GET("/guest/doctors", h.ListDoctors)
	api.GET("/guest/doctors/:id", h.GetDoctor)
	api.GET("/guest/specialties", h.ListSpecialties)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me", h.Me)
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)
	api.GET("/specialties", h.ListSpecialties)
	api.GET("/patients/:id", h.GetPatient)

	api.GET("/patients", h.ListPatients, auth.RequireRole(string(RoleManager), string(RoleDoctor)))

	manager := api.Group("", auth.RequireRole(string(RoleManager)))
	manager.POST("/doctors", h.CreateDoctor)
	manager.PUT("/doctors/:id", h.UpdateDoctor)
	manager.PATCH("/doctors/:id/deactivate", h.DeactivateDoctor)
	manager.PATCH("/doctors/:id/reactivate", h.ReactivateDoctor)
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	resp, err := h.svc.Login(c.Request().Context(), req)
	if errors.Is(err, ErrInvalidCredentials) {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Me(c echo.Context) error {
	actor, err := RequireActor(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Me(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// ListDoctors serves both the guest directory and the authenticated listing.
// Guests resolve to no actor and only see active doctors.
func (h *Handler) ListDoctors(c echo.Context) error {
	actor, _ := ActorFrom(c.Request().Context())
	pg := pagination.FromContext(c)
	f := DoctorFilter{Search: c.QueryParam("search"), Limit: pg.Limit, Offset: pg.Offset}
	f.IncludeInactive, _ = strconv.ParseBool(c.QueryParam("include_inactive"))
	if v := c.QueryParam("specialty_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid specialty_id")
		}
		f.SpecialtyID = &id
	}
	items, total, err := h.svc.ListDoctors(c.Request().Context(), actor, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	actor, _ := ActorFrom(c.Request().Context())
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	actor, err := RequireActor(c)
	if err != nil {
		return err
	}
	var req CreateDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	d, err := h.svc.CreateDoctor(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	actor, err := RequireActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req UpdateDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	d, err := h.svc.UpdateDoctor(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListPatients(c echo.Context) error {
	actor, err := RequireActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), actor,
		PatientFilter{Search: c.QueryParam("search"), Limit: pg.Limit, Offset: pg.Offset})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPatient(c echo.Context) error {
	actor, err := RequireActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListSpecialties(c echo.Context) error {
	items, err := h.svc.ListSpecialties(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeactivateDoctor(c echo.Context) error {
	return h.setDoctorActive(c, false)
}

func (h *Handler) ReactivateDoctor(c echo.Context) error {
	return h.setDoctorActive(c, true)
}

func (h *Handler) setDoctorActive(c echo.Context, active bool) error {
	actor, err := RequireActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var d *Doctor
	if active {
		d, err = h.svc.ReactivateDoctor(c.Request().Context(), actor, id)
	} else {
		d, err = h.svc.DeactivateDoctor(c.Request().Context(), actor, id)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}
