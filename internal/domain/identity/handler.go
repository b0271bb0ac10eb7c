package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	authed := auth.RequireAuthenticated()
	api.GET("/me", h.Me, authed)
	api.GET("/doctors", h.ListDoctors, authed)
	api.GET("/doctors/:id", h.GetDoctor, authed)

	admin := auth.RequireRole(auth.RoleAdministrator)
	api.POST("/admin/doctors", h.CreateDoctor, admin)
	api.GET("/admin/users", h.ListUsers, admin)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUsernameTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

// -- Auth --

func (h *Handler) Register(c echo.Context) error {
	var req Registration
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if _, err := h.svc.RegisterPatient(ctx, req); err != nil {
		return toHTTPError(err)
	}
	sess, err := h.svc.Login(ctx, req.Username, req.Password)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

type meResponse struct {
	User   *User   `json:"user"`
	Doctor *Doctor `json:"doctor,omitempty"`
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.svc.GetUser(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return toHTTPError(err)
	}
	resp := meResponse{User: u}
	if u.Role == auth.RoleDoctor {
		d, err := h.svc.DoctorForUser(ctx, u.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return toHTTPError(err)
		}
		resp.Doctor = d
	}
	return c.JSON(http.StatusOK, resp)
}

// -- Doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	items, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("department"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Administration --

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req NewDoctor
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.CreateDoctor(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListUsers(c echo.Context) error {
	pg := pagination.FromContext(c)
	role := auth.Role(c.QueryParam("role"))
	items, total, err := h.svc.ListUsers(c.Request().Context(), role, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg, c.Request().URL))
}
