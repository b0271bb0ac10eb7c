package scheduling

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/pkg/pagination"
)

type Handler struct {
	svc *Service
	loc *time.Location
}

func NewHandler(svc *Service, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{svc: svc, loc: loc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Middleware is attached per route: several handlers share the /api/v1
	// prefix and an empty-prefix group would claim its unmatched paths.
	authed := auth.RequireAuthenticated()
	api.GET("/doctors/:id/availability", h.ListAvailability, authed)
	api.POST("/bookings/check", h.CheckSlot, authed)
	api.GET("/bookings", h.ListBookings, authed)
	api.GET("/bookings/:id", h.GetBooking, authed)
	api.POST("/bookings/:id/cancel", h.CancelBooking, authed)
	api.POST("/bookings/parse-time", h.ParseTime, authed)

	api.POST("/bookings", h.CreateBooking, auth.RequireRole(auth.RolePatient))

	staff := auth.RequireRole(auth.RoleDoctor, auth.RoleAdministrator)
	api.POST("/availability", h.AddAvailability, staff)
	api.DELETE("/availability/:id", h.DeleteAvailability, staff)
	api.POST("/bookings/:id/transfer", h.TransferBooking, staff)

	api.POST("/admin/sweep", h.Sweep, auth.RequireRole(auth.RoleAdministrator))
}

// HTTPStatus maps a rejection code to its response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidDuration:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeDoctorUnavailable, CodeSlotTaken, CodeAlreadyTerminal:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// toHTTPError renders rejections as {"message": {"code", "message"}} and
// anything else as a 500.
func toHTTPError(err error) error {
	var rej *Rejection
	if errors.As(err, &rej) {
		return echo.NewHTTPError(HTTPStatus(rej.Code), map[string]string{
			"code":    string(rej.Code),
			"message": rej.Message,
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{UserID: auth.UserIDFromContext(ctx), Role: auth.RoleFromContext(ctx)}
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Availability --

func (h *Handler) ListAvailability(c echo.Context) error {
	doctorID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListAvailabilityWindows(c.Request().Context(), doctorID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type availabilityRequest struct {
	DoctorID  string `json:"doctor_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *Handler) AddAvailability(c echo.Context) error {
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	start, err := ParseTime(req.StartTime, h.loc)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	end, err := ParseTime(req.EndTime, h.loc)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	actor := actorFrom(c)
	var doctorID uuid.UUID
	if req.DoctorID != "" {
		if doctorID, err = uuid.Parse(req.DoctorID); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
	} else {
		d, err := h.svc.ProfileFor(ctx, actor)
		if err != nil {
			return toHTTPError(err)
		}
		doctorID = d.ID
	}

	w, err := h.svc.AddAvailabilityWindow(ctx, actor, doctorID, start, end)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAvailabilityWindow(c.Request().Context(), actorFrom(c), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Bookings --

type checkSlotRequest struct {
	DoctorID    string `json:"doctor_id"`
	BookingTime string `json:"booking_time"`
}

func (h *Handler) CheckSlot(c echo.Context) error {
	var req checkSlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	start, err := ParseTime(req.BookingTime, h.loc)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.CheckSlot(c.Request().Context(), doctorID, start)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type createBookingRequest struct {
	DoctorID         string `json:"doctor_id"`
	BookingTime      string `json:"booking_time"`
	EndTime          string `json:"end_time"`
	SessionType      string `json:"session_type"`
	IssueDescription string `json:"issue_description"`
}

func (h *Handler) CreateBooking(c echo.Context) error {
	var req createBookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	start, err := ParseTime(req.BookingTime, h.loc)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid booking time")
	}
	end := start.Add(BookingDuration)
	if req.EndTime != "" {
		if end, err = ParseTime(req.EndTime, h.loc); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	session, err := ParseSessionType(req.SessionType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	actor := actorFrom(c)
	b, err := h.svc.CreateBooking(c.Request().Context(), actor.UserID, doctorID, start, end, BookingDetails{
		SessionType:      session,
		IssueDescription: req.IssueDescription,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBookings(c echo.Context) error {
	ctx := c.Request().Context()
	f, err := h.svc.FilterFor(ctx, actorFrom(c))
	if err != nil {
		return toHTTPError(err)
	}

	if f.Scope == ScopeAll {
		if v := c.QueryParam("doctor_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
			}
			f.Scope, f.DoctorID = ScopeDoctor, id
		} else if v := c.QueryParam("patient_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
			}
			f.Scope, f.PatientID = ScopePatient, id
		}
	}
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		f.Status = st
	}

	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset
	items, total, err := h.svc.ListBookings(ctx, f)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg, c.Request().URL))
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.GetBooking(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelBooking(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CancelBooking(c.Request().Context(), id, actorFrom(c), req.Reason); err != nil {
		return toHTTPError(err)
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultCancelReason
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Booking cancelled: " + reason,
	})
}

type transferRequest struct {
	NewDoctorID string `json:"new_doctor_id"`
}

func (h *Handler) TransferBooking(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	newDoctorID, err := uuid.Parse(req.NewDoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid new_doctor_id")
	}
	if err := h.svc.TransferBooking(c.Request().Context(), id, newDoctorID, actorFrom(c)); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Transferred successfully",
	})
}

type parseTimeRequest struct {
	Spoken string `json:"spoken"`
}

func (h *Handler) ParseTime(c echo.Context) error {
	var req parseTimeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := ParseBookingTime(req.Spoken, h.svc.Now().In(h.loc))
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"ok": false})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "iso": t.Format(TimeLayout)})
}

func (h *Handler) Sweep(c echo.Context) error {
	n, err := h.svc.Sweeper().Run(c.Request().Context(), nil)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"advanced": n})
}
