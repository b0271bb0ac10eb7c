package inbox

import (
	"net/http"
	"strconv"

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
	authed := auth.RequireAuthenticated()
	api.GET("/notifications", h.ListNotifications, authed)
	api.POST("/notifications/mark-read", h.MarkAllRead, authed)
}

type listResponse struct {
	pagination.Page[*Notification]
	Unread int `json:"unread"`
}

func (h *Handler) ListNotifications(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	unreadOnly, _ := strconv.ParseBool(c.QueryParam("unread"))

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListNotifications(ctx, userID, unreadOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	unread, err := h.svc.CountUnread(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, listResponse{
		Page:   pagination.NewPage(items, total, pg, c.Request().URL),
		Unread: unread,
	})
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := h.svc.MarkAllRead(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "marked": n})
}
