package prescription

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/blobstore"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	authed := auth.RequireAuthenticated()
	api.POST("/bookings/:id/prescriptions", h.Upload, authed)
	api.GET("/bookings/:id/prescriptions", h.List, authed)
	api.GET("/prescriptions/:id/image", h.Image, authed)
}

func toHTTPError(err error) error {
	var rej *scheduling.Rejection
	switch {
	case errors.As(err, &rej):
		return echo.NewHTTPError(scheduling.HTTPStatus(rej.Code), map[string]string{
			"code":    string(rej.Code),
			"message": rej.Message,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrMissingImage), errors.Is(err, blobstore.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func actorFrom(c echo.Context) scheduling.Actor {
	ctx := c.Request().Context()
	return scheduling.Actor{UserID: auth.UserIDFromContext(ctx), Role: auth.RoleFromContext(ctx)}
}

func (h *Handler) Upload(c echo.Context) error {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	fh, err := c.FormFile("prescription")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded")
	}
	if fh.Size > blobstore.MaxFileSize {
		return toHTTPError(blobstore.ErrFileTooLarge)
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, blobstore.MaxFileSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.svc.Attach(c.Request().Context(), actorFrom(c), bookingID, Upload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Content:     content,
		ReportText:  c.FormValue("report_text"),
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) List(c echo.Context) error {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.List(c.Request().Context(), actorFrom(c), bookingID)
	if err != nil {
		return toHTTPError(err)
	}
	if items == nil {
		items = []*Prescription{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Image(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rc, meta, err := h.svc.OpenImage(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("inline", map[string]string{"filename": meta.FileName}))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}
