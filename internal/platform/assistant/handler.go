package assistant

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
)

// MaxMessageLength bounds chat input.
const MaxMessageLength = 2000

type Handler struct {
	gen    TextGenerator
	logger zerolog.Logger
}

func NewHandler(gen TextGenerator, logger zerolog.Logger) *Handler {
	return &Handler{gen: gen, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/assistant/chat", h.Chat, auth.RequireAuthenticated())
}

type chatBody struct {
	Message string `json:"message"`
}

func (h *Handler) Chat(c echo.Context) error {
	var body chatBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg := strings.TrimSpace(body.Message)
	if msg == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if len(msg) > MaxMessageLength {
		return echo.NewHTTPError(http.StatusBadRequest, "message too long")
	}

	reply, err := h.gen.GenerateText(c.Request().Context(), HospitalPrompt, msg)
	if err != nil {
		h.logger.Warn().Err(err).Msg("assistant chat failed")
		if errors.Is(err, ErrUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, ErrUnavailable.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"reply": reply})
}
