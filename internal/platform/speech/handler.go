package speech

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/blobstore"
)

const audioCategory = "speech"

type Handler struct {
	stt    Transcriber
	tts    Synthesizer
	blobs  blobstore.BlobStore
	logger zerolog.Logger
}

func NewHandler(stt Transcriber, tts Synthesizer, blobs blobstore.BlobStore, logger zerolog.Logger) *Handler {
	return &Handler{stt: stt, tts: tts, blobs: blobs, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	authed := auth.RequireAuthenticated()
	api.POST("/speech/transcribe", h.Transcribe, authed)
	api.POST("/speech/synthesize", h.Synthesize, authed)
	api.GET("/speech/audio/:id", h.Audio, authed)
}

func (h *Handler) Transcribe(c echo.Context) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	text, err := h.stt.Transcribe(c.Request().Context(), fh.Filename, f)
	if err != nil {
		h.logger.Error().Err(err).Msg("transcription failed")
		if errors.Is(err, ErrNotConfigured) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}

type synthesizeBody struct {
	Text string `json:"text"`
}

// Synthesize renders text, stores the audio and returns a URL to fetch it.
func (h *Handler) Synthesize(c echo.Context) error {
	var body synthesizeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No text provided")
	}

	ctx := c.Request().Context()
	audio, contentType, err := h.tts.Synthesize(ctx, text)
	if err != nil {
		h.logger.Error().Err(err).Msg("speech synthesis failed")
		if errors.Is(err, ErrNotConfigured) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	uid := auth.UserIDFromContext(ctx).String()
	meta, err := h.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    "speech.wav",
		ContentType: contentType,
		OwnerID:     uid,
		Category:    audioCategory,
		CreatedBy:   uid,
	}, bytes.NewReader(audio))
	if err != nil {
		h.logger.Error().Err(err).Msg("store synthesized audio")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store audio")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"audio_id":  meta.ID,
		"audio_url": "/api/v1/speech/audio/" + meta.ID,
	})
}

func (h *Handler) Audio(c echo.Context) error {
	ctx := c.Request().Context()
	rc, meta, err := h.blobs.Download(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "audio not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()

	if meta.Category != audioCategory || meta.OwnerID != auth.UserIDFromContext(ctx).String() {
		return echo.NewHTTPError(http.StatusNotFound, "audio not found")
	}
	return c.Stream(http.StatusOK, meta.ContentType, io.LimitReader(rc, MaxAudioSize))
}
