package prescription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/assistant"
	"github.com/medibook/medibook/internal/platform/blobstore"
)

const (
	blobCategory   = "prescription"
	analysisPrompt = "Summarize and explain this medical prescription text clearly: "
	// maxReportText bounds the text forwarded to the assistant.
	maxReportText = 4000
)

// BookingAccess resolves a booking the actor is allowed to see.
type BookingAccess interface {
	GetBooking(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Booking, error)
}

type Service struct {
	repo     Repository
	bookings BookingAccess
	blobs    blobstore.BlobStore
	analyzer assistant.TextGenerator
	logger   zerolog.Logger
}

// NewService wires prescription storage. A nil analyzer skips analysis.
func NewService(repo Repository, bookings BookingAccess, blobs blobstore.BlobStore, analyzer assistant.TextGenerator, logger zerolog.Logger) *Service {
	return &Service{repo: repo, bookings: bookings, blobs: blobs, analyzer: analyzer, logger: logger}
}

// Result is a stored prescription plus the analysis outcome.
type Result struct {
	*Prescription
	AnalysisError string `json:"analysis_error,omitempty"`
}

// Attach stores the file, analyses its text and records the prescription
// against the booking. Analysis failures never fail the upload.
func (s *Service) Attach(ctx context.Context, actor scheduling.Actor, bookingID uuid.UUID, up Upload) (*Result, error) {
	if len(up.Content) == 0 {
		return nil, ErrMissingImage
	}
	b, err := s.bookings.GetBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    up.FileName,
		ContentType: up.ContentType,
		OwnerID:     b.ID.String(),
		Category:    blobCategory,
		CreatedBy:   actor.UserID.String(),
	}, bytes.NewReader(up.Content))
	if err != nil {
		return nil, fmt.Errorf("store prescription file: %w", err)
	}

	p := &Prescription{
		BookingID:  b.ID,
		DoctorID:   b.DoctorID,
		UploadedBy: actor.UserID,
		ImageID:    &meta.ID,
	}
	if text := reportText(up, meta.ContentType); text != "" {
		p.ReportText = &text
	}

	res := &Result{Prescription: p}
	if p.ReportText != nil && s.analyzer != nil {
		analysis, err := s.analyzer.GenerateText(ctx, assistant.AnalyzerPrompt, analysisPrompt+*p.ReportText)
		if err != nil {
			s.logger.Warn().Err(err).Str("booking_id", b.ID.String()).Msg("prescription analysis failed")
			res.AnalysisError = "assistant unavailable"
		} else {
			p.Analysis = &analysis
		}
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if delErr := s.blobs.Delete(ctx, meta.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("blob_id", meta.ID).Msg("orphaned prescription blob")
		}
		return nil, fmt.Errorf("create prescription: %w", err)
	}
	s.logger.Info().
		Str("prescription_id", p.ID.String()).
		Str("booking_id", b.ID.String()).
		Bool("analysed", p.Analysis != nil).
		Msg("prescription attached")
	return res, nil
}

// reportText prefers text typed by the uploader and falls back to the body
// of a plain-text upload.
func reportText(up Upload, contentType string) string {
	text := strings.TrimSpace(up.ReportText)
	if text == "" && contentType == "text/plain" && utf8.Valid(up.Content) {
		text = strings.TrimSpace(string(up.Content))
	}
	if len(text) > maxReportText {
		text = text[:maxReportText]
		for !utf8.ValidString(text) {
			text = text[:len(text)-1]
		}
	}
	return text
}

func (s *Service) List(ctx context.Context, actor scheduling.Actor, bookingID uuid.UUID) ([]*Prescription, error) {
	if _, err := s.bookings.GetBooking(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	return s.repo.ListByBooking(ctx, bookingID)
}

// OpenImage streams the stored file of a prescription the actor may see.
func (s *Service) OpenImage(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (io.ReadCloser, *blobstore.BlobMetadata, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.bookings.GetBooking(ctx, actor, p.BookingID); err != nil {
		return nil, nil, err
	}
	if p.ImageID == nil {
		return nil, nil, ErrNotFound
	}
	rc, meta, err := s.blobs.Download(ctx, *p.ImageID)
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("download prescription file: %w", err)
	}
	return rc, meta, nil
}
