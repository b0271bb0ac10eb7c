package prescription

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("prescription not found")
	ErrMissingImage = errors.New("prescription file is required")
)

// Prescription attaches a scanned or typed prescription to a booking. The
// file lives in the blob store and is referenced by ImageID only.
type Prescription struct {
	ID         uuid.UUID `db:"id" json:"id"`
	BookingID  uuid.UUID `db:"booking_id" json:"booking_id"`
	DoctorID   uuid.UUID `db:"doctor_id" json:"doctor_id"`
	UploadedBy uuid.UUID `db:"uploaded_by" json:"uploaded_by"`
	ReportText *string   `db:"report_text" json:"report_text,omitempty"`
	ImageID    *string   `db:"image_id" json:"image_id,omitempty"`
	Analysis   *string   `db:"analysis" json:"analysis,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Upload is one prescription file plus optional transcribed text.
type Upload struct {
	FileName    string
	ContentType string
	Content     []byte
	ReportText  string
}
