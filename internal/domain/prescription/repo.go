package prescription

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// ListByBooking returns newest first.
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*Prescription, error)
}
