package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Detector answers overlap questions over a doctor's active bookings.
type Detector struct {
	bookings BookingRepository
}

func NewDetector(bookings BookingRepository) *Detector {
	return &Detector{bookings: bookings}
}

// HasConflict reports whether an active booking of doctorID other than
// exclude overlaps [start, end).
func (d *Detector) HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	active, err := d.bookings.ListActiveByDoctor(ctx, doctorID)
	if err != nil {
		return false, fmt.Errorf("list active bookings: %w", err)
	}
	return firstConflict(active, start, end, exclude) != nil, nil
}

func firstConflict(bookings []*Booking, start, end time.Time, exclude *uuid.UUID) *Booking {
	for _, b := range bookings {
		if exclude != nil && b.ID == *exclude {
			continue
		}
		if b.Status.Active() && b.Overlaps(start, end) {
			return b
		}
	}
	return nil
}
