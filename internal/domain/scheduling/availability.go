package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Index answers coverage questions over a doctor's availability windows.
type Index struct {
	windows WindowRepository
}

func NewIndex(windows WindowRepository) *Index {
	return &Index{windows: windows}
}

// IsCovered reports whether some window of doctorID contains [start, end).
func (x *Index) IsCovered(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	windows, err := x.windows.ListByDoctor(ctx, doctorID)
	if err != nil {
		return false, fmt.Errorf("list availability: %w", err)
	}
	return anyCovers(windows, start, end), nil
}

func anyCovers(windows []*AvailabilityWindow, start, end time.Time) bool {
	for _, w := range windows {
		if w.Covers(start, end) {
			return true
		}
	}
	return false
}
