package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type WindowRepository interface {
	Create(ctx context.Context, w *AvailabilityWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error)
}

type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	// ListActiveByDoctor returns the doctor's booked and ongoing bookings.
	ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Booking, error)
	// NextToken returns the next queue number for the doctor on the given day.
	NextToken(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
	// UpdateStatus moves id from one status to another and reports whether
	// the row was still in the expected status.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (bool, error)
	// Reassign moves an active booking between doctors, compare-and-set on
	// the current doctor.
	Reassign(ctx context.Context, id, fromDoctor, toDoctor uuid.UUID, token int) (bool, error)
	List(ctx context.Context, f ListFilter) ([]*Booking, int, error)
	// ListDue returns active bookings that started at or before now,
	// optionally limited to one doctor.
	ListDue(ctx context.Context, doctorID *uuid.UUID, now time.Time) ([]*Booking, error)
	// LockDoctors serializes writers on the doctors' timelines for the
	// remainder of the surrounding transaction.
	LockDoctors(ctx context.Context, doctorIDs ...uuid.UUID) error
}
