package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingDuration is the fixed length of every appointment.
const BookingDuration = 30 * time.Minute

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBooked, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the booking occupies its doctor's timeline.
func (s Status) Active() bool {
	return s == StatusBooked || s == StatusOngoing
}

// ActiveStatuses are the statuses considered by conflict detection.
var ActiveStatuses = []Status{StatusBooked, StatusOngoing}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusBooked:
		return to == StatusOngoing || to == StatusCompleted || to == StatusCancelled
	case StatusOngoing:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

type SessionType string

const (
	SessionOffline SessionType = "offline"
	SessionOnline  SessionType = "online"
)

// ParseSessionType defaults to offline when s is empty.
func ParseSessionType(s string) (SessionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(SessionOffline):
		return SessionOffline, nil
	case string(SessionOnline):
		return SessionOnline, nil
	default:
		return "", fmt.Errorf("invalid session_type %q", s)
	}
}

// AvailabilityWindow is a doctor-declared free period [StartTime, EndTime).
type AvailabilityWindow struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Covers reports whether [start, end) lies entirely inside the window.
func (w *AvailabilityWindow) Covers(start, end time.Time) bool {
	return !w.StartTime.After(start) && !w.EndTime.Before(end)
}

type Booking struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	PatientID        uuid.UUID   `db:"patient_id" json:"patient_id"`
	DoctorID         uuid.UUID   `db:"doctor_id" json:"doctor_id"`
	StartTime        time.Time   `db:"start_time" json:"start_time"`
	EndTime          time.Time   `db:"end_time" json:"end_time"`
	SessionType      SessionType `db:"session_type" json:"session_type"`
	IssueDescription string      `db:"issue_description" json:"issue_description,omitempty"`
	Status           Status      `db:"status" json:"status"`
	CancelReason     *string     `db:"cancel_reason" json:"cancel_reason,omitempty"`
	TokenNumber      int         `db:"token_number" json:"token_number"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

// Overlaps applies the half-open rule: touching endpoints do not overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}

// NextStatus is the status the sweeper assigns at now. Cancelled and
// completed bookings are returned unchanged.
func (b *Booking) NextStatus(now time.Time) Status {
	if !b.Status.Active() {
		return b.Status
	}
	if !b.EndTime.After(now) {
		return StatusCompleted
	}
	if b.Status == StatusBooked && !b.StartTime.After(now) {
		return StatusOngoing
	}
	return b.Status
}

// BookingDetails carries the patient-supplied notes of a booking.
type BookingDetails struct {
	SessionType      SessionType
	IssueDescription string
}

// DoctorRef is the slice of a doctor profile the scheduler needs.
type DoctorRef struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string
}

// Scope selects which bookings a listing returns.
type Scope int

const (
	ScopeAll Scope = iota
	ScopePatient
	ScopeDoctor
)

// ListFilter selects bookings. Patient and all scopes order by start time
// descending; doctor scope orders ascending.
type ListFilter struct {
	Scope     Scope
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Status    Status
	Limit     int
	Offset    int
}

// Descending reports the sort direction for the filter's scope.
func (f ListFilter) Descending() bool {
	return f.Scope != ScopeDoctor
}

// SlotCheck is the advisory answer to CheckSlot.
type SlotCheck struct {
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}
