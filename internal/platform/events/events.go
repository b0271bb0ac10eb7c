// Package events fans booking lifecycle changes out to other systems. Events
// are published after the owning transaction commits; a publish failure never
// undoes a committed booking change.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	BookingCreated       Type = "booking.created"
	BookingCancelled     Type = "booking.cancelled"
	BookingTransferred   Type = "booking.transferred"
	BookingStatusChanged Type = "booking.status_changed"
)

type Event struct {
	ID               uuid.UUID  `json:"id"`
	Type             Type       `json:"type"`
	BookingID        uuid.UUID  `json:"booking_id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	DoctorID         uuid.UUID  `json:"doctor_id"`
	PreviousDoctorID *uuid.UUID `json:"previous_doctor_id,omitempty"`
	Status           string     `json:"status"`
	StartTime        time.Time  `json:"start_time"`
	OccurredAt       time.Time  `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
