package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/platform/events"
)

// Transition records one status change applied by the sweeper.
type Transition struct {
	BookingID uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	From      Status
	To        Status
}

// Sweeper advances booked and ongoing bookings by the clock:
// booked -> ongoing once started, and -> completed once ended. It never
// touches cancelled bookings and is idempotent for a fixed now.
type Sweeper struct {
	svc *Service
}

// Run sweeps at the current time. A nil doctorID sweeps every doctor.
func (w *Sweeper) Run(ctx context.Context, doctorID *uuid.UUID) (int, error) {
	return w.RunAt(ctx, doctorID, w.svc.now())
}

// RunAt sweeps against the given instant and returns the number of bookings
// whose status changed.
func (w *Sweeper) RunAt(ctx context.Context, doctorID *uuid.UUID, now time.Time) (int, error) {
	started := time.Now()
	transitions, err := w.runFor(ctx, doctorID, now)
	w.svc.metrics.ObserveSweep(time.Since(started))
	w.report(ctx, transitions)
	return len(transitions), err
}

// runFor applies compare-and-set transitions so that a concurrent cancel
// always wins over the sweeper.
func (w *Sweeper) runFor(ctx context.Context, doctorID *uuid.UUID, now time.Time) ([]Transition, error) {
	due, err := w.svc.bookings.ListDue(ctx, doctorID, now)
	if err != nil {
		return nil, fmt.Errorf("list due bookings: %w", err)
	}

	var transitions []Transition
	for _, b := range due {
		next := b.NextStatus(now)
		if next == b.Status || !CanTransition(b.Status, next) {
			continue
		}
		ok, err := w.svc.bookings.UpdateStatus(ctx, b.ID, b.Status, next, nil)
		if err != nil {
			return transitions, fmt.Errorf("advance booking %s: %w", b.ID, err)
		}
		if !ok {
			continue
		}
		transitions = append(transitions, Transition{
			BookingID: b.ID,
			PatientID: b.PatientID,
			DoctorID:  b.DoctorID,
			StartTime: b.StartTime,
			From:      b.Status,
			To:        next,
		})
	}
	return transitions, nil
}

func (w *Sweeper) report(ctx context.Context, transitions []Transition) {
	for _, t := range transitions {
		w.svc.metrics.ObserveTransition(string(t.From), string(t.To))
		w.svc.logger.Debug().
			Str("booking_id", t.BookingID.String()).
			Str("from", string(t.From)).
			Str("to", string(t.To)).
			Msg("booking status advanced")
		w.svc.publish(ctx, events.Event{
			Type:      events.BookingStatusChanged,
			BookingID: t.BookingID,
			PatientID: t.PatientID,
			DoctorID:  t.DoctorID,
			Status:    string(t.To),
			StartTime: t.StartTime,
		})
	}
}

// Start sweeps every interval until ctx is cancelled.
func (w *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.Run(ctx, nil)
			if err != nil {
				w.svc.logger.Error().Err(err).Msg("booking sweep failed")
				continue
			}
			if n > 0 {
				w.svc.logger.Info().Int("advanced", n).Msg("booking sweep")
			}
		}
	}
}
