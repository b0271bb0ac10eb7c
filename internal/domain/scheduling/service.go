package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/db"
	"github.com/medibook/medibook/internal/platform/events"
	"github.com/medibook/medibook/internal/platform/lock"
	"github.com/medibook/medibook/internal/platform/metrics"
)

const (
	defaultCancelReason = "No reason provided"

	TitleCancelled   = "Booking Cancelled"
	TitleTransferred = "Booking Transferred"

	// maxRelock bounds how often an operation re-locks after the booking
	// moved to another doctor between lookup and lock.
	maxRelock = 3
)

var errRelock = errors.New("booking doctor changed while locking")

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	UserID uuid.UUID
	Role   auth.Role
}

// DoctorDirectory resolves doctor profiles. Both methods return ErrNotFound
// when no profile exists.
type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*DoctorRef, error)
	DoctorForUser(ctx context.Context, userID uuid.UUID) (*DoctorRef, error)
}

// Notifier appends a notification for a user. It is called inside the
// lifecycle transaction.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, title, message string) error
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option              { return func(s *Service) { s.locker = l } }
func WithTxRunner(r db.TxRunner) Option            { return func(s *Service) { s.tx = r } }
func WithPublisher(p events.Publisher) Option      { return func(s *Service) { s.publisher = p } }
func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l zerolog.Logger) Option           { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option        { return func(s *Service) { s.now = now } }

// Service is the booking lifecycle manager. It is the only writer of
// booking state.
type Service struct {
	windows   WindowRepository
	bookings  BookingRepository
	doctors   DoctorDirectory
	notifier  Notifier
	index     *Index
	detector  *Detector
	sweeper   *Sweeper
	locker    lock.Locker
	tx        db.TxRunner
	publisher events.Publisher
	metrics   *metrics.BookingMetrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(windows WindowRepository, bookings BookingRepository, doctors DoctorDirectory, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		windows:   windows,
		bookings:  bookings,
		doctors:   doctors,
		notifier:  notifier,
		index:     NewIndex(windows),
		detector:  NewDetector(bookings),
		locker:    lock.NewLocal(),
		tx:        db.NopTxRunner{},
		publisher: events.NopPublisher{},
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sweeper = &Sweeper{svc: s}
	return s
}

// Sweeper returns the status advancement sweeper bound to this service.
func (s *Service) Sweeper() *Sweeper { return s.sweeper }

func (s *Service) Index() *Index { return s.index }

func (s *Service) Detector() *Detector { return s.detector }

// Now reads the service clock.
func (s *Service) Now() time.Time { return s.now() }

func doctorKeys(ids ...uuid.UUID) []string {
	keys := make([]string, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			keys = append(keys, "doctor:"+id.String())
		}
	}
	sort.Strings(keys)
	return keys
}

// critical runs fn while holding the keyed lock for every doctor and inside
// one transaction that also holds the matching advisory locks. The doctors'
// bookings are swept under the lock first so fn decides on current statuses.
func (s *Service) critical(ctx context.Context, op string, doctorIDs []uuid.UUID, fn func(ctx context.Context) error) error {
	started := time.Now()
	release, err := s.locker.Lock(ctx, doctorKeys(doctorIDs...)...)
	if err != nil {
		return fmt.Errorf("acquire booking lock: %w", err)
	}
	defer release()
	s.metrics.ObserveLockWait(op, time.Since(started))

	for i := range doctorIDs {
		if _, err := s.sweeper.Run(ctx, &doctorIDs[i]); err != nil {
			return err
		}
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.LockDoctors(ctx, doctorIDs...); err != nil {
			return fmt.Errorf("lock doctor timeline: %w", err)
		}
		return fn(ctx)
	})
}

// withBooking locks the booking's current doctor plus extra, re-reads the
// booking inside the transaction and hands it to fn. If a transfer moved the
// booking between the lookup and the lock, it retries.
func (s *Service) withBooking(ctx context.Context, op string, bookingID uuid.UUID, extra []uuid.UUID, fn func(ctx context.Context, b *Booking) error) error {
	for attempt := 0; attempt < maxRelock; attempt++ {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return bookingLookupErr(err)
		}
		doctorID := b.DoctorID
		err = s.critical(ctx, op, append([]uuid.UUID{doctorID}, extra...), func(ctx context.Context) error {
			cur, err := s.bookings.GetByID(ctx, bookingID)
			if err != nil {
				return bookingLookupErr(err)
			}
			if cur.DoctorID != doctorID {
				return errRelock
			}
			return fn(ctx, cur)
		})
		if errors.Is(err, errRelock) {
			continue
		}
		return err
	}
	return fmt.Errorf("booking %s: %w", bookingID, errRelock)
}

func bookingLookupErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return reject(ErrNotFound, "booking not found")
	}
	return fmt.Errorf("get booking: %w", err)
}

func (s *Service) getDoctor(ctx context.Context, id uuid.UUID) (*DoctorRef, error) {
	d, err := s.doctors.GetDoctor(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(ErrNotFound, "doctor not found")
		}
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

// checkSlot applies the coverage and conflict rules for doctorID.
func (s *Service) checkSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) error {
	covered, err := s.index.IsCovered(ctx, doctorID, start, end)
	if err != nil {
		return err
	}
	if !covered {
		return ErrDoctorUnavailable
	}
	conflict, err := s.detector.HasConflict(ctx, doctorID, start, end, nil)
	if err != nil {
		return err
	}
	if conflict {
		return ErrSlotTaken
	}
	return nil
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	var rej *Rejection
	switch {
	case err == nil:
	case errors.As(err, &rej):
		outcome = string(rej.Code)
	default:
		outcome = "error"
	}
	s.metrics.ObserveOperation(op, outcome)
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	evt.ID = uuid.New()
	evt.OccurredAt = s.now().UTC()
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).
			Str("event", string(evt.Type)).
			Str("booking_id", evt.BookingID.String()).
			Msg("failed to publish booking event")
	}
}

// -- Create --

// CreateBooking grants [start, end) with doctorID to patientID if the slot is
// covered by an availability window and free of active bookings.
func (s *Service) CreateBooking(ctx context.Context, patientID, doctorID uuid.UUID, start, end time.Time, details BookingDetails) (*Booking, error) {
	b, err := s.createBooking(ctx, patientID, doctorID, start, end, details)
	s.observe("create", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("doctor_id", doctorID.String()).
		Time("start", start).
		Msg("booking created")
	s.publish(ctx, events.Event{
		Type:      events.BookingCreated,
		BookingID: b.ID,
		PatientID: b.PatientID,
		DoctorID:  b.DoctorID,
		Status:    string(b.Status),
		StartTime: b.StartTime,
	})
	return b, nil
}

func (s *Service) createBooking(ctx context.Context, patientID, doctorID uuid.UUID, start, end time.Time, details BookingDetails) (*Booking, error) {
	if end.Sub(start) != BookingDuration {
		return nil, ErrInvalidDuration
	}
	if details.SessionType == "" {
		details.SessionType = SessionOffline
	}
	if _, err := s.getDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	var created *Booking
	err := s.critical(ctx, "create", []uuid.UUID{doctorID}, func(ctx context.Context) error {
		if err := s.checkSlot(ctx, doctorID, start, end); err != nil {
			return err
		}

		token, err := s.bookings.NextToken(ctx, doctorID, start)
		if err != nil {
			return fmt.Errorf("next token: %w", err)
		}
		b := &Booking{
			PatientID:        patientID,
			DoctorID:         doctorID,
			StartTime:        start,
			EndTime:          end,
			SessionType:      details.SessionType,
			IssueDescription: strings.TrimSpace(details.IssueDescription),
			Status:           StatusBooked,
			TokenNumber:      token,
		}
		if err := s.bookings.Create(ctx, b); err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				return err
			}
			return fmt.Errorf("create booking: %w", err)
		}
		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CheckSlot is the advisory pre-check for a booking starting at start. It
// takes no lock; CreateBooking repeats the check authoritatively.
func (s *Service) CheckSlot(ctx context.Context, doctorID uuid.UUID, start time.Time) (*SlotCheck, error) {
	end := start.Add(BookingDuration)
	if _, err := s.getDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	if _, err := s.sweeper.Run(ctx, &doctorID); err != nil {
		return nil, err
	}

	res := &SlotCheck{Available: true, StartTime: start, EndTime: end}
	err := s.checkSlot(ctx, doctorID, start, end)
	var rej *Rejection
	switch {
	case err == nil:
	case errors.As(err, &rej):
		res.Available = false
		res.Reason = rej.Message
	default:
		return nil, err
	}
	return res, nil
}

// -- Cancel --

// CancelBooking cancels an active booking on behalf of its patient, its
// assigned doctor or an administrator, and notifies the patient.
func (s *Service) CancelBooking(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultCancelReason
	}

	var cancelled *Booking
	var from Status
	err := s.withBooking(ctx, "cancel", bookingID, nil, func(ctx context.Context, b *Booking) error {
		allowed, err := s.canModify(ctx, actor, b, true)
		if err != nil {
			return err
		}
		if !allowed {
			return reject(ErrForbidden, "not allowed to cancel this booking")
		}

		// The interval sweeper does not take doctor locks, so the status
		// may still advance between the read and the write.
		for attempt := 0; attempt < maxRelock; attempt++ {
			if attempt > 0 {
				if b, err = s.bookings.GetByID(ctx, bookingID); err != nil {
					return bookingLookupErr(err)
				}
			}
			if b.Status.Terminal() {
				return ErrAlreadyTerminal
			}
			ok, err := s.bookings.UpdateStatus(ctx, bookingID, b.Status, StatusCancelled, &reason)
			if err != nil {
				return fmt.Errorf("cancel booking: %w", err)
			}
			if !ok {
				continue
			}
			from = b.Status
			b.Status, b.CancelReason = StatusCancelled, &reason
			cancelled = b
			return s.notifier.Notify(ctx, b.PatientID, TitleCancelled, reason)
		}
		return fmt.Errorf("cancel booking %s: status kept changing", bookingID)
	})
	s.observe("cancel", err)
	if err != nil {
		return err
	}

	s.metrics.ObserveTransition(string(from), string(StatusCancelled))
	s.metrics.ObserveNotification(TitleCancelled)
	s.logger.Info().
		Str("booking_id", bookingID.String()).
		Str("actor", actor.UserID.String()).
		Str("role", string(actor.Role)).
		Msg("booking cancelled")
	s.publish(ctx, events.Event{
		Type:      events.BookingCancelled,
		BookingID: cancelled.ID,
		PatientID: cancelled.PatientID,
		DoctorID:  cancelled.DoctorID,
		Status:    string(StatusCancelled),
		StartTime: cancelled.StartTime,
	})
	return nil
}

// -- Transfer --

// TransferBooking moves an active booking to newDoctorID after re-validating
// the slot against the new doctor's availability and bookings.
func (s *Service) TransferBooking(ctx context.Context, bookingID, newDoctorID uuid.UUID, actor Actor) error {
	newDoctor, err := s.getDoctor(ctx, newDoctorID)
	if err != nil {
		s.observe("transfer", err)
		return err
	}

	var moved *Booking
	var oldDoctorID uuid.UUID
	err = s.withBooking(ctx, "transfer", bookingID, []uuid.UUID{newDoctorID}, func(ctx context.Context, cur *Booking) error {
		allowed, err := s.canModify(ctx, actor, cur, false)
		if err != nil {
			return err
		}
		if !allowed {
			return reject(ErrForbidden, "not allowed to transfer this booking")
		}
		if cur.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		if cur.DoctorID == newDoctorID {
			return nil
		}
		if err := s.checkSlot(ctx, newDoctorID, cur.StartTime, cur.EndTime); err != nil {
			return err
		}

		oldDoctor, err := s.getDoctor(ctx, cur.DoctorID)
		if err != nil {
			return err
		}
		token, err := s.bookings.NextToken(ctx, newDoctorID, cur.StartTime)
		if err != nil {
			return fmt.Errorf("next token: %w", err)
		}
		ok, err := s.bookings.Reassign(ctx, bookingID, cur.DoctorID, newDoctorID, token)
		if err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				return err
			}
			return fmt.Errorf("reassign booking: %w", err)
		}
		if !ok {
			return ErrAlreadyTerminal
		}

		oldDoctorID = cur.DoctorID
		cur.DoctorID, cur.TokenNumber = newDoctorID, token
		moved = cur
		msg := fmt.Sprintf("1 booking transferred from Dr. %s to Dr. %s.", oldDoctor.Name, newDoctor.Name)
		return s.notifier.Notify(ctx, cur.PatientID, TitleTransferred, msg)
	})
	s.observe("transfer", err)
	if err != nil {
		return err
	}
	if moved == nil {
		return nil
	}

	s.metrics.ObserveNotification(TitleTransferred)
	s.logger.Info().
		Str("booking_id", bookingID.String()).
		Str("from_doctor", oldDoctorID.String()).
		Str("to_doctor", newDoctorID.String()).
		Msg("booking transferred")
	s.publish(ctx, events.Event{
		Type:             events.BookingTransferred,
		BookingID:        moved.ID,
		PatientID:        moved.PatientID,
		DoctorID:         moved.DoctorID,
		PreviousDoctorID: &oldDoctorID,
		Status:           string(moved.Status),
		StartTime:        moved.StartTime,
	})
	return nil
}

// -- Authorization --

// isAssignedDoctor reports whether actor is the doctor whose profile is doctorID.
func (s *Service) isAssignedDoctor(ctx context.Context, actor Actor, doctorID uuid.UUID) (bool, error) {
	d, err := s.doctors.DoctorForUser(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolve doctor profile: %w", err)
	}
	return d.ID == doctorID, nil
}

// canModify decides lifecycle write access. Patients may only cancel.
func (s *Service) canModify(ctx context.Context, actor Actor, b *Booking, patientAllowed bool) (bool, error) {
	switch actor.Role {
	case auth.RoleAdministrator:
		return true, nil
	case auth.RoleDoctor:
		return s.isAssignedDoctor(ctx, actor, b.DoctorID)
	case auth.RolePatient:
		return patientAllowed && actor.UserID == b.PatientID, nil
	default:
		return false, nil
	}
}

func (s *Service) canView(ctx context.Context, actor Actor, b *Booking) (bool, error) {
	return s.canModify(ctx, actor, b, true)
}

// ProfileFor returns the doctor profile managed by actor.
func (s *Service) ProfileFor(ctx context.Context, actor Actor) (*DoctorRef, error) {
	d, err := s.doctors.DoctorForUser(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(ErrForbidden, "no doctor profile for this account")
		}
		return nil, fmt.Errorf("resolve doctor profile: %w", err)
	}
	return d, nil
}

// -- Reads --

// GetBooking returns a booking the actor is allowed to see.
func (s *Service) GetBooking(ctx context.Context, actor Actor, id uuid.UUID) (*Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, bookingLookupErr(err)
	}
	allowed, err := s.canView(ctx, actor, b)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, reject(ErrForbidden, "not allowed to view this booking")
	}
	return b, nil
}

// FilterFor shapes a listing to the actor: patients see their own bookings,
// doctors their worklist and administrators everything.
func (s *Service) FilterFor(ctx context.Context, actor Actor) (ListFilter, error) {
	switch actor.Role {
	case auth.RolePatient:
		return ListFilter{Scope: ScopePatient, PatientID: actor.UserID}, nil
	case auth.RoleDoctor:
		d, err := s.ProfileFor(ctx, actor)
		if err != nil {
			return ListFilter{}, err
		}
		return ListFilter{Scope: ScopeDoctor, DoctorID: d.ID}, nil
	case auth.RoleAdministrator:
		return ListFilter{Scope: ScopeAll}, nil
	default:
		return ListFilter{}, ErrForbidden
	}
}

// ListBookings sweeps stale statuses and returns the filtered bookings.
func (s *Service) ListBookings(ctx context.Context, f ListFilter) ([]*Booking, int, error) {
	var doctorID *uuid.UUID
	if f.Scope == ScopeDoctor {
		doctorID = &f.DoctorID
	}
	if _, err := s.sweeper.Run(ctx, doctorID); err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	items, total, err := s.bookings.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	return items, total, nil
}

// -- Availability --

// AddAvailabilityWindow declares [start, end) free for doctorID. Doctors may
// only add to their own profile.
func (s *Service) AddAvailabilityWindow(ctx context.Context, actor Actor, doctorID uuid.UUID, start, end time.Time) (*AvailabilityWindow, error) {
	if !end.After(start) {
		return nil, reject(ErrInvalidDuration, "end time must be after start time")
	}
	if err := s.authorizeSchedule(ctx, actor, doctorID); err != nil {
		return nil, err
	}
	if _, err := s.getDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	w := &AvailabilityWindow{DoctorID: doctorID, StartTime: start, EndTime: end}
	if err := s.windows.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create availability window: %w", err)
	}
	s.logger.Info().
		Str("window_id", w.ID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("availability window added")
	return w, nil
}

// DeleteAvailabilityWindow removes a window. Existing bookings inside it
// are kept.
func (s *Service) DeleteAvailabilityWindow(ctx context.Context, actor Actor, windowID uuid.UUID) error {
	w, err := s.windows.GetByID(ctx, windowID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(ErrNotFound, "availability window not found")
		}
		return fmt.Errorf("get availability window: %w", err)
	}
	if err := s.authorizeSchedule(ctx, actor, w.DoctorID); err != nil {
		return err
	}
	return s.critical(ctx, "delete_window", []uuid.UUID{w.DoctorID}, func(ctx context.Context) error {
		if err := s.windows.Delete(ctx, windowID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return reject(ErrNotFound, "availability window not found")
			}
			return fmt.Errorf("delete availability window: %w", err)
		}
		return nil
	})
}

func (s *Service) ListAvailabilityWindows(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error) {
	if _, err := s.getDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	items, err := s.windows.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	return items, nil
}

func (s *Service) authorizeSchedule(ctx context.Context, actor Actor, doctorID uuid.UUID) error {
	switch actor.Role {
	case auth.RoleAdministrator:
		return nil
	case auth.RoleDoctor:
		ok, err := s.isAssignedDoctor(ctx, actor, doctorID)
		if err != nil {
			return err
		}
		if !ok {
			return reject(ErrForbidden, "doctors may only manage their own availability")
		}
		return nil
	case auth.RolePatient:
		return reject(ErrForbidden, "patients cannot manage availability")
	default:
		return ErrForbidden
	}
}
