package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/events"
	"github.com/medibook/medibook/internal/platform/metrics"
)

type fixture struct {
	svc      *Service
	windows  *memWindowRepo
	bookings *memBookingRepo
	doctors  *memDoctors
	notifier *memNotifier
	clock    *fakeClock
	events   *events.MemoryPublisher

	patient uuid.UUID
	alice   *DoctorRef
	bob     *DoctorRef
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		windows:  newMemWindowRepo(),
		bookings: newMemBookingRepo(),
		doctors:  newMemDoctors(),
		notifier: &memNotifier{},
		clock:    &fakeClock{now: day.Add(-24 * time.Hour)},
		events:   &events.MemoryPublisher{},
		patient:  uuid.New(),
	}
	f.alice = f.doctors.add("Alice")
	f.bob = f.doctors.add("Bob")
	f.svc = NewService(f.windows, f.bookings, f.doctors, f.notifier,
		WithClock(f.clock.Now),
		WithPublisher(f.events),
		WithMetrics(metrics.NewBookingMetrics(prometheus.NewRegistry())),
	)
	return f
}

func (f *fixture) window(t *testing.T, d *DoctorRef, start, end time.Time) *AvailabilityWindow {
	t.Helper()
	w := &AvailabilityWindow{DoctorID: d.ID, StartTime: start, EndTime: end}
	if err := f.windows.Create(context.Background(), w); err != nil {
		t.Fatalf("create window: %v", err)
	}
	return w
}

func (f *fixture) book(t *testing.T, d *DoctorRef, start time.Time) *Booking {
	t.Helper()
	b, err := f.svc.CreateBooking(context.Background(), f.patient, d.ID, start, start.Add(BookingDuration), BookingDetails{})
	if err != nil {
		t.Fatalf("CreateBooking(%s): %v", start.Format("15:04"), err)
	}
	return b
}

func (f *fixture) patientActor() Actor { return Actor{UserID: f.patient, Role: auth.RolePatient} }
func doctorActor(d *DoctorRef) Actor   { return Actor{UserID: d.UserID, Role: auth.RoleDoctor} }
func adminActor() Actor                { return Actor{UserID: uuid.New(), Role: auth.RoleAdministrator} }

func assertRejected(t *testing.T, err error, want *Rejection) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s rejection, got %v", want.Code, err)
	}
}

func eventTypes(p *events.MemoryPublisher) []events.Type {
	var out []events.Type
	for _, e := range p.Events() {
		out = append(out, e.Type)
	}
	return out
}

// -- CreateBooking --

func TestCreateBooking_ScenarioA(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))

	first := f.book(t, f.alice, at(9, 0))
	if first.Status != StatusBooked || first.TokenNumber != 1 {
		t.Errorf("unexpected first booking %+v", first)
	}
	second := f.book(t, f.alice, at(9, 30))
	if second.TokenNumber != 2 {
		t.Errorf("expected token 2, got %d", second.TokenNumber)
	}

	_, err := f.svc.CreateBooking(context.Background(), f.patient, f.alice.ID, at(9, 15), at(9, 45), BookingDetails{})
	assertRejected(t, err, ErrSlotTaken)
}

func TestCreateBooking_ScenarioB_NoWindow(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))

	_, err := f.svc.CreateBooking(context.Background(), f.patient, f.alice.ID, at(14, 0), at(14, 30), BookingDetails{})
	assertRejected(t, err, ErrDoctorUnavailable)
	if len(f.bookings.all()) != 0 {
		t.Error("rejected booking must not be persisted")
	}
}

func TestCreateBooking_HalfOpenBoundary(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(11, 0))
	f.book(t, f.alice, at(10, 0))

	f.book(t, f.alice, at(10, 30))
	f.book(t, f.alice, at(9, 30))
}

func TestCreateBooking_InvalidDuration(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(12, 0))

	for _, end := range []time.Time{at(9, 0), at(9, 29), at(10, 0), at(8, 30)} {
		_, err := f.svc.CreateBooking(context.Background(), f.patient, f.alice.ID, at(9, 0), end, BookingDetails{})
		assertRejected(t, err, ErrInvalidDuration)
	}
}

func TestCreateBooking_UnknownDoctor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateBooking(context.Background(), f.patient, uuid.New(), at(9, 0), at(9, 30), BookingDetails{})
	assertRejected(t, err, ErrNotFound)
}

func TestCreateBooking_WindowSpanningCoverage(t *testing.T) {
	f := newFixture(t)
	// Two abutting windows do not cover a slot that straddles them.
	f.window(t, f.alice, at(9, 0), at(9, 15))
	f.window(t, f.alice, at(9, 15), at(10, 0))

	_, err := f.svc.CreateBooking(context.Background(), f.patient, f.alice.ID, at(9, 0), at(9, 30), BookingDetails{})
	assertRejected(t, err, ErrDoctorUnavailable)
	f.book(t, f.alice, at(9, 15))
}

func TestCreateBooking_CancelledSlotIsReusable(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))

	if err := f.svc.CancelBooking(context.Background(), b.ID, f.patientActor(), "sick"); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	f.book(t, f.alice, at(9, 0))
}

func TestCreateBooking_DetailsAndEvent(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))

	b, err := f.svc.CreateBooking(context.Background(), f.patient, f.alice.ID, at(9, 0), at(9, 30), BookingDetails{
		SessionType:      SessionOnline,
		IssueDescription: "  headache  ",
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if b.SessionType != SessionOnline || b.IssueDescription != "headache" {
		t.Errorf("unexpected details %+v", b)
	}
	got := f.events.Events()
	if len(got) != 1 || got[0].Type != events.BookingCreated || got[0].BookingID != b.ID {
		t.Fatalf("expected one booking.created event, got %+v", got)
	}
	if len(f.bookings.locked) == 0 || f.bookings.locked[0][0] != f.alice.ID {
		t.Errorf("expected doctor timeline lock, got %v", f.bookings.locked)
	}
}

func TestCreateBooking_SweepsBeforeDeciding(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(11, 0))
	f.bookings.put(&Booking{PatientID: f.patient, DoctorID: f.alice.ID, StartTime: at(9, 0), EndTime: at(9, 30), Status: StatusBooked})

	f.clock.Set(at(9, 45))
	f.book(t, f.alice, at(10, 0))

	for _, b := range f.bookings.all() {
		if b.StartTime.Equal(at(9, 0)) && b.Status != StatusCompleted {
			t.Errorf("expected past booking to be completed, got %s", b.Status)
		}
	}
}

func TestCreateBooking_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(17, 0))

	const n = 50
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateBooking(context.Background(), uuid.New(), f.alice.ID, at(11, 0), at(11, 30), BookingDetails{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSlotTaken):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one booking, got %d", succeeded)
	}
}

func TestCreateBooking_ConcurrentOverlappingSlots(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(17, 0))

	const n = 60
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := at(9, 0).Add(time.Duration(i%24) * 10 * time.Minute)
			_, err := f.svc.CreateBooking(context.Background(), uuid.New(), f.alice.ID, start, start.Add(BookingDuration), BookingDetails{})
			if err != nil && !errors.Is(err, ErrSlotTaken) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var active []*Booking
	for _, b := range f.bookings.all() {
		if b.DoctorID == f.alice.ID && b.Status.Active() {
			active = append(active, b)
		}
	}
	if len(active) == 0 {
		t.Fatal("expected some bookings to succeed")
	}
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			if active[i].Overlaps(active[j].StartTime, active[j].EndTime) {
				t.Fatalf("overlapping bookings committed: %s and %s",
					active[i].StartTime.Format("15:04"), active[j].StartTime.Format("15:04"))
			}
		}
	}
}

func TestCheckSlot(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	f.book(t, f.alice, at(9, 0))

	tests := []struct {
		name      string
		start     time.Time
		available bool
		reason    string
	}{
		{"free", at(9, 30), true, ""},
		{"taken", at(9, 15), false, "Already booked"},
		{"outside window", at(14, 0), false, "Doctor not available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.CheckSlot(context.Background(), f.alice.ID, tt.start)
			if err != nil {
				t.Fatalf("CheckSlot: %v", err)
			}
			if res.Available != tt.available || res.Reason != tt.reason {
				t.Errorf("got %+v", res)
			}
			if !res.EndTime.Equal(tt.start.Add(BookingDuration)) {
				t.Errorf("unexpected end %s", res.EndTime)
			}
		})
	}

	_, err := f.svc.CheckSlot(context.Background(), uuid.New(), at(9, 0))
	assertRejected(t, err, ErrNotFound)
}

// -- CancelBooking --

func TestCancelBooking_ByPatient(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))

	if err := f.svc.CancelBooking(context.Background(), b.ID, f.patientActor(), "feeling better"); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	got := f.bookings.get(b.ID)
	if got.Status != StatusCancelled || got.CancelReason == nil || *got.CancelReason != "feeling better" {
		t.Errorf("unexpected booking after cancel: %+v", got)
	}
	sent := f.notifier.all()
	if len(sent) != 1 || sent[0].UserID != f.patient || sent[0].Title != TitleCancelled || sent[0].Message != "feeling better" {
		t.Errorf("unexpected notifications %+v", sent)
	}
	types := eventTypes(f.events)
	if types[len(types)-1] != events.BookingCancelled {
		t.Errorf("expected booking.cancelled event, got %v", types)
	}
}

func TestCancelBooking_DefaultReason(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))

	if err := f.svc.CancelBooking(context.Background(), b.ID, doctorActor(f.alice), "   "); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	if msg := f.notifier.all()[0].Message; msg != "No reason provided" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestCancelBooking_Authorization(t *testing.T) {
	tests := []struct {
		name    string
		actor   func(f *fixture) Actor
		wantErr *Rejection
	}{
		{"patient owner", func(f *fixture) Actor { return f.patientActor() }, nil},
		{"assigned doctor", func(f *fixture) Actor { return doctorActor(f.alice) }, nil},
		{"administrator", func(f *fixture) Actor { return adminActor() }, nil},
		{"other patient", func(f *fixture) Actor { return Actor{UserID: uuid.New(), Role: auth.RolePatient} }, ErrForbidden},
		{"other doctor", func(f *fixture) Actor { return doctorActor(f.bob) }, ErrForbidden},
		{"doctor without profile", func(f *fixture) Actor { return Actor{UserID: uuid.New(), Role: auth.RoleDoctor} }, ErrForbidden},
		{"unknown role", func(f *fixture) Actor { return Actor{UserID: uuid.New(), Role: auth.Role("nurse")} }, ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.window(t, f.alice, at(9, 0), at(10, 0))
			b := f.book(t, f.alice, at(9, 0))

			err := f.svc.CancelBooking(context.Background(), b.ID, tt.actor(f), "reason")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			assertRejected(t, err, tt.wantErr)
			if f.bookings.get(b.ID).Status != StatusBooked {
				t.Error("forbidden cancel must not change the booking")
			}
			if len(f.notifier.all()) != 0 {
				t.Error("forbidden cancel must not notify")
			}
		})
	}
}

func TestCancelBooking_ScenarioD_Completed(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(10, 0), at(11, 0))
	b := f.book(t, f.alice, at(10, 0))

	f.clock.Set(at(10, 31))
	if _, err := f.svc.Sweeper().Run(context.Background(), nil); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	err := f.svc.CancelBooking(context.Background(), b.ID, f.patientActor(), "too late")
	assertRejected(t, err, ErrAlreadyTerminal)
	if len(f.notifier.all()) != 0 {
		t.Error("no notification expected for a rejected cancel")
	}
	if f.bookings.get(b.ID).Status != StatusCompleted {
		t.Error("completed booking must stay completed")
	}
}

func TestCancelBooking_PastButUnswept(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(10, 0), at(11, 0))
	b := f.book(t, f.alice, at(10, 0))

	f.clock.Set(at(12, 0))
	err := f.svc.CancelBooking(context.Background(), b.ID, f.patientActor(), "")
	assertRejected(t, err, ErrAlreadyTerminal)
}

func TestCancelBooking_Ongoing(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(10, 0), at(11, 0))
	b := f.book(t, f.alice, at(10, 0))

	f.clock.Set(at(10, 10))
	if err := f.svc.CancelBooking(context.Background(), b.ID, doctorActor(f.alice), "emergency"); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	if f.bookings.get(b.ID).Status != StatusCancelled {
		t.Error("expected ongoing booking to be cancelled")
	}
}

func TestCancelBooking_Twice(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))

	if err := f.svc.CancelBooking(context.Background(), b.ID, f.patientActor(), "first"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	err := f.svc.CancelBooking(context.Background(), b.ID, f.patientActor(), "second")
	assertRejected(t, err, ErrAlreadyTerminal)
	if len(f.notifier.all()) != 1 {
		t.Errorf("expected one notification, got %d", len(f.notifier.all()))
	}
	if r := f.bookings.get(b.ID).CancelReason; r == nil || *r != "first" {
		t.Errorf("cancel reason overwritten: %v", r)
	}
}

func TestCancelBooking_NotFound(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CancelBooking(context.Background(), uuid.New(), adminActor(), "")
	assertRejected(t, err, ErrNotFound)
}

// -- TransferBooking --

func TestTransferBooking_Success(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	f.window(t, f.bob, at(8, 0), at(12, 0))
	f.book(t, f.bob, at(8, 0))
	b := f.book(t, f.alice, at(9, 0))

	if err := f.svc.TransferBooking(context.Background(), b.ID, f.bob.ID, doctorActor(f.alice)); err != nil {
		t.Fatalf("TransferBooking: %v", err)
	}
	got := f.bookings.get(b.ID)
	if got.DoctorID != f.bob.ID {
		t.Fatalf("expected booking reassigned to bob")
	}
	if got.TokenNumber != 2 {
		t.Errorf("expected token 2 in bob's queue, got %d", got.TokenNumber)
	}
	sent := f.notifier.all()
	if len(sent) != 1 || sent[0].Message != "1 booking transferred from Dr. Alice to Dr. Bob." || sent[0].UserID != f.patient {
		t.Errorf("unexpected notifications %+v", sent)
	}

	evts := f.events.Events()
	last := evts[len(evts)-1]
	if last.Type != events.BookingTransferred || last.PreviousDoctorID == nil || *last.PreviousDoctorID != f.alice.ID {
		t.Errorf("unexpected transfer event %+v", last)
	}

	locked := f.bookings.locked[len(f.bookings.locked)-1]
	if len(locked) != 2 {
		t.Errorf("expected both doctors locked, got %v", locked)
	}
}

func TestTransferBooking_ScenarioE_Uncovered(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	f.window(t, f.bob, at(14, 0), at(16, 0))
	b := f.book(t, f.alice, at(9, 0))

	err := f.svc.TransferBooking(context.Background(), b.ID, f.bob.ID, adminActor())
	assertRejected(t, err, ErrDoctorUnavailable)
	if f.bookings.get(b.ID).DoctorID != f.alice.ID {
		t.Error("original assignment must be unchanged")
	}
	if len(f.notifier.all()) != 0 {
		t.Error("no notification expected")
	}
}

func TestTransferBooking_Conflict(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	f.window(t, f.bob, at(9, 0), at(10, 0))
	f.book(t, f.bob, at(9, 15))
	b := f.book(t, f.alice, at(9, 0))

	err := f.svc.TransferBooking(context.Background(), b.ID, f.bob.ID, adminActor())
	assertRejected(t, err, ErrSlotTaken)
	if f.bookings.get(b.ID).DoctorID != f.alice.ID {
		t.Error("original assignment must be unchanged")
	}
}

func TestTransferBooking_Rejections(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	f.window(t, f.bob, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))

	assertRejected(t, f.svc.TransferBooking(context.Background(), b.ID, uuid.New(), adminActor()), ErrNotFound)
	assertRejected(t, f.svc.TransferBooking(context.Background(), uuid.New(), f.bob.ID, adminActor()), ErrNotFound)
	assertRejected(t, f.svc.TransferBooking(context.Background(), b.ID, f.bob.ID, f.patientActor()), ErrForbidden)
	assertRejected(t, f.svc.TransferBooking(context.Background(), b.ID, f.bob.ID, doctorActor(f.bob)), ErrForbidden)

	if err := f.svc.CancelBooking(context.Background(), b.ID, f.patientActor(), ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	assertRejected(t, f.svc.TransferBooking(context.Background(), b.ID, f.bob.ID, adminActor()), ErrAlreadyTerminal)
}

func TestTransferBooking_SameDoctorIsNoop(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))
	before := len(f.events.Events())

	if err := f.svc.TransferBooking(context.Background(), b.ID, f.alice.ID, doctorActor(f.alice)); err != nil {
		t.Fatalf("TransferBooking: %v", err)
	}
	if len(f.notifier.all()) != 0 || len(f.events.Events()) != before {
		t.Error("same-doctor transfer must not notify or publish")
	}
}

// -- Sweeper --

func TestSweeper_ScenarioC(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(10, 0), at(11, 0))
	b := f.book(t, f.alice, at(10, 0))
	sw := f.svc.Sweeper()

	n, err := sw.RunAt(context.Background(), nil, at(10, 15))
	if err != nil || n != 1 {
		t.Fatalf("RunAt 10:15 = %d, %v", n, err)
	}
	if got := f.bookings.get(b.ID).Status; got != StatusOngoing {
		t.Fatalf("expected ongoing at 10:15, got %s", got)
	}

	n, err = sw.RunAt(context.Background(), nil, at(10, 31))
	if err != nil || n != 1 {
		t.Fatalf("RunAt 10:31 = %d, %v", n, err)
	}
	if got := f.bookings.get(b.ID).Status; got != StatusCompleted {
		t.Fatalf("expected completed at 10:31, got %s", got)
	}
}

func TestSweeper_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(12, 0))
	f.book(t, f.alice, at(9, 0))
	f.book(t, f.alice, at(10, 0))
	f.book(t, f.alice, at(11, 0))

	sw := f.svc.Sweeper()
	if n, err := sw.RunAt(context.Background(), nil, at(10, 10)); err != nil || n != 2 {
		t.Fatalf("first sweep = %d, %v", n, err)
	}
	snapshot := map[uuid.UUID]Status{}
	for _, b := range f.bookings.all() {
		snapshot[b.ID] = b.Status
	}

	if n, err := sw.RunAt(context.Background(), nil, at(10, 10)); err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v", n, err)
	}
	for _, b := range f.bookings.all() {
		if snapshot[b.ID] != b.Status {
			t.Errorf("booking %s changed on repeated sweep: %s -> %s", b.ID, snapshot[b.ID], b.Status)
		}
	}
}

func TestSweeper_SkipsCancelled(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))
	if err := f.svc.CancelBooking(context.Background(), b.ID, f.patientActor(), ""); err != nil {
		t.Fatal(err)
	}

	if n, _ := f.svc.Sweeper().RunAt(context.Background(), nil, at(12, 0)); n != 0 {
		t.Errorf("expected no transitions, got %d", n)
	}
	if f.bookings.get(b.ID).Status != StatusCancelled {
		t.Error("cancelled booking must stay cancelled")
	}
}

func TestSweeper_ScopedToDoctor(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	f.window(t, f.bob, at(9, 0), at(10, 0))
	a := f.book(t, f.alice, at(9, 0))
	b := f.book(t, f.bob, at(9, 0))

	if _, err := f.svc.Sweeper().RunAt(context.Background(), &f.alice.ID, at(9, 10)); err != nil {
		t.Fatal(err)
	}
	if f.bookings.get(a.ID).Status != StatusOngoing {
		t.Error("alice's booking should be ongoing")
	}
	if f.bookings.get(b.ID).Status != StatusBooked {
		t.Error("bob's booking must not be touched")
	}
}

func TestSweeper_StartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.window(t, f.alice, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))
	f.clock.Set(at(9, 40))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Sweeper().Start(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for f.bookings.get(b.ID).Status != StatusCompleted {
		select {
		case <-deadline:
			t.Fatal("sweeper did not advance booking")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// -- Availability --

func TestAddAvailabilityWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.AddAvailabilityWindow(ctx, doctorActor(f.alice), f.alice.ID, at(9, 0), at(12, 0))
	if err != nil {
		t.Fatalf("AddAvailabilityWindow: %v", err)
	}
	if w.ID == uuid.Nil || w.DoctorID != f.alice.ID {
		t.Errorf("unexpected window %+v", w)
	}

	_, err = f.svc.AddAvailabilityWindow(ctx, doctorActor(f.alice), f.alice.ID, at(12, 0), at(12, 0))
	assertRejected(t, err, ErrInvalidDuration)
	_, err = f.svc.AddAvailabilityWindow(ctx, doctorActor(f.alice), f.alice.ID, at(12, 0), at(11, 0))
	assertRejected(t, err, ErrInvalidDuration)
	_, err = f.svc.AddAvailabilityWindow(ctx, doctorActor(f.bob), f.alice.ID, at(13, 0), at(14, 0))
	assertRejected(t, err, ErrForbidden)
	_, err = f.svc.AddAvailabilityWindow(ctx, f.patientActor(), f.alice.ID, at(13, 0), at(14, 0))
	assertRejected(t, err, ErrForbidden)
	_, err = f.svc.AddAvailabilityWindow(ctx, adminActor(), uuid.New(), at(13, 0), at(14, 0))
	assertRejected(t, err, ErrNotFound)

	if _, err := f.svc.AddAvailabilityWindow(ctx, adminActor(), f.alice.ID, at(13, 0), at(14, 0)); err != nil {
		t.Fatalf("admin add: %v", err)
	}
	items, err := f.svc.ListAvailabilityWindows(ctx, f.alice.ID)
	if err != nil || len(items) != 2 {
		t.Fatalf("expected 2 windows, got %d (%v)", len(items), err)
	}
}

func TestDeleteAvailabilityWindow_KeepsBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.window(t, f.alice, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))

	assertRejected(t, f.svc.DeleteAvailabilityWindow(ctx, doctorActor(f.bob), w.ID), ErrForbidden)
	if err := f.svc.DeleteAvailabilityWindow(ctx, doctorActor(f.alice), w.ID); err != nil {
		t.Fatalf("DeleteAvailabilityWindow: %v", err)
	}
	assertRejected(t, f.svc.DeleteAvailabilityWindow(ctx, doctorActor(f.alice), w.ID), ErrNotFound)

	if f.bookings.get(b.ID).Status != StatusBooked {
		t.Error("existing booking must survive window removal")
	}
	_, err := f.svc.CreateBooking(ctx, f.patient, f.alice.ID, at(9, 30), at(10, 0), BookingDetails{})
	assertRejected(t, err, ErrDoctorUnavailable)
}

// -- Listings --

func TestListBookings_Ordering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.window(t, f.alice, at(9, 0), at(12, 0))
	f.book(t, f.alice, at(10, 0))
	f.book(t, f.alice, at(9, 0))
	f.book(t, f.alice, at(11, 0))

	patientFilter, err := f.svc.FilterFor(ctx, f.patientActor())
	if err != nil {
		t.Fatal(err)
	}
	items, total, err := f.svc.ListBookings(ctx, patientFilter)
	if err != nil || total != 3 {
		t.Fatalf("patient listing: total=%d err=%v", total, err)
	}
	if !items[0].StartTime.Equal(at(11, 0)) || !items[2].StartTime.Equal(at(9, 0)) {
		t.Error("patient listing must be newest first")
	}

	doctorFilter, err := f.svc.FilterFor(ctx, doctorActor(f.alice))
	if err != nil {
		t.Fatal(err)
	}
	items, _, err = f.svc.ListBookings(ctx, doctorFilter)
	if err != nil {
		t.Fatal(err)
	}
	if !items[0].StartTime.Equal(at(9, 0)) || !items[2].StartTime.Equal(at(11, 0)) {
		t.Error("doctor worklist must be next-up first")
	}

	adminFilter, err := f.svc.FilterFor(ctx, adminActor())
	if err != nil || adminFilter.Scope != ScopeAll {
		t.Fatalf("admin filter: %+v %v", adminFilter, err)
	}
	items, _, _ = f.svc.ListBookings(ctx, adminFilter)
	if !items[0].StartTime.Equal(at(11, 0)) {
		t.Error("admin listing must be newest first")
	}

	_, err = f.svc.FilterFor(ctx, Actor{UserID: uuid.New(), Role: auth.RoleDoctor})
	assertRejected(t, err, ErrForbidden)
}

func TestListBookings_SweepsFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.window(t, f.alice, at(9, 0), at(10, 0))
	f.book(t, f.alice, at(9, 0))

	f.clock.Set(at(9, 5))
	items, _, err := f.svc.ListBookings(ctx, ListFilter{Scope: ScopeDoctor, DoctorID: f.alice.ID})
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Status != StatusOngoing {
		t.Errorf("expected ongoing after on-demand sweep, got %s", items[0].Status)
	}
}

func TestGetBooking_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.window(t, f.alice, at(9, 0), at(10, 0))
	b := f.book(t, f.alice, at(9, 0))

	for _, actor := range []Actor{f.patientActor(), doctorActor(f.alice), adminActor()} {
		if _, err := f.svc.GetBooking(ctx, actor, b.ID); err != nil {
			t.Errorf("%s should see booking: %v", actor.Role, err)
		}
	}
	_, err := f.svc.GetBooking(ctx, doctorActor(f.bob), b.ID)
	assertRejected(t, err, ErrForbidden)
	_, err = f.svc.GetBooking(ctx, f.patientActor(), uuid.New())
	assertRejected(t, err, ErrNotFound)
}
