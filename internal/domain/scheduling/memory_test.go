package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -- In-memory repositories --

type memWindowRepo struct {
	mu      sync.Mutex
	windows map[uuid.UUID]*AvailabilityWindow
}

func newMemWindowRepo() *memWindowRepo {
	return &memWindowRepo{windows: make(map[uuid.UUID]*AvailabilityWindow)}
}

func (m *memWindowRepo) Create(_ context.Context, w *AvailabilityWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = uuid.New()
	w.CreatedAt = time.Now()
	cp := *w
	m.windows[w.ID] = &cp
	return nil
}

func (m *memWindowRepo) GetByID(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memWindowRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windows[id]; !ok {
		return ErrNotFound
	}
	delete(m.windows, id)
	return nil
}

func (m *memWindowRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*AvailabilityWindow
	for _, w := range m.windows {
		if w.DoctorID == doctorID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

type memBookingRepo struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*Booking
	locked   [][]uuid.UUID
}

func newMemBookingRepo() *memBookingRepo {
	return &memBookingRepo{bookings: make(map[uuid.UUID]*Booking)}
}

func (m *memBookingRepo) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memBookingRepo) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBookingRepo) ListActiveByDoctor(_ context.Context, doctorID uuid.UUID) ([]*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.bookings {
		if b.DoctorID == doctorID && b.Status.Active() {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memBookingRepo) NextToken(_ context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	highest := 0
	for _, b := range m.bookings {
		if b.DoctorID == doctorID && sameDay(b.StartTime, day) && b.TokenNumber > highest {
			highest = b.TokenNumber
		}
	}
	return highest + 1, nil
}

func (m *memBookingRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, reason *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	if reason != nil {
		r := *reason
		b.CancelReason = &r
	}
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *memBookingRepo) Reassign(_ context.Context, id, fromDoctor, toDoctor uuid.UUID, token int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.DoctorID != fromDoctor || !b.Status.Active() {
		return false, nil
	}
	b.DoctorID = toDoctor
	b.TokenNumber = token
	return true, nil
}

func (m *memBookingRepo) List(_ context.Context, f ListFilter) ([]*Booking, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.bookings {
		switch f.Scope {
		case ScopePatient:
			if b.PatientID != f.PatientID {
				continue
			}
		case ScopeDoctor:
			if b.DoctorID != f.DoctorID {
				continue
			}
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Descending() {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *memBookingRepo) ListDue(_ context.Context, doctorID *uuid.UUID, now time.Time) ([]*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.bookings {
		if doctorID != nil && b.DoctorID != *doctorID {
			continue
		}
		if !b.Status.Active() || b.StartTime.After(now) {
			continue
		}
		if b.Status == StatusBooked || !b.EndTime.After(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memBookingRepo) LockDoctors(_ context.Context, doctorIDs ...uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, append([]uuid.UUID(nil), doctorIDs...))
	return nil
}

func (m *memBookingRepo) put(b *Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	cp := *b
	m.bookings[b.ID] = &cp
}

func (m *memBookingRepo) get(id uuid.UUID) *Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.bookings[id]
	return &cp
}

func (m *memBookingRepo) all() []*Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// -- Collaborators --

type memDoctors struct {
	byID map[uuid.UUID]*DoctorRef
}

func newMemDoctors() *memDoctors {
	return &memDoctors{byID: make(map[uuid.UUID]*DoctorRef)}
}

func (m *memDoctors) add(name string) *DoctorRef {
	d := &DoctorRef{ID: uuid.New(), UserID: uuid.New(), Name: name}
	m.byID[d.ID] = d
	return d
}

func (m *memDoctors) GetDoctor(_ context.Context, id uuid.UUID) (*DoctorRef, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *memDoctors) DoctorForUser(_ context.Context, userID uuid.UUID) (*DoctorRef, error) {
	for _, d := range m.byID {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

type sentNotification struct {
	UserID  uuid.UUID
	Title   string
	Message string
}

type memNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (m *memNotifier) Notify(_ context.Context, userID uuid.UUID, title, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentNotification{UserID: userID, Title: title, Message: message})
	return nil
}

func (m *memNotifier) all() []sentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentNotification(nil), m.sent...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
