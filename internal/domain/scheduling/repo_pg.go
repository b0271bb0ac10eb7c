package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/medibook/internal/platform/db"
)

// =========== Availability Window Repository ===========

type windowRepoPG struct{ pool *pgxpool.Pool }

func NewWindowRepoPG(pool *pgxpool.Pool) WindowRepository { return &windowRepoPG{pool: pool} }

const windowCols = `id, doctor_id, start_time, end_time, created_at`

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	if err := row.Scan(&w.ID, &w.DoctorID, &w.StartTime, &w.EndTime, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *windowRepoPG) Create(ctx context.Context, w *AvailabilityWindow) error {
	w.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO availability_window (id, doctor_id, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		w.ID, w.DoctorID, w.StartTime, w.EndTime).Scan(&w.CreatedAt)
	if db.IsPgError(err, db.CodeForeignKeyViolation) {
		return reject(ErrNotFound, "doctor not found")
	}
	return err
}

func (r *windowRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	return scanWindow(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+windowCols+` FROM availability_window WHERE id = $1`, id))
}

func (r *windowRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM availability_window WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *windowRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+windowCols+` FROM availability_window WHERE doctor_id = $1 ORDER BY start_time`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{pool: pool} }

const bookingCols = `id, patient_id, doctor_id, start_time, end_time, session_type,
	issue_description, status, cancel_reason, token_number, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.PatientID, &b.DoctorID, &b.StartTime, &b.EndTime, &b.SessionType,
		&b.IssueDescription, &b.Status, &b.CancelReason, &b.TokenNumber, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*Booking, error) {
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	b.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO booking (id, patient_id, doctor_id, start_time, end_time, session_type,
			issue_description, status, token_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		b.ID, b.PatientID, b.DoctorID, b.StartTime, b.EndTime, b.SessionType,
		b.IssueDescription, b.Status, b.TokenNumber).Scan(&b.CreatedAt, &b.UpdatedAt)
	switch {
	case db.IsPgError(err, db.CodeExclusionViolation):
		return ErrSlotTaken
	case db.IsPgError(err, db.CodeForeignKeyViolation):
		return reject(ErrNotFound, "doctor or patient not found")
	}
	return err
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return scanBooking(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bookingCols+` FROM booking WHERE id = $1`, id))
}

func (r *bookingRepoPG) ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Booking, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+bookingCols+` FROM booking
		WHERE doctor_id = $1 AND status IN ('booked', 'ongoing')
		ORDER BY start_time`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *bookingRepoPG) NextToken(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	var next int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0) + 1 FROM booking
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3`,
		doctorID, start, start.AddDate(0, 0, 1)).Scan(&next)
	return next, err
}

func (r *bookingRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE booking SET status = $3, cancel_reason = COALESCE($4, cancel_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bookingRepoPG) Reassign(ctx context.Context, id, fromDoctor, toDoctor uuid.UUID, token int) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE booking SET doctor_id = $3, token_number = $4, updated_at = NOW()
		WHERE id = $1 AND doctor_id = $2 AND status IN ('booked', 'ongoing')`,
		id, fromDoctor, toDoctor, token)
	if err != nil {
		if db.IsPgError(err, db.CodeExclusionViolation) {
			return false, ErrSlotTaken
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bookingRepoPG) List(ctx context.Context, f ListFilter) ([]*Booking, int, error) {
	where := `WHERE 1=1`
	var args []interface{}
	idx := 1

	switch f.Scope {
	case ScopePatient:
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, f.PatientID)
		idx++
	case ScopeDoctor:
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, f.DoctorID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM booking `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := `ASC`
	if f.Descending() {
		order = `DESC`
	}
	query := fmt.Sprintf(`SELECT %s FROM booking %s ORDER BY start_time %s, id LIMIT $%d OFFSET $%d`,
		bookingCols, where, order, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectBookings(rows)
	return items, total, err
}

func (r *bookingRepoPG) ListDue(ctx context.Context, doctorID *uuid.UUID, now time.Time) ([]*Booking, error) {
	query := `SELECT ` + bookingCols + ` FROM booking
		WHERE status IN ('booked', 'ongoing') AND start_time <= $1
		AND (status = 'booked' OR end_time <= $1)`
	args := []interface{}{now}
	if doctorID != nil {
		query += ` AND doctor_id = $2`
		args = append(args, *doctorID)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query+` ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *bookingRepoPG) LockDoctors(ctx context.Context, doctorIDs ...uuid.UUID) error {
	return db.AdvisoryXactLock(ctx, doctorKeys(doctorIDs...)...)
}
