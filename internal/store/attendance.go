package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"faceattend/internal/model"
)

// AttendanceRepository persists recognition events.
type AttendanceRepository struct {
	db *sql.DB
}

func NewAttendanceRepository(db *DB) *AttendanceRepository {
	return &AttendanceRepository{db: db.Client}
}

const recordColumns = `
	a.id, a.student_ref, s.student_id, s.name, a.recorded_at, a.status, a.image_path, a.confidence, a.archive_url`

// Insert writes a new record. Zero Timestamp and empty Status get defaults.
func (r *AttendanceRepository) Insert(ctx context.Context, rec *model.AttendanceRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.Status == "" {
		rec.Status = model.StatusPresent
	}
	const query = `
		INSERT INTO attendance (student_ref, recorded_at, status, image_path, confidence)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	return r.db.QueryRowContext(ctx, query,
		rec.StudentRef, rec.Timestamp, rec.Status, rec.ImagePath, rec.Confidence,
	).Scan(&rec.ID)
}

// Get returns a single record joined with its student.
func (r *AttendanceRepository) Get(ctx context.Context, id int64) (model.AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT`+recordColumns+`
		FROM attendance a
		JOIN students s ON s.id = a.student_ref
		WHERE a.id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AttendanceRecord{}, ErrNotFound
	}
	return rec, err
}

// CountBetween counts records with from <= timestamp < to.
func (r *AttendanceRepository) CountBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance
		WHERE recorded_at >= $1 AND recorded_at < $2`, from.UTC(), to.UTC()).Scan(&n)
	return n, err
}

// Recent returns the newest records, at most limit.
func (r *AttendanceRepository) Recent(ctx context.Context, limit int) ([]model.AttendanceRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	return r.list(ctx, `
		SELECT`+recordColumns+`
		FROM attendance a
		JOIN students s ON s.id = a.student_ref
		ORDER BY a.recorded_at DESC, a.id DESC
		LIMIT $1`, limit)
}

// ListSince returns records at or after since, newest first.
func (r *AttendanceRepository) ListSince(ctx context.Context, since time.Time) ([]model.AttendanceRecord, error) {
	return r.list(ctx, `
		SELECT`+recordColumns+`
		FROM attendance a
		JOIN students s ON s.id = a.student_ref
		WHERE a.recorded_at >= $1
		ORDER BY a.recorded_at DESC, a.id DESC`, since.UTC())
}

// SetArchiveURL stores where the record's image was copied to.
func (r *AttendanceRepository) SetArchiveURL(ctx context.Context, id int64, url string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attendance SET archive_url = $1 WHERE id = $2`, url, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AttendanceRepository) list(ctx context.Context, query string, args ...any) ([]model.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	err := s.Scan(&rec.ID, &rec.StudentRef, &rec.StudentID, &rec.StudentName,
		&rec.Timestamp, &rec.Status, &rec.ImagePath, &rec.Confidence, &rec.ArchiveURL)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}
