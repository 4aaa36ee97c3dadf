package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"faceattend/internal/model"
)

// StudentRepository handles persistence for enrolled students.
type StudentRepository struct {
	db *sql.DB
}

func NewStudentRepository(db *DB) *StudentRepository {
	return &StudentRepository{db: db.Client}
}

// Create inserts st and sets its ID and CreatedAt. A taken student_id yields ErrDuplicate.
func (r *StudentRepository) Create(ctx context.Context, st *model.Student) error {
	st.CreatedAt = time.Now().UTC()
	const query = `
		INSERT INTO students (student_id, name, face_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, st.StudentID, st.Name, st.FaceID, st.CreatedAt).Scan(&st.ID)
	return classify(err)
}

// GetByStudentID looks a student up by the external student number.
func (r *StudentRepository) GetByStudentID(ctx context.Context, studentID string) (model.Student, error) {
	const query = `
		SELECT id, student_id, name, face_id, created_at
		FROM students
		WHERE student_id = $1`
	var st model.Student
	err := r.db.QueryRowContext(ctx, query, studentID).
		Scan(&st.ID, &st.StudentID, &st.Name, &st.FaceID, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Student{}, ErrNotFound
		}
		return model.Student{}, err
	}
	return st, nil
}

func (r *StudentRepository) List(ctx context.Context) ([]model.Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, name, face_id, created_at
		FROM students
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var st model.Student
		if err := rows.Scan(&st.ID, &st.StudentID, &st.Name, &st.FaceID, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (r *StudentRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	return n, err
}
