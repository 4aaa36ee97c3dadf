package model

import "time"

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"

	StatusPresent = "present"
)

// User is a staff account allowed to log in.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Student represents an enrolled student.
type Student struct {
	ID        int64     `json:"id"`
	StudentID string    `json:"student_id"`
	Name      string    `json:"name"`
	FaceID    string    `json:"face_id,omitempty"` // face token issued by the remote service
	CreatedAt time.Time `json:"created_at"`
}

// AttendanceRecord represents a single recognition event.
type AttendanceRecord struct {
	ID          int64     `json:"id"`
	StudentRef  int64     `json:"-"`
	StudentID   string    `json:"student_id,omitempty"`   // joined from students
	StudentName string    `json:"student_name,omitempty"` // joined from students
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	ImagePath   string    `json:"image_path,omitempty"`
	Confidence  float64   `json:"confidence"`
	ArchiveURL  string    `json:"archive_url,omitempty"`
}
