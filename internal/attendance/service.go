package attendance

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"faceattend/internal/faceclient"
	"faceattend/internal/metrics"
	"faceattend/internal/model"
	"faceattend/internal/store"
)

// MatchThreshold is the score a search match must exceed to count as a check-in.
const MatchThreshold = 80.0

const (
	recentLimit     = 5
	historyDays     = 7
	maxStudentIDLen = 20
)

// StudentStore is the subset of the student repository the service needs.
type StudentStore interface {
	Create(ctx context.Context, st *model.Student) error
	GetByStudentID(ctx context.Context, studentID string) (model.Student, error)
	List(ctx context.Context) ([]model.Student, error)
	Count(ctx context.Context) (int, error)
}

// RecordStore is the subset of the attendance repository the service needs.
type RecordStore interface {
	Insert(ctx context.Context, rec *model.AttendanceRecord) error
	CountBetween(ctx context.Context, from, to time.Time) (int, error)
	Recent(ctx context.Context, limit int) ([]model.AttendanceRecord, error)
	ListSince(ctx context.Context, since time.Time) ([]model.AttendanceRecord, error)
}

// ImageSaver persists an uploaded base64 image and returns its path and bytes.
type ImageSaver interface {
	Save(prefix, data string) (string, []byte, error)
}

// Archiver schedules a saved image for off-site copy.
type Archiver interface {
	Archive(ctx context.Context, kind string, id int64, path string) error
}

// Service coordinates enrollment, check-in and reporting.
type Service struct {
	students StudentStore
	records  RecordStore
	face     faceclient.Service
	images   ImageSaver
	archiver Archiver
	loc      *time.Location
	now      func() time.Time
	log      logrus.FieldLogger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithArchiver enables archiving of saved images.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// NewService wires the service. loc is the timezone used for "today" and the report window.
func NewService(students StudentStore, records RecordStore, face faceclient.Service, images ImageSaver,
	loc *time.Location, log logrus.FieldLogger, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		students: students,
		records:  records,
		face:     face,
		images:   images,
		loc:      loc,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the display timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Recognize saves the captured image, identifies the face and records attendance.
func (s *Service) Recognize(ctx context.Context, image string) (model.AttendanceRecord, error) {
	rec, outcome, err := s.recognize(ctx, image)
	metrics.Recognitions.WithLabelValues(outcome).Inc()
	return rec, err
}

func (s *Service) recognize(ctx context.Context, image string) (model.AttendanceRecord, string, error) {
	if strings.TrimSpace(image) == "" {
		return model.AttendanceRecord{}, "no_image", ErrNoImage
	}

	path, raw, err := s.images.Save("attendance", image)
	if err != nil {
		return model.AttendanceRecord{}, "bad_image", &ImageError{Err: err}
	}

	res, err := s.face.Search(ctx, base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		return model.AttendanceRecord{}, "face_error", &FaceError{Op: "search", Err: err}
	}
	match, ok := res.Top()
	if !ok {
		return model.AttendanceRecord{}, "no_match", ErrNoMatch
	}
	if match.Score <= MatchThreshold {
		return model.AttendanceRecord{}, "low_confidence", &LowConfidenceError{Score: match.Score}
	}

	st, err := s.students.GetByStudentID(ctx, match.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.AttendanceRecord{}, "unknown_student", ErrStudentNotFound
		}
		return model.AttendanceRecord{}, "error", fmt.Errorf("lookup student: %w", err)
	}

	rec := model.AttendanceRecord{
		StudentRef:  st.ID,
		StudentID:   st.StudentID,
		StudentName: st.Name,
		Timestamp:   s.now().UTC(),
		Status:      model.StatusPresent,
		ImagePath:   path,
		Confidence:  match.Score,
	}
	if err := s.records.Insert(ctx, &rec); err != nil {
		return model.AttendanceRecord{}, "error", fmt.Errorf("insert attendance: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"student_id": st.StudentID,
		"record_id":  rec.ID,
		"confidence": match.Score,
	}).Info("attendance recorded")

	s.archive(ctx, "attendance", rec.ID, path)
	return rec, "checked_in", nil
}

// EnrollInput is the data submitted to register a student.
type EnrollInput struct {
	StudentID string
	Name      string
	Image     string
}

// Enroll registers the face remotely and stores the student.
func (s *Service) Enroll(ctx context.Context, in EnrollInput) (model.Student, error) {
	st, outcome, err := s.enroll(ctx, in)
	metrics.Enrollments.WithLabelValues(outcome).Inc()
	return st, err
}

func (s *Service) enroll(ctx context.Context, in EnrollInput) (model.Student, string, error) {
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.Name = strings.TrimSpace(in.Name)
	if in.StudentID == "" || in.Name == "" || strings.TrimSpace(in.Image) == "" {
		return model.Student{}, "incomplete", ErrIncomplete
	}
	if !validStudentID(in.StudentID) {
		return model.Student{}, "invalid_id", ErrInvalidStudentID
	}

	if _, err := s.students.GetByStudentID(ctx, in.StudentID); err == nil {
		return model.Student{}, "duplicate", ErrStudentExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Student{}, "error", fmt.Errorf("lookup student: %w", err)
	}

	path, raw, err := s.images.Save("student_"+in.StudentID, in.Image)
	if err != nil {
		return model.Student{}, "bad_image", &ImageError{Err: err}
	}

	res, err := s.face.Enroll(ctx, in.StudentID, in.Name, base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		return model.Student{}, "face_error", &FaceError{Op: "enroll", Err: err}
	}

	st := model.Student{StudentID: in.StudentID, Name: in.Name, FaceID: res.FaceToken}
	if err := s.students.Create(ctx, &st); err != nil {
		// the remote enrollment is not rolled back
		s.log.WithError(err).WithField("student_id", in.StudentID).
			Warn("face enrolled but student insert failed")
		if errors.Is(err, store.ErrDuplicate) {
			return model.Student{}, "duplicate", ErrStudentExists
		}
		return model.Student{}, "error", fmt.Errorf("insert student: %w", err)
	}
	s.log.WithField("student_id", st.StudentID).Info("student enrolled")

	s.archive(ctx, "student", st.ID, path)
	return st, "enrolled", nil
}

// validStudentID keeps ids within the column width and safe to use in file names.
func validStudentID(id string) bool {
	return utf8.RuneCountInString(id) <= maxStudentIDLen &&
		!strings.ContainsAny(id, `/\`) &&
		!strings.Contains(id, "..")
}

func (s *Service) archive(ctx context.Context, kind string, id int64, path string) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(ctx, kind, id, path); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"kind": kind, "id": id}).Warn("archive publish failed")
	}
}

// Dashboard is the overview shown after login.
type Dashboard struct {
	TotalStudents int
	TodayCount    int
	Recent        []model.AttendanceRecord
	Today         time.Time
}

// Dashboard gathers totals, today's check-ins and the latest records.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	total, err := s.students.Count(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("count students: %w", err)
	}
	start := s.startOfToday()
	today, err := s.records.CountBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return Dashboard{}, fmt.Errorf("count today: %w", err)
	}
	recent, err := s.records.Recent(ctx, recentLimit)
	if err != nil {
		return Dashboard{}, fmt.Errorf("recent records: %w", err)
	}
	return Dashboard{
		TotalStudents: total,
		TodayCount:    today,
		Recent:        recent,
		Today:         start,
	}, nil
}

// RecentRecords lists check-ins from the start of the day seven days ago, newest first.
func (s *Service) RecentRecords(ctx context.Context) ([]model.AttendanceRecord, error) {
	since := s.startOfToday().AddDate(0, 0, -historyDays)
	return s.records.ListSince(ctx, since)
}

// Students lists every enrolled student.
func (s *Service) Students(ctx context.Context) ([]model.Student, error) {
	return s.students.List(ctx)
}

func (s *Service) startOfToday() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}
