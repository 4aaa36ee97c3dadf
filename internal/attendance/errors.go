package attendance

import (
	"errors"
	"strconv"
)

var (
	ErrNoImage          = errors.New("no image data received")
	ErrIncomplete       = errors.New("student id, name and image are required")
	ErrStudentExists    = errors.New("student id already exists")
	ErrInvalidStudentID = errors.New("student id must be at most 20 characters without path separators")
	ErrNoMatch          = errors.New("no face recognized or face not enrolled")
	ErrStudentNotFound  = errors.New("face recognized but no matching student record")
)

// LowConfidenceError reports a best match at or below MatchThreshold.
type LowConfidenceError struct {
	Score float64
}

func (e *LowConfidenceError) Error() string {
	return "confidence too low: " + FormatScore(e.Score)
}

// ImageError wraps a failure to decode or store an uploaded image.
type ImageError struct {
	Err error
}

func (e *ImageError) Error() string { return "image processing: " + e.Err.Error() }
func (e *ImageError) Unwrap() error { return e.Err }

// FaceError wraps a failure returned by the face service.
type FaceError struct {
	Op  string
	Err error
}

func (e *FaceError) Error() string { return "face " + e.Op + ": " + e.Err.Error() }
func (e *FaceError) Unwrap() error { return e.Err }

// FormatScore renders a similarity score without trailing zeros.
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
