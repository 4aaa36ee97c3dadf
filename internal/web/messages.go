package web

import (
	"errors"
	"fmt"

	"faceattend/internal/attendance"
	"faceattend/internal/faceclient"
)

// recognitionMessage maps a check-in failure to the text shown to the user.
// ok is false for unexpected errors.
func recognitionMessage(err error) (string, bool) {
	var (
		imgErr  *attendance.ImageError
		faceErr *attendance.FaceError
		lowErr  *attendance.LowConfidenceError
	)
	switch {
	case errors.Is(err, attendance.ErrNoImage):
		return "No image data received", true
	case errors.As(err, &imgErr):
		return "Image processing error: " + imgErr.Err.Error(), true
	case errors.As(err, &faceErr):
		var apiErr *faceclient.APIError
		if errors.As(faceErr.Err, &apiErr) {
			return "Face recognition error: " + apiErr.Msg, true
		}
		return "Face recognition error: " + faceErr.Err.Error(), true
	case errors.Is(err, attendance.ErrNoMatch):
		return "No face recognized or face not enrolled", true
	case errors.As(err, &lowErr):
		return "Confidence too low: " + attendance.FormatScore(lowErr.Score), true
	case errors.Is(err, attendance.ErrStudentNotFound):
		return "Face recognized but no matching student record", true
	}
	return "", false
}

// enrollmentMessage maps an enrollment failure to the text shown to the user.
func enrollmentMessage(err error) (string, bool) {
	var (
		imgErr  *attendance.ImageError
		faceErr *attendance.FaceError
	)
	switch {
	case errors.Is(err, attendance.ErrIncomplete):
		return "Please fill in all fields", true
	case errors.Is(err, attendance.ErrInvalidStudentID):
		return "Invalid student ID", true
	case errors.Is(err, attendance.ErrStudentExists):
		return "Student ID already exists", true
	case errors.As(err, &imgErr):
		return "Image processing error: " + imgErr.Err.Error(), true
	case errors.As(err, &faceErr):
		var apiErr *faceclient.APIError
		if errors.As(faceErr.Err, &apiErr) {
			return fmt.Sprintf("Face service error: %s (code: %d)", apiErr.Msg, apiErr.Code), true
		}
		return "Face enrollment error: " + faceErr.Err.Error(), true
	}
	return "", false
}
