package faceclient

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"faceattend/internal/config"
)

// Service is the remote face recognition API used for enrollment and identification.
type Service interface {
	// Enroll registers the face in imageBase64 under userID in the configured group.
	Enroll(ctx context.Context, userID, userInfo, imageBase64 string) (*EnrollResult, error)
	// Search identifies the best matching enrolled user for the face in imageBase64.
	Search(ctx context.Context, imageBase64 string) (*SearchResult, error)
	// CreateGroup creates the configured face group. An existing group is not an error.
	CreateGroup(ctx context.Context) error
	Health(ctx context.Context) error
}

// EnrollResult contains the face enrollment response.
type EnrollResult struct {
	FaceToken string
	LogID     uint64
}

// SearchMatch represents one candidate from a group search.
type SearchMatch struct {
	GroupID  string  `json:"group_id"`
	UserID   string  `json:"user_id"`
	UserInfo string  `json:"user_info"`
	Score    float64 `json:"score"`
}

// SearchResult contains 1:N search results, best first.
type SearchResult struct {
	FaceToken string
	Matches   []SearchMatch
}

// Top returns the best match, or false when nothing matched.
func (r *SearchResult) Top() (SearchMatch, bool) {
	if r == nil || len(r.Matches) == 0 {
		return SearchMatch{}, false
	}
	return r.Matches[0], true
}

// APIError is a non-zero error_code answered by the face service.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Msg, e.Code)
}

// New picks the Baidu client when credentials are present, the stub otherwise.
func New(cfg config.Face, log logrus.FieldLogger) Service {
	if cfg.Skip || !cfg.Configured() {
		log.WithField("skip", cfg.Skip).Warn("face service not configured, using stub")
		return NewStub()
	}
	return NewBaidu(cfg, log)
}
