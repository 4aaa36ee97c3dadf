package faceclient

import "context"

// Stub stands in for the remote service when it is not configured.
// Enrollment succeeds with a fake token, identification always fails.
type Stub struct{}

func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) Enroll(_ context.Context, userID, _, _ string) (*EnrollResult, error) {
	return &EnrollResult{FaceToken: "mock_face_token_" + userID}, nil
}

func (s *Stub) Search(context.Context, string) (*SearchResult, error) {
	return nil, &APIError{Code: 1, Msg: "face service is not configured"}
}

func (s *Stub) CreateGroup(context.Context) error {
	return nil
}

func (s *Stub) Health(context.Context) error {
	return nil
}
