package faceclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"faceattend/internal/config"
)

type fakeBaidu struct {
	tokenCalls atomic.Int32
	lastBody   map[string]any
	handle     func(path string, body map[string]any) any
}

func (f *fakeBaidu) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == pathToken {
		f.tokenCalls.Add(1)
		if r.URL.Query().Get("client_secret") != "sk" {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_client", "error_description": "bad secret"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 2592000})
		return
	}
	if r.URL.Query().Get("access_token") != "tok" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.lastBody = body
	_ = json.NewEncoder(w).Encode(f.handle(r.URL.Path, body))
}

func newTestBaidu(t *testing.T, f *fakeBaidu, secret string) *Baidu {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	log, _ := test.NewNullLogger()
	return NewBaidu(config.Face{
		APIKey:    "ak",
		SecretKey: secret,
		GroupID:   "classroom",
		BaseURL:   srv.URL,
		Timeout:   5 * time.Second,
	}, log)
}

func TestBaiduSearch(t *testing.T) {
	f := &fakeBaidu{handle: func(path string, _ map[string]any) any {
		if path != pathSearch {
			t.Errorf("unexpected path %s", path)
		}
		return map[string]any{
			"error_code": 0,
			"error_msg":  "SUCCESS",
			"log_id":     uint64(3584051565),
			"result": map[string]any{
				"face_token": "ft",
				"user_list": []map[string]any{
					{"group_id": "classroom", "user_id": "S001", "user_info": "Alice", "score": 93.5},
				},
			},
		}
	}}
	c := newTestBaidu(t, f, "sk")

	res, err := c.Search(context.Background(), "aGVsbG8=")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	top, ok := res.Top()
	if !ok {
		t.Fatal("expected a match")
	}
	if top.UserID != "S001" || top.Score != 93.5 || top.UserInfo != "Alice" {
		t.Errorf("unexpected match %+v", top)
	}
	if f.lastBody["group_id_list"] != "classroom" || f.lastBody["image_type"] != "BASE64" {
		t.Errorf("unexpected request body %v", f.lastBody)
	}
	if f.lastBody["max_user_num"] != float64(1) {
		t.Errorf("max_user_num = %v, want 1", f.lastBody["max_user_num"])
	}
}

func TestBaiduSearchEmptyResult(t *testing.T) {
	f := &fakeBaidu{handle: func(string, map[string]any) any {
		return map[string]any{"error_code": 0, "result": nil}
	}}
	c := newTestBaidu(t, f, "sk")

	res, err := c.Search(context.Background(), "aGVsbG8=")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, ok := res.Top(); ok {
		t.Error("expected no match")
	}
}

func TestBaiduAPIError(t *testing.T) {
	f := &fakeBaidu{handle: func(string, map[string]any) any {
		return map[string]any{"error_code": 222202, "error_msg": "pic not has face"}
	}}
	c := newTestBaidu(t, f, "sk")

	_, err := c.Enroll(context.Background(), "S001", "Alice", "aGVsbG8=")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != 222202 || apiErr.Msg != "pic not has face" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestBaiduEnrollAndTokenCache(t *testing.T) {
	f := &fakeBaidu{handle: func(path string, body map[string]any) any {
		if path != pathUserAdd {
			t.Errorf("unexpected path %s", path)
		}
		return map[string]any{
			"error_code": 0,
			"log_id":     uint64(1),
			"result":     map[string]any{"face_token": "face-" + body["user_id"].(string)},
		}
	}}
	c := newTestBaidu(t, f, "sk")

	for i := 0; i < 3; i++ {
		res, err := c.Enroll(context.Background(), "S001", "Alice", "aGVsbG8=")
		if err != nil {
			t.Fatalf("Enroll: %v", err)
		}
		if res.FaceToken != "face-S001" {
			t.Errorf("face token = %q", res.FaceToken)
		}
	}
	if n := f.tokenCalls.Load(); n != 1 {
		t.Errorf("token fetched %d times, want 1", n)
	}
	if f.lastBody["user_info"] != "Alice" || f.lastBody["liveness_control"] != "NORMAL" {
		t.Errorf("unexpected request body %v", f.lastBody)
	}
}

func TestBaiduTokenRefreshBeforeExpiry(t *testing.T) {
	f := &fakeBaidu{}
	c := newTestBaidu(t, f, "sk")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	now = now.Add(30*24*time.Hour - 30*time.Second)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if n := f.tokenCalls.Load(); n != 2 {
		t.Errorf("token fetched %d times, want 2", n)
	}
}

func TestBaiduCreateGroupExists(t *testing.T) {
	f := &fakeBaidu{handle: func(string, map[string]any) any {
		return map[string]any{"error_code": codeGroupExists, "error_msg": "group is already exist"}
	}}
	c := newTestBaidu(t, f, "sk")

	if err := c.CreateGroup(context.Background()); err != nil {
		t.Errorf("CreateGroup: %v", err)
	}
}

func TestBaiduBadCredentials(t *testing.T) {
	c := newTestBaidu(t, &fakeBaidu{}, "wrong")

	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected token error")
	}
	_, err := c.Search(context.Background(), "aGVsbG8=")
	var apiErr *APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestStub(t *testing.T) {
	s := NewStub()
	res, err := s.Enroll(context.Background(), "S9", "Zed", "")
	if err != nil || res.FaceToken != "mock_face_token_S9" {
		t.Errorf("Enroll = %+v, %v", res, err)
	}
	_, err = s.Search(context.Background(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 1 {
		t.Errorf("Search err = %v, want code 1", err)
	}
	if err := s.CreateGroup(context.Background()); err != nil {
		t.Errorf("CreateGroup: %v", err)
	}
}

func TestNewSelectsImplementation(t *testing.T) {
	log, _ := test.NewNullLogger()

	if _, ok := New(config.Face{}, log).(*Stub); !ok {
		t.Error("missing credentials should select the stub")
	}
	if _, ok := New(config.Face{APIKey: "a", SecretKey: "b", Skip: true}, log).(*Stub); !ok {
		t.Error("skip should select the stub")
	}
	if _, ok := New(config.Face{APIKey: "a", SecretKey: "b"}, log).(*Baidu); !ok {
		t.Error("credentials should select the Baidu client")
	}
}
