package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"faceattend/internal/config"
	"faceattend/internal/metrics"
)

const (
	pathToken    = "/oauth/2.0/token"
	pathUserAdd  = "/rest/2.0/face/v3/faceset/user/add"
	pathSearch   = "/rest/2.0/face/v3/search"
	pathGroupAdd = "/rest/2.0/face/v3/faceset/group/add"

	// codeGroupExists is answered by group/add when the group is already there.
	codeGroupExists = 223101

	controlNormal = "NORMAL"
	imageBase64   = "BASE64"
)

// Baidu calls the Baidu AI face v3 REST API.
type Baidu struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	GroupID   string
	HTTP      *http.Client

	cb  *gobreaker.CircuitBreaker
	log logrus.FieldLogger
	now func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewBaidu creates a client with configurable timeout.
func NewBaidu(cfg config.Face, log logrus.FieldLogger) *Baidu {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second // face processing can take time
	}
	c := &Baidu{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		GroupID:   cfg.GroupID,
		HTTP:      &http.Client{Timeout: timeout},
		log:       log,
		now:       time.Now,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "BaiduFace",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		// the remote answering with an error code still means it is up
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || errors.As(err, &apiErr)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("CircuitBreaker[%s] state changed from %s to %s", name, from, to)
		},
	})
	return c
}

type envelope struct {
	ErrorCode int             `json:"error_code"`
	ErrorMsg  string          `json:"error_msg"`
	LogID     uint64          `json:"log_id"`
	Result    json.RawMessage `json:"result"`
}

// Enroll adds the face to the group under userID.
func (c *Baidu) Enroll(ctx context.Context, userID, userInfo, image string) (*EnrollResult, error) {
	payload := map[string]any{
		"image":            image,
		"image_type":       imageBase64,
		"group_id":         c.GroupID,
		"user_id":          userID,
		"user_info":        userInfo,
		"quality_control":  controlNormal,
		"liveness_control": controlNormal,
	}
	env, err := c.call(ctx, "enroll", pathUserAdd, payload)
	if err != nil {
		return nil, err
	}

	var out struct {
		FaceToken string `json:"face_token"`
	}
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &out); err != nil {
			return nil, fmt.Errorf("failed to decode enroll result: %w", err)
		}
	}
	return &EnrollResult{FaceToken: out.FaceToken, LogID: env.LogID}, nil
}

// Search looks up the single closest user in the group.
func (c *Baidu) Search(ctx context.Context, image string) (*SearchResult, error) {
	payload := map[string]any{
		"image":            image,
		"image_type":       imageBase64,
		"group_id_list":    c.GroupID,
		"quality_control":  controlNormal,
		"liveness_control": controlNormal,
		"max_user_num":     1,
	}
	env, err := c.call(ctx, "search", pathSearch, payload)
	if err != nil {
		return nil, err
	}

	var out struct {
		FaceToken string        `json:"face_token"`
		UserList  []SearchMatch `json:"user_list"`
	}
	if len(env.Result) > 0 && string(env.Result) != "null" {
		if err := json.Unmarshal(env.Result, &out); err != nil {
			return nil, fmt.Errorf("failed to decode search result: %w", err)
		}
	}
	return &SearchResult{FaceToken: out.FaceToken, Matches: out.UserList}, nil
}

// CreateGroup creates the configured group, treating "already exists" as success.
func (c *Baidu) CreateGroup(ctx context.Context) error {
	_, err := c.call(ctx, "group_add", pathGroupAdd, map[string]any{"group_id": c.GroupID})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeGroupExists {
		return nil
	}
	return err
}

// Health verifies that credentials are accepted by fetching a token.
func (c *Baidu) Health(ctx context.Context) error {
	_, err := c.accessToken(ctx)
	return err
}

func (c *Baidu) call(ctx context.Context, op, path string, payload any) (*envelope, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.post(ctx, path, payload)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			metrics.FaceRequests.WithLabelValues(op, "api_error").Inc()
		} else {
			metrics.FaceRequests.WithLabelValues(op, "failed").Inc()
		}
		return nil, err
	}
	metrics.FaceRequests.WithLabelValues(op, "ok").Inc()
	return res.(*envelope), nil
}

func (c *Baidu) post(ctx context.Context, path string, payload any) (*envelope, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(payload)
	endpoint := c.BaseURL + path + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if env.ErrorCode != 0 {
		c.log.WithFields(logrus.Fields{
			"path":   path,
			"code":   env.ErrorCode,
			"log_id": env.LogID,
		}).Warn("face service returned error")
		return nil, &APIError{Code: env.ErrorCode, Msg: env.ErrorMsg}
	}
	return &env, nil
}

// accessToken returns the cached OAuth token, refreshing it 60s before expiry.
func (c *Baidu) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", c.APIKey)
	q.Set("client_secret", c.SecretKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+pathToken+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("face service token request failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken      string `json:"access_token"`
		ExpiresIn        int64  `json:"expires_in"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("face service token error %s: %s", out.Error, out.ErrorDescription)
	}

	c.token = out.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}
