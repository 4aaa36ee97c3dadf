package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/bootstrap"
	"faceattend/internal/faceclient"
	"faceattend/internal/model"
	"faceattend/internal/store"
	"faceattend/internal/upload"
)

const testImage = "data:image/jpeg;base64,aGVsbG8="

// scriptedFace answers with whatever the test configured.
type scriptedFace struct {
	search    *faceclient.SearchResult
	searchErr error
	enrollErr error
}

func (f *scriptedFace) Enroll(_ context.Context, userID, _, _ string) (*faceclient.EnrollResult, error) {
	if f.enrollErr != nil {
		return nil, f.enrollErr
	}
	return &faceclient.EnrollResult{FaceToken: "tok-" + userID}, nil
}

func (f *scriptedFace) Search(context.Context, string) (*faceclient.SearchResult, error) {
	return f.search, f.searchErr
}

func (f *scriptedFace) CreateGroup(context.Context) error { return nil }
func (f *scriptedFace) Health(context.Context) error      { return nil }

type testEnv struct {
	router  *gin.Engine
	handler *Handler
	face    *scriptedFace
	users   *store.UserRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	dir := t.TempDir()

	db, err := store.NewDB(ctx, "sqlite:///"+filepath.Join(dir, "web.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	log, _ := test.NewNullLogger()
	users := store.NewUserRepository(db)
	face := &scriptedFace{}
	if err := bootstrap.Run(ctx, users, face, "admin123", log); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	svc := attendance.NewService(
		store.NewStudentRepository(db),
		store.NewAttendanceRepository(db),
		face,
		upload.NewSaver(filepath.Join(dir, "uploads")),
		shanghai,
		log,
	)
	sessions := auth.NewManager(auth.NewMemoryStore(), "test-key", time.Hour, false, log)
	h := NewHandler(svc, users, sessions, Settings{FaceBackend: "stub", GroupID: "classroom"},
		[]HealthCheck{{Name: "db", Check: db.Ping}}, log)

	r, err := NewRouter(h, RouterOptions{UploadDir: filepath.Join(dir, "uploads"), CORSOrigins: []string{"*"}})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &testEnv{router: r, handler: h, face: face, users: users}
}

func (e *testEnv) do(method, path string, body string, cookie *http.Cookie, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(path string, payload any, cookie *http.Cookie) map[string]any {
	data, _ := json.Marshal(payload)
	w := e.do(http.MethodPost, path, string(data), cookie, "application/json")
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func (e *testEnv) getJSON(path string, cookie *http.Cookie) (int, map[string]any) {
	w := e.do(http.MethodGet, path, "", cookie, "")
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	var last *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			last = c
		}
	}
	return last
}

func (e *testEnv) login(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	w := e.do(http.MethodPost, "/login", form.Encode(), nil, "application/x-www-form-urlencoded")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/dashboard" {
		t.Fatalf("login %s: status %d location %q", username, w.Code, w.Header().Get("Location"))
	}
	cookie := sessionCookie(w)
	if cookie == nil {
		t.Fatal("login did not set a session cookie")
	}
	return cookie
}

func TestLoginFlow(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(http.MethodGet, "/", "", nil, ""); w.Header().Get("Location") != "/login" {
		t.Fatalf("anonymous / redirects to %q", w.Header().Get("Location"))
	}
	if w := e.do(http.MethodGet, "/dashboard", "", nil, ""); w.Code != http.StatusFound {
		t.Fatalf("anonymous dashboard = %d", w.Code)
	}

	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	w := e.do(http.MethodPost, "/login", form.Encode(), nil, "application/x-www-form-urlencoded")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Invalid username or password!") {
		t.Fatalf("bad login: %d %s", w.Code, w.Body.String())
	}

	cookie := e.login(t, "admin", "admin123")
	w = e.do(http.MethodGet, "/dashboard", "", cookie, "")
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Login successful!") || !strings.Contains(body, `id="total-students">0<`) {
		t.Errorf("unexpected dashboard body %s", body)
	}
	if w := e.do(http.MethodGet, "/", "", cookie, ""); w.Header().Get("Location") != "/dashboard" {
		t.Errorf("logged-in / redirects to %q", w.Header().Get("Location"))
	}

	w = e.do(http.MethodGet, "/logout", "", cookie, "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Fatalf("logout = %d %q", w.Code, w.Header().Get("Location"))
	}
	w = e.do(http.MethodGet, "/login", "", sessionCookie(w), "")
	if !strings.Contains(w.Body.String(), "Logged out.") {
		t.Errorf("logout flash missing")
	}
	if w := e.do(http.MethodGet, "/dashboard", "", cookie, ""); w.Code != http.StatusFound {
		t.Errorf("old cookie still valid after logout: %d", w.Code)
	}
}

func TestAPIRequiresLogin(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/attendance_records", "/api/students"} {
		code, body := e.getJSON(path, nil)
		if code != http.StatusUnauthorized || body["success"] != false || body["message"] != "Please log in first" {
			t.Errorf("%s: %d %v", path, code, body)
		}
	}
}

func TestSettingsRequiresAdmin(t *testing.T) {
	e := newTestEnv(t)
	hash, _ := auth.HashPassword("pw")
	if _, err := e.users.Create(context.Background(), model.User{Username: "teacher1", PasswordHash: hash}); err != nil {
		t.Fatalf("create teacher: %v", err)
	}

	teacher := e.login(t, "teacher1", "pw")
	w := e.do(http.MethodGet, "/settings", "", teacher, "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/dashboard" {
		t.Fatalf("teacher settings = %d %q", w.Code, w.Header().Get("Location"))
	}
	w = e.do(http.MethodGet, "/dashboard", "", teacher, "")
	if !strings.Contains(w.Body.String(), "You do not have permission to access system settings") {
		t.Error("permission flash missing")
	}

	admin := e.login(t, "admin", "admin123")
	w = e.do(http.MethodGet, "/settings", "", admin, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "classroom") {
		t.Errorf("admin settings = %d", w.Code)
	}

	w = e.do(http.MethodGet, "/profile", "", teacher, "")
	body := w.Body.String()
	if w.Code != http.StatusOK || !strings.Contains(body, "teacher1") || !strings.Contains(body, "Role</dt><dd class=\"col-sm-9\">teacher<") {
		t.Errorf("profile = %d %s", w.Code, body)
	}
	year := time.Now().In(time.FixedZone("CST", 8*3600)).Format("2006")
	if !strings.Contains(body, `id="created-at">`+year) {
		t.Errorf("profile does not show the account creation date: %s", body)
	}
}

// goneUsers simulates an account deleted while its session is still alive.
type goneUsers struct {
	*store.UserRepository
}

func (goneUsers) GetByID(context.Context, int64) (model.User, error) {
	return model.User{}, store.ErrNotFound
}

func TestProfileForDeletedAccount(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.login(t, "admin", "admin123")
	e.handler.users = goneUsers{e.users}

	w := e.do(http.MethodGet, "/profile", "", cookie, "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Fatalf("profile = %d %q", w.Code, w.Header().Get("Location"))
	}
	if w := e.do(http.MethodGet, "/dashboard", "", cookie, ""); w.Code != http.StatusFound {
		t.Errorf("session survived: %d", w.Code)
	}
}

func TestEnrollAndRecognize(t *testing.T) {
	e := newTestEnv(t)
	cookie := e.login(t, "admin", "admin123")

	res := e.postJSON("/api/students", map[string]string{"student_id": "S001", "name": ""}, cookie)
	if res["message"] != "Please fill in all fields" {
		t.Errorf("incomplete: %v", res)
	}
	res = e.postJSON("/api/students", map[string]string{"student_id": "S001", "name": "Alice", "image": testImage}, cookie)
	if res["success"] != true || res["message"] != "Student added successfully" {
		t.Fatalf("enroll: %v", res)
	}
	res = e.postJSON("/api/students", map[string]string{"student_id": "S001", "name": "Alice", "image": testImage}, cookie)
	if res["message"] != "Student ID already exists" {
		t.Errorf("duplicate: %v", res)
	}
	res = e.postJSON("/api/students", map[string]string{"student_id": "../../x", "name": "Eve", "image": testImage}, cookie)
	if res["success"] != false || res["message"] != "Invalid student ID" {
		t.Errorf("unsafe id: %v", res)
	}
	res = e.postJSON("/api/students", map[string]string{"student_id": "S002", "name": "Bob", "image": "%%%"}, cookie)
	if msg, _ := res["message"].(string); !strings.HasPrefix(msg, "Image processing error: ") {
		t.Errorf("bad image: %v", res)
	}

	e.face.enrollErr = &faceclient.APIError{Code: 222202, Msg: "pic not has face"}
	res = e.postJSON("/api/students", map[string]string{"student_id": "S003", "name": "Cid", "image": testImage}, cookie)
	if res["message"] != "Face service error: pic not has face (code: 222202)" {
		t.Errorf("face api error: %v", res)
	}
	e.face.enrollErr = errors.New("dial tcp: timeout")
	res = e.postJSON("/api/students", map[string]string{"student_id": "S003", "name": "Cid", "image": testImage}, cookie)
	if res["message"] != "Face enrollment error: dial tcp: timeout" {
		t.Errorf("face transport error: %v", res)
	}

	_, list := e.getJSON("/api/students", cookie)
	if students, _ := list["students"].([]any); len(students) != 1 {
		t.Errorf("students = %v", list)
	}

	res = e.postJSON("/api/face_recognition", map[string]string{}, cookie)
	if res["message"] != "No image data received" {
		t.Errorf("no image: %v", res)
	}

	e.face.searchErr = &faceclient.APIError{Code: 1, Msg: "face service is not configured"}
	res = e.postJSON("/api/face_recognition", map[string]string{"image": testImage}, cookie)
	if res["message"] != "Face recognition error: face service is not configured" {
		t.Errorf("search error: %v", res)
	}
	e.face.searchErr = nil

	e.face.search = &faceclient.SearchResult{}
	res = e.postJSON("/api/face_recognition", map[string]string{"image": testImage}, cookie)
	if res["message"] != "No face recognized or face not enrolled" {
		t.Errorf("no match: %v", res)
	}

	e.face.search = &faceclient.SearchResult{Matches: []faceclient.SearchMatch{{UserID: "S001", Score: 72.5}}}
	res = e.postJSON("/api/face_recognition", map[string]string{"image": testImage}, cookie)
	if res["message"] != "Confidence too low: 72.5" {
		t.Errorf("low confidence: %v", res)
	}

	e.face.search = &faceclient.SearchResult{Matches: []faceclient.SearchMatch{{UserID: "S404", Score: 99}}}
	res = e.postJSON("/api/face_recognition", map[string]string{"image": testImage}, cookie)
	if res["message"] != "Face recognized but no matching student record" {
		t.Errorf("unknown student: %v", res)
	}

	e.face.search = &faceclient.SearchResult{Matches: []faceclient.SearchMatch{{UserID: "S001", Score: 93.2}}}
	res = e.postJSON("/api/face_recognition", map[string]string{"image": testImage}, cookie)
	if res["success"] != true || res["student_name"] != "Alice" || res["confidence"] != 93.2 ||
		res["message"] != "Check-in successful! Recognized student: Alice" {
		t.Fatalf("check-in: %v", res)
	}

	code, records := e.getJSON("/api/attendance_records", cookie)
	if code != http.StatusOK || records["success"] != true {
		t.Fatalf("records: %d %v", code, records)
	}
	rows, _ := records["records"].([]any)
	if len(rows) != 1 {
		t.Fatalf("records = %v", records)
	}
	row := rows[0].(map[string]any)
	if row["student_id"] != "S001" || row["student_name"] != "Alice" || row["status"] != "present" {
		t.Errorf("unexpected row %v", row)
	}
	if _, err := time.Parse(DisplayTimeLayout, row["timestamp"].(string)); err != nil {
		t.Errorf("timestamp %v: %v", row["timestamp"], err)
	}

	w := e.do(http.MethodGet, "/dashboard", "", cookie, "")
	if !strings.Contains(w.Body.String(), `id="today-count">1<`) {
		t.Errorf("dashboard does not count today's check-in")
	}
	w = e.do(http.MethodGet, "/students", "", cookie, "")
	if !strings.Contains(w.Body.String(), "Alice") {
		t.Errorf("students page missing Alice")
	}
}

func TestNotFoundAndHealth(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(http.MethodGet, "/nope", "", nil, "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Page not found") {
		t.Errorf("404 page = %d", w.Code)
	}

	code, body := e.getJSON("/healthz", nil)
	if code != http.StatusOK || body["status"] != "ok" || body["db"] != true {
		t.Errorf("healthz = %d %v", code, body)
	}

	if w := e.do(http.MethodGet, "/static/assets/js/app.js", "", nil, ""); w.Code != http.StatusOK {
		t.Errorf("static asset = %d", w.Code)
	}
}

func TestRecoveryRendersByRoute(t *testing.T) {
	e := newTestEnv(t)
	e.router.GET("/api/boom", func(*gin.Context) { panic("boom") })
	e.router.GET("/boom", func(*gin.Context) { panic("boom") })

	code, body := e.getJSON("/api/boom", nil)
	if code != http.StatusInternalServerError || body["message"] != "Internal server error" {
		t.Errorf("api panic = %d %v", code, body)
	}
	w := e.do(http.MethodGet, "/boom", "", nil, "")
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "Internal server error") {
		t.Errorf("page panic = %d", w.Code)
	}
}

func TestCORSConfig(t *testing.T) {
	if cfg := corsConfig(nil); !cfg.AllowAllOrigins {
		t.Error("empty origins should allow all")
	}
	if cfg := corsConfig([]string{"https://a.example", "*"}); !cfg.AllowAllOrigins {
		t.Error("wildcard should allow all")
	}
	cfg := corsConfig([]string{"https://a.example"})
	if cfg.AllowAllOrigins || !cfg.AllowCredentials || len(cfg.AllowOrigins) != 1 {
		t.Errorf("explicit origins = %+v", cfg)
	}
}
