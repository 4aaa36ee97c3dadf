package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/model"
	"faceattend/internal/store"
)

// DisplayTimeLayout is how timestamps are rendered to users.
const DisplayTimeLayout = "2006-01-02 15:04:05"

const (
	msgLoginFirst     = "Please log in first"
	msgInternal       = "Internal server error"
	msgNotFound       = "Page not found"
	msgNoPermission   = "You do not have permission to access system settings"
	msgLoginOK        = "Login successful!"
	msgLoginFailed    = "Invalid username or password!"
	msgLoggedOut      = "Logged out."
	msgStudentAdded   = "Student added successfully"
	msgRecordsFailure = "Error loading attendance records"
)

// HealthCheck is one dependency checked by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Settings is the read-only configuration shown to admins.
type Settings struct {
	FaceBackend     string
	GroupID         string
	DisplayTimezone string
	SessionBackend  string
	ArchiveEnabled  bool
}

// Users is the account lookup the handlers need.
type Users interface {
	auth.UserFinder
	GetByID(ctx context.Context, id int64) (model.User, error)
}

// Handler serves the HTML pages and the JSON API.
type Handler struct {
	att      *attendance.Service
	users    Users
	sessions *auth.Manager
	settings Settings
	checks   []HealthCheck
	log      logrus.FieldLogger
}

func NewHandler(att *attendance.Service, users Users, sessions *auth.Manager, settings Settings,
	checks []HealthCheck, log logrus.FieldLogger) *Handler {
	return &Handler{
		att:      att,
		users:    users,
		sessions: sessions,
		settings: settings,
		checks:   checks,
		log:      log,
	}
}

// page renders name with the common layout data plus extra.
func (h *Handler) page(c *gin.Context, status int, name, title string, extra gin.H) {
	data := gin.H{
		"Title":   title,
		"Flashes": h.sessions.PopFlashes(c),
	}
	if sess, ok := auth.CurrentUser(c); ok {
		data["User"] = sess
	}
	for k, v := range extra {
		data[k] = v
	}
	c.HTML(status, name, data)
}

func (h *Handler) errorPage(c *gin.Context, status int, message string) {
	h.page(c, status, "error.html", "Error", gin.H{"Message": message})
}

func (h *Handler) index(c *gin.Context) {
	if _, ok := auth.CurrentUser(c); ok {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	c.Redirect(http.StatusFound, "/login")
}

func (h *Handler) loginPage(c *gin.Context) {
	if _, ok := auth.CurrentUser(c); ok {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	h.page(c, http.StatusOK, "login.html", "Login", nil)
}

func (h *Handler) login(c *gin.Context) {
	username := c.PostForm("username")
	user, err := auth.Authenticate(c.Request.Context(), h.users, username, c.PostForm("password"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.WithField("username", username).Info("login rejected")
			h.sessions.Flash(c, auth.FlashError, msgLoginFailed)
			h.page(c, http.StatusOK, "login.html", "Login", gin.H{"Username": username})
			return
		}
		h.log.WithError(err).Error("login failed")
		h.errorPage(c, http.StatusInternalServerError, msgInternal)
		return
	}

	if err := h.sessions.Login(c, user); err != nil {
		h.log.WithError(err).Error("session create failed")
		h.errorPage(c, http.StatusInternalServerError, msgInternal)
		return
	}
	h.sessions.Flash(c, auth.FlashSuccess, msgLoginOK)
	c.Redirect(http.StatusFound, "/dashboard")
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.sessions.Logout(c); err != nil {
		h.log.WithError(err).Warn("logout failed")
	}
	h.sessions.Flash(c, auth.FlashInfo, msgLoggedOut)
	c.Redirect(http.StatusFound, "/login")
}

func (h *Handler) dashboard(c *gin.Context) {
	dash, err := h.att.Dashboard(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("dashboard failed")
		h.errorPage(c, http.StatusInternalServerError, msgInternal)
		return
	}
	h.page(c, http.StatusOK, "dashboard.html", "Dashboard", gin.H{
		"TotalStudents": dash.TotalStudents,
		"TodayCount":    dash.TodayCount,
		"Recent":        dash.Recent,
		"Today":         dash.Today.Format("2006-01-02"),
	})
}

func (h *Handler) attendancePage(c *gin.Context) {
	h.page(c, http.StatusOK, "attendance.html", "Take attendance", nil)
}

func (h *Handler) settingsPage(c *gin.Context) {
	h.page(c, http.StatusOK, "settings.html", "Settings", gin.H{
		"Settings":  h.settings,
		"Threshold": attendance.FormatScore(attendance.MatchThreshold),
	})
}

func (h *Handler) profilePage(c *gin.Context) {
	sess, _ := auth.CurrentUser(c)
	user, err := h.users.GetByID(c.Request.Context(), sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// account removed while the session was alive
			if err := h.sessions.Logout(c); err != nil {
				h.log.WithError(err).Warn("logout failed")
			}
			h.sessions.Flash(c, auth.FlashError, msgLoginFirst)
			c.Redirect(http.StatusFound, "/login")
			return
		}
		h.log.WithError(err).Error("load profile failed")
		h.errorPage(c, http.StatusInternalServerError, msgInternal)
		return
	}
	h.page(c, http.StatusOK, "profile.html", "Profile", gin.H{"Account": user})
}

func (h *Handler) studentsPage(c *gin.Context) {
	students, err := h.att.Students(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("list students failed")
		h.errorPage(c, http.StatusInternalServerError, msgInternal)
		return
	}
	h.page(c, http.StatusOK, "students.html", "Students", gin.H{"Students": students})
}

type recognizeRequest struct {
	Image string `json:"image"`
}

func (h *Handler) recognize(c *gin.Context) {
	var req recognizeRequest
	// a malformed body is reported like a missing image
	_ = c.ShouldBindJSON(&req)

	rec, err := h.att.Recognize(c.Request.Context(), req.Image)
	if err != nil {
		msg, ok := recognitionMessage(err)
		if !ok {
			h.log.WithError(err).Error("recognition failed")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": msgInternal})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Check-in successful! Recognized student: " + rec.StudentName,
		"student_name": rec.StudentName,
		"confidence":   rec.Confidence,
	})
}

type enrollRequest struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Image     string `json:"image"`
}

func (h *Handler) addStudent(c *gin.Context) {
	var req enrollRequest
	_ = c.ShouldBindJSON(&req)

	_, err := h.att.Enroll(c.Request.Context(), attendance.EnrollInput{
		StudentID: req.StudentID,
		Name:      req.Name,
		Image:     req.Image,
	})
	if err != nil {
		msg, ok := enrollmentMessage(err)
		if !ok {
			h.log.WithError(err).Error("enrollment failed")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": msgInternal})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": false, "message": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msgStudentAdded})
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.att.Students(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("list students failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": msgInternal})
		return
	}
	if students == nil {
		students = []model.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "students": students})
}

type recordView struct {
	ID          int64   `json:"id"`
	StudentName string  `json:"student_name"`
	StudentID   string  `json:"student_id"`
	Timestamp   string  `json:"timestamp"`
	Status      string  `json:"status"`
	Confidence  float64 `json:"confidence"`
}

func (h *Handler) attendanceRecords(c *gin.Context) {
	records, err := h.att.RecentRecords(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("list attendance failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": msgRecordsFailure})
		return
	}
	loc := h.att.Location()
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		out = append(out, recordView{
			ID:          r.ID,
			StudentName: r.StudentName,
			StudentID:   r.StudentID,
			Timestamp:   r.Timestamp.In(loc).Format(DisplayTimeLayout),
			Status:      r.Status,
			Confidence:  r.Confidence,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "records": out})
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, hc := range h.checks {
		if err := hc.Check(ctx); err != nil {
			h.log.WithError(err).WithField("check", hc.Name).Warn("health check failed")
			body[hc.Name] = false
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			continue
		}
		body[hc.Name] = true
	}
	c.JSON(status, body)
}
