package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/metrics"
	"faceattend/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// RouterOptions configures the parts of the router outside the handlers.
type RouterOptions struct {
	UploadDir       string
	RateLimitPerMin int
	CORSOrigins     []string
}

// NewRouter builds the gin engine with middleware, pages and API routes.
func NewRouter(h *Handler, opts RouterOptions) (*gin.Engine, error) {
	tmpl, err := parseTemplates(h.att.Location())
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.SetHTMLTemplate(tmpl)

	r.Use(httpmiddleware.RequestLogger(h.log, "/healthz", "/metrics"))
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		h.log.WithField("panic", recovered).Error("handler panicked")
		if isAPI(c) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": msgInternal})
			return
		}
		h.errorPage(c, http.StatusInternalServerError, msgInternal)
		c.Abort()
	}))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(metrics.GinMiddleware())
	r.Use(h.sessions.Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)

	assets, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}
	r.StaticFS("/static/assets", http.FS(assets))
	if opts.UploadDir != "" {
		r.Static("/static/uploads", opts.UploadDir)
	}

	r.GET("/", h.index)
	r.GET("/login", h.loginPage)
	r.POST("/login", h.login)
	r.GET("/logout", h.logout)

	pages := r.Group("/", auth.RequirePage("/login"))
	pages.GET("/dashboard", h.dashboard)
	pages.GET("/attendance", h.attendancePage)
	pages.GET("/profile", h.profilePage)
	pages.GET("/students", h.studentsPage)
	pages.GET("/settings", h.sessions.RequireRole(model.RoleAdmin, msgNoPermission, "/dashboard"), h.settingsPage)

	api := r.Group("/api",
		httpmiddleware.NewSimpleTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin).GinMiddleware(),
		auth.RequireAPI(),
	)
	api.POST("/face_recognition", h.recognize)
	api.GET("/students", h.listStudents)
	api.POST("/students", h.addStudent)
	api.GET("/attendance_records", h.attendanceRecords)

	r.NoRoute(func(c *gin.Context) {
		if isAPI(c) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": msgNotFound})
			return
		}
		h.errorPage(c, http.StatusNotFound, msgNotFound)
	})
	return r, nil
}

func isAPI(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, "/api/")
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func parseTemplates(loc *time.Location) (*template.Template, error) {
	funcs := template.FuncMap{
		"fmtTime": func(t time.Time) string {
			return t.In(loc).Format(DisplayTimeLayout)
		},
		"fmtScore": attendance.FormatScore,
		"isAdmin": func(s *auth.Session) bool {
			return s != nil && s.Role == model.RoleAdmin
		},
	}
	return template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
}
