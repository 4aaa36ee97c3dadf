package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	DatabaseURL     string
	SecretKey       string
	SessionBackend  string
	SessionTTL      time.Duration
	RedisAddr       string
	UploadDir       string
	DisplayTimezone string
	AdminPassword   string
	RateLimitPerMin int
	LogLevel        string
	CORSOrigins     []string

	Face       Face
	Archive    Archive
	Cloudinary Cloudinary
}

// Face configures the remote face recognition service.
type Face struct {
	AppID     string
	APIKey    string
	SecretKey string
	GroupID   string
	BaseURL   string
	Skip      bool
	Timeout   time.Duration
}

// Configured reports whether credentials for the remote service are present.
func (f Face) Configured() bool {
	return f.APIKey != "" && f.SecretKey != ""
}

// Archive configures the asynchronous copy of captured images.
type Archive struct {
	Enabled      bool
	QueueBackend string
	QueueKey     string
}

type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

func (c Cloudinary) Configured() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Load returns application config populated from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() App {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("ignoring .env: %v", err)
	}

	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "5000"),
		DatabaseURL:     getEnv("DATABASE_URL", "sqlite://attendance.db"),
		SecretKey:       getEnv("SECRET_KEY", "dev-secret-key-change-me"),
		SessionBackend:  getEnv("SESSION_BACKEND", "memory"),
		SessionTTL:      durationEnv("SESSION_TTL", 24*time.Hour),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		UploadDir:       getEnv("UPLOAD_DIR", "static/uploads"),
		DisplayTimezone: getEnv("DISPLAY_TIMEZONE", "Asia/Shanghai"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", "admin123"),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSOrigins:     listEnv("CORS_ORIGINS", []string{"*"}),
		Face: Face{
			AppID:     getEnv("BAIDU_APP_ID", ""),
			APIKey:    getEnv("BAIDU_API_KEY", ""),
			SecretKey: getEnv("BAIDU_SECRET_KEY", ""),
			GroupID:   getEnv("BAIDU_GROUP_ID", "classroom"),
			BaseURL:   getEnv("BAIDU_BASE_URL", "https://aip.baidubce.com"),
			Skip:      boolEnv("FACE_SKIP", false),
			Timeout:   durationEnv("FACE_TIMEOUT", 30*time.Second),
		},
		Archive: Archive{
			Enabled:      boolEnv("ARCHIVE_ENABLED", false),
			QueueBackend: getEnv("QUEUE_BACKEND", "redis"),
			QueueKey:     getEnv("ARCHIVE_QUEUE_KEY", "attendance:archive"),
		},
		Cloudinary: Cloudinary{
			CloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    getEnv("CLOUDINARY_API_KEY", ""),
			APISecret: getEnv("CLOUDINARY_API_SECRET", ""),
			Folder:    getEnv("CLOUDINARY_FOLDER", "attendance"),
		},
	}
}

// IsProduction reports whether the app runs with production defaults.
func (a App) IsProduction() bool {
	return a.Env == "production" || a.Env == "prod"
}

// Location resolves the display timezone, falling back to UTC.
func (a App) Location() *time.Location {
	loc, err := time.LoadLocation(a.DisplayTimezone)
	if err != nil {
		logrus.Warnf("invalid DISPLAY_TIMEZONE %q: %v, using UTC", a.DisplayTimezone, err)
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			logrus.Warnf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes":
			return true
		case "0", "false", "no":
			return false
		}
		logrus.Warnf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		logrus.Warnf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func listEnv(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
