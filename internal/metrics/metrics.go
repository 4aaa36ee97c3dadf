package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recognitions counts capture attempts by outcome (checked_in, no_match, low_confidence, ...).
	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_recognitions_total",
		Help: "Attendance capture attempts by outcome.",
	}, []string{"outcome"})

	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_enrollments_total",
		Help: "Student enrollment attempts by outcome.",
	}, []string{"outcome"})

	FaceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "face_service_requests_total",
		Help: "Calls to the remote face service by operation and result.",
	}, []string{"op", "result"})

	ArchivedImages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_archived_images_total",
		Help: "Images copied to remote storage by result.",
	}, []string{"result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// GinMiddleware records request latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
