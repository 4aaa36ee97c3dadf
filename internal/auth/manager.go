package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"faceattend/internal/model"
)

// CookieName is the browser cookie carrying the signed session id.
const CookieName = "attendance_session"

const sessionKey = "session"

// Flash categories, rendered as alert styles.
const (
	FlashSuccess = "success"
	FlashError   = "danger"
	FlashInfo    = "info"
)

// Manager ties the session store to the signed cookie.
type Manager struct {
	Store  Store
	Key    string
	TTL    time.Duration
	Secure bool
	log    logrus.FieldLogger
}

// NewManager creates a manager; ttl bounds both the stored session and the cookie.
func NewManager(store Store, key string, ttl time.Duration, secure bool, log logrus.FieldLogger) *Manager {
	return &Manager{Store: store, Key: key, TTL: ttl, Secure: secure, log: log}
}

// Middleware loads the session named by the cookie. Invalid or expired
// cookies are treated as anonymous.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(CookieName)
		if err == nil && raw != "" {
			if claims, err := Parse(raw, m.Key); err == nil {
				sess, err := m.Store.Get(c.Request.Context(), claims.SessionID)
				switch {
				case err == nil:
					c.Set(sessionKey, sess)
				case !errors.Is(err, ErrSessionNotFound):
					m.log.WithError(err).Warn("session lookup failed")
				}
			}
		}
		c.Next()
	}
}

// Current returns the session attached to the request, if any.
func Current(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*Session)
	return sess, ok && sess != nil
}

// CurrentUser returns the logged-in session or false for anonymous requests.
func CurrentUser(c *gin.Context) (*Session, bool) {
	sess, ok := Current(c)
	if !ok || !sess.LoggedIn() {
		return nil, false
	}
	return sess, true
}

// Login starts a fresh session for user. Pending flashes carry over.
func (m *Manager) Login(c *gin.Context, user model.User) error {
	sess := &Session{
		ID:       uuid.NewString(),
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}
	if prev, ok := Current(c); ok {
		sess.Flashes = prev.Flashes
		if err := m.Store.Delete(c.Request.Context(), prev.ID); err != nil {
			m.log.WithError(err).Warn("drop previous session failed")
		}
	}
	return m.save(c, sess)
}

// Logout destroys the session and clears the cookie.
func (m *Manager) Logout(c *gin.Context) error {
	if sess, ok := Current(c); ok {
		if err := m.Store.Delete(c.Request.Context(), sess.ID); err != nil {
			return err
		}
		c.Set(sessionKey, (*Session)(nil))
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", m.Secure, true)
	return nil
}

// Flash queues a message for the next rendered page, creating an anonymous
// session when the visitor has none.
func (m *Manager) Flash(c *gin.Context, category, message string) {
	sess, ok := Current(c)
	if !ok {
		sess = &Session{ID: uuid.NewString()}
	}
	sess.Flashes = append(sess.Flashes, Flash{Category: category, Message: message})
	if err := m.save(c, sess); err != nil {
		m.log.WithError(err).Warn("save flash failed")
	}
}

// PopFlashes returns and clears pending flashes.
func (m *Manager) PopFlashes(c *gin.Context) []Flash {
	sess, ok := Current(c)
	if !ok || len(sess.Flashes) == 0 {
		return nil
	}
	flashes := sess.Flashes
	sess.Flashes = nil
	if err := m.Store.Save(c.Request.Context(), sess, m.TTL); err != nil {
		m.log.WithError(err).Warn("clear flashes failed")
	}
	return flashes
}

func (m *Manager) save(c *gin.Context, sess *Session) error {
	if err := m.Store.Save(c.Request.Context(), sess, m.TTL); err != nil {
		return err
	}
	token, _, err := Issue(sess.ID, m.Key, m.TTL)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(m.TTL.Seconds()), "/", "", m.Secure, true)
	c.Set(sessionKey, sess)
	return nil
}
