package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequirePage redirects anonymous visitors to the login page.
func RequirePage(loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			c.Redirect(http.StatusFound, loginPath)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAPI answers 401 JSON for anonymous API calls.
func RequireAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Please log in first"})
			return
		}
		c.Next()
	}
}

// RequireRole flashes message and redirects to fallback unless the user has role.
// It must run after RequirePage.
func (m *Manager) RequireRole(role, message, fallback string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := CurrentUser(c)
		if !ok || sess.Role != role {
			m.Flash(c, FlashError, message)
			c.Redirect(http.StatusFound, fallback)
			c.Abort()
			return
		}
		c.Next()
	}
}
