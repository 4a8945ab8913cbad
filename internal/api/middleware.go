package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// SessionCookieName carries the opaque session identifier.
	SessionCookieName = "quiz_session"

	sessionKey = "quiz.session_id"

	cookieMaxAge = 24 * 60 * 60 // seconds
)

// SessionCookie identifies the caller by an HttpOnly cookie, issuing a
// fresh uuid when none is present. Handlers read the id via SessionID.
func SessionCookie() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookieName)
		if err != nil || id == "" {
			u, err := uuid.NewV7()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"message": "could not establish session",
				})
				return
			}

			id = u.String()
			c.SetCookie(SessionCookieName, id, cookieMaxAge, "/", "", false, true)
		}

		c.Set(sessionKey, id)
		c.Next()
	}
}

// SessionID returns the session identifier established by
// SessionCookie, or "" when the middleware did not run.
func SessionID(c *gin.Context) string {
	return c.GetString(sessionKey)
}
