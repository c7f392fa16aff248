// Package auth protects the operator surface of the treasurer API.
//
// There is exactly one caller class with write access: operators. They
// authenticate with a shared admin secret delivered out of band. Payment
// submission itself is authenticated upstream (service mesh / gateway) and
// is out of scope here.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireAdmin returns middleware that rejects requests lacking the admin
// secret. The secret is accepted in the X-Admin-Secret header or as a
// bearer token. An empty configured secret disables the protected surface
// entirely rather than leaving it open.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin routes are disabled: no ADMIN_SECRET configured",
			})
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if provided == "" {
			provided = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid admin secret required",
			})
			return
		}

		c.Next()
	}
}
