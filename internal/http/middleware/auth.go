// README: Bearer token auth middleware; resolves the caller into a ride actor.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rideshare/internal/infra"
	"rideshare/internal/modules/ride"
	"rideshare/internal/types"
)

const (
	ctxKeyUID  = "auth.uid"
	ctxKeyRole = "auth.role"
)

// Auth verifies the bearer token and stores the caller identity on the context.
// Tokens without a role claim belong to riders.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		role := string(ride.RoleRider)
		if v := token.Role(); v != "" {
			role = v
		}
		c.Set(ctxKeyUID, token.UID)
		c.Set(ctxKeyRole, role)
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// Actor is the caller as the ride module sees it. An unknown role claim is
// passed through and rejected by the ride policy.
func Actor(c *gin.Context) ride.Actor {
	return ride.Actor{ID: types.ID(CallerUID(c)), Role: ride.Role(CallerRole(c))}
}
