package rbac

import (
	"net/http"

	"callbroker/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireParty enforces that device tokens are bound to a restaurant or screen.
func RequireParty() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := auth.IdentityFrom(c.Request.Context())
		if IsSuperAdmin(id.Role) {
			c.Next()
			return
		}
		if !IsDeviceRole(id.Role) || id.PartyID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "party_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsSuperAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireOwnParam restricts a route with a :param party id to the device that
// owns it. partyType is the role whose tokens may match.
func RequireOwnParam(param, partyType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := auth.IdentityFrom(c.Request.Context())
		if !CanActAs(id.Role, id.PartyID, partyType, c.Param(param)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
