package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// adminRole passes every gate; mirrors the allow-admin bypass in the roles
// model.
const adminRole = "admin"

// Allowed reports whether a principal holding roles may perform an operation
// declaring required roles. An empty requirement allows everyone; when
// allowAdmin is set, the admin role passes any gate. Pure function, no
// handler wrapping.
func Allowed(roles []string, required []string, allowAdmin bool) bool {
	if len(required) == 0 {
		return true
	}
	for _, role := range roles {
		if allowAdmin && role == adminRole {
			return true
		}
		for _, want := range required {
			if role == want {
				return true
			}
		}
	}
	return false
}

// RequireRoles denies the request unless the identity resolved by
// RequireAccess holds one of the required roles (or admin).
func RequireRoles(required ...string) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		identity := IdentityFromContext(contextGin)
		if identity.Subject == "" {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
			return
		}
		if !Allowed(identity.Roles, required, true) {
			contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		contextGin.Next()
	}
}
