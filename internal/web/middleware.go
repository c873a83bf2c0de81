package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alekolar/authd/internal/authcore"
)

// identityContextKey is where RequireAccess stores the resolved identity.
const identityContextKey = "auth_identity"

// RequireAccess validates the bearer access token and injects the resolved
// identity. Expired tokens get a distinct WWW-Authenticate hint so clients
// know to run the refresh flow instead of a hard re-login.
func RequireAccess(engine *authcore.Engine) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		rawToken, ok := bearerToken(contextGin.Request)
		if !ok {
			contextGin.Header("WWW-Authenticate", "Bearer")
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
			return
		}
		identity, authErr := engine.Authenticate(contextGin.Request.Context(), rawToken)
		if authErr != nil {
			if errors.Is(authErr, authcore.ErrTokenExpired) {
				contextGin.Header("WWW-Authenticate", `Bearer error="invalid_token", error_description="The access token expired"`)
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token_expired"})
				return
			}
			contextGin.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		contextGin.Set(identityContextKey, identity)
		contextGin.Next()
	}
}

// IdentityFromContext returns the identity stored by RequireAccess. It is
// only meaningful on handlers mounted behind that middleware.
func IdentityFromContext(contextGin *gin.Context) authcore.Identity {
	value, exists := contextGin.Get(identityContextKey)
	if !exists {
		return authcore.Identity{}
	}
	identity, ok := value.(authcore.Identity)
	if !ok {
		return authcore.Identity{}
	}
	return identity
}

func bearerToken(request *http.Request) (string, bool) {
	header := request.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
