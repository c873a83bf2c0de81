// Package web is the thin auth gateway: it maps HTTP requests onto the token
// lifecycle engine and the user directory, and maps the core's error taxonomy
// onto a fixed set of response shapes. No auth decision lives here.
package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alekolar/authd/internal/authcore"
	"github.com/alekolar/authd/internal/directory"
)

// MountAuthRoutes registers /health and the /users auth and profile routes.
func MountAuthRoutes(router gin.IRouter, engine *authcore.Engine, registrar directory.Registrar, metrics *authcore.CounterMetrics, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/health", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	users := router.Group("/users")

	users.POST("/auth/register", func(contextGin *gin.Context) {
		var inbound directory.NewUser
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		principal, registerErr := registrar.Register(contextGin.Request.Context(), inbound)
		if registerErr != nil {
			status, code := registrationOutcome(registerErr)
			if status == http.StatusInternalServerError {
				logger.Error("register failed",
					zap.String("code", "web.register.error"),
					zap.Error(registerErr))
			}
			contextGin.AbortWithStatusJSON(status, gin.H{"error": code})
			return
		}
		contextGin.JSON(http.StatusCreated, gin.H{
			"message": "new user created",
			"subject": principal.Subject,
			"roles":   principal.Roles,
		})
	})

	users.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound struct {
			Login    string `json:"login"`
			Password string `json:"password"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.Login) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		pair, loginErr := engine.Login(contextGin.Request.Context(), inbound.Login, inbound.Password)
		if loginErr != nil {
			if errors.Is(loginErr, authcore.ErrStorageUnavailable) {
				logger.Error("login storage failure",
					zap.String("code", "web.login.storage"),
					zap.Error(loginErr))
				contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable"})
				return
			}
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		contextGin.JSON(http.StatusOK, pair)
	})

	users.POST("/auth/refresh", func(contextGin *gin.Context) {
		var inbound struct {
			RefreshToken string `json:"refresh_token"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.RefreshToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		pair, refreshErr := engine.Refresh(contextGin.Request.Context(), inbound.RefreshToken)
		if refreshErr != nil {
			if errors.Is(refreshErr, authcore.ErrStorageUnavailable) {
				logger.Error("refresh storage failure",
					zap.String("code", "web.refresh.storage"),
					zap.Error(refreshErr))
				contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable"})
				return
			}
			// Expired, forged, consumed, and unknown all collapse to one body.
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
			return
		}
		contextGin.JSON(http.StatusOK, pair)
	})

	users.POST("/auth/logout", RequireAccess(engine), func(contextGin *gin.Context) {
		identity := IdentityFromContext(contextGin)
		if logoutErr := engine.Logout(contextGin.Request.Context(), identity.Subject); logoutErr != nil {
			logger.Error("logout storage failure",
				zap.String("code", "web.logout.storage"),
				zap.Error(logoutErr))
			contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable"})
			return
		}
		contextGin.Status(http.StatusNoContent)
	})

	users.GET("/me", RequireAccess(engine), func(contextGin *gin.Context) {
		identity := IdentityFromContext(contextGin)
		contextGin.JSON(http.StatusOK, gin.H{
			"subject": identity.Subject,
			"roles":   identity.Roles,
		})
	})

	users.GET("/protected", RequireAccess(engine), func(contextGin *gin.Context) {
		identity := IdentityFromContext(contextGin)
		contextGin.JSON(http.StatusOK, gin.H{
			"message": "hello " + identity.Subject,
		})
	})

	users.GET("/admin/metrics", RequireAccess(engine), RequireRoles("admin"), func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"counters": metrics.Snapshot()})
	})
}

func registrationOutcome(registerErr error) (int, string) {
	switch {
	case errors.Is(registerErr, directory.ErrLoginTaken):
		return http.StatusBadRequest, "login_taken"
	case errors.Is(registerErr, directory.ErrEmailTaken):
		return http.StatusBadRequest, "email_taken"
	case errors.Is(registerErr, directory.ErrLoginFormat):
		return http.StatusBadRequest, "login_format"
	case errors.Is(registerErr, directory.ErrPasswordWeak):
		return http.StatusBadRequest, "password_weak"
	case errors.Is(registerErr, directory.ErrFieldMissing):
		return http.StatusBadRequest, "field_missing"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
