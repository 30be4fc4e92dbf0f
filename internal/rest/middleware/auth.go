package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	authProvider "github.com/meterline/meterline/internal/auth"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auth"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/types"
)

// AuthenticateMiddleware guards the admin surface. Requests carry either a
// JWT from signup/login as a Bearer token or an admin API key in the
// configured header; both resolve to organisation-scoped claims.
func AuthenticateMiddleware(cfg *config.Configuration, log *logger.Logger) gin.HandlerFunc {
	provider := authProvider.NewProvider(cfg)

	return func(c *gin.Context) {
		if key := c.GetHeader(cfg.Auth.APIKey.Header); key != "" {
			claims, ok := authProvider.ValidateAdminAPIKey(cfg, key)
			if !ok {
				log.Debugw("invalid admin api key", "path", c.Request.URL.Path)
				abortUnauthorized(c, "invalid API key")
				return
			}
			c.Request = c.Request.WithContext(contextWithClaims(c.Request.Context(), claims))
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		claims, err := provider.ValidateToken(c.Request.Context(), token)
		if err != nil {
			log.Debugw("token validation failed", "error", err)
			abortUnauthorized(c, "invalid token")
			return
		}
		if claims == nil || claims.UserID == "" || claims.OrganisationID == "" {
			abortUnauthorized(c, "invalid token claims")
			return
		}

		ctx := contextWithClaims(c.Request.Context(), claims)
		ctx = context.WithValue(ctx, types.CtxJWT, token)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ProjectAuthMiddleware authenticates event ingest with a project API key
// presented as a bearer token. The resolved project scopes the event.
func ProjectAuthMiddleware(projects service.ProjectService, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortUnauthorized(c, "missing project API key")
			return
		}

		proj, err := projects.AuthenticateAPIKey(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			log.Debugw("project key rejected", "error", err)
			abortUnauthorized(c, "invalid project API key")
			return
		}

		ctx := types.SetOrganisationID(c.Request.Context(), proj.OrganisationID)
		ctx = types.SetProjectID(ctx, proj.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole gates a route on the authenticated role. Roles are ordered
// viewer < admin < owner; the auth middleware must run first.
func RequireRole(min types.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := types.GetUserRole(c.Request.Context())
		if role.Validate() != nil || roleRank(role) < roleRank(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, ierr.ErrorResponse{
				Error:      "insufficient role",
				Code:       ierr.ErrCodePermissionDenied,
				StatusCode: http.StatusForbidden,
			})
			return
		}
		c.Next()
	}
}

// IPWhitelistMiddleware restricts a route group to known operator
// addresses. An empty whitelist disables the check.
func IPWhitelistMiddleware(cfg *config.Configuration, log *logger.Logger) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.Auth.AdminIPWhitelist))
	for _, ip := range cfg.Auth.AdminIPWhitelist {
		allowed[ip] = struct{}{}
	}

	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		if _, ok := allowed[c.ClientIP()]; !ok {
			log.Warnw("request from non-whitelisted address", "ip", c.ClientIP(), "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, ierr.ErrorResponse{
				Error:      "address not allowed",
				Code:       ierr.ErrCodePermissionDenied,
				StatusCode: http.StatusForbidden,
			})
			return
		}
		c.Next()
	}
}

func roleRank(r types.UserRole) int {
	switch r {
	case types.UserRoleOwner:
		return 2
	case types.UserRoleAdmin:
		return 1
	default:
		return 0
	}
}

func contextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = types.SetUserID(ctx, claims.UserID)
	ctx = types.SetOrganisationID(ctx, claims.OrganisationID)
	ctx = types.SetUserRole(ctx, claims.Role)
	return ctx
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ierr.ErrorResponse{
		Error:      msg,
		Code:       ierr.ErrCodePermissionDenied,
		StatusCode: http.StatusUnauthorized,
	})
}
