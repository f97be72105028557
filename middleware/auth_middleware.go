package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/audit-quota/models"
	"github.com/upb/audit-quota/utils"
)

// TokenValidator defines the interface for validating access tokens
type TokenValidator interface {
	// ValidateToken validates a token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// authTokenCookieName is the cookie checked when no Authorization header is sent
const authTokenCookieName = "auth_token"

// RequireAuth is a middleware that requires a valid token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Unauthorized")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Unauthorized")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Sub),
			zap.String("email", claims.Email))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractTenant resolves the tenant from claims.
// This should be called after RequireAuth
func (m *AuthMiddleware) ExtractTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		claims := GetClaimsFromContext(ctx)
		if claims == nil {
			m.logger.Error("claims not found in context",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Unauthorized")
			return
		}
		if claims.Sub == "" || claims.Email == "" {
			m.logger.Warn("claims missing user identity",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Unauthorized")
			return
		}

		tenant := models.Tenant{
			UserID:   claims.Sub,
			Email:    claims.Email,
			Name:     claims.Name,
			OrgID:    claims.OrgID,
			OrgSlug:  claims.OrgSlug,
			OrgName:  claims.OrgName,
			OrgEmail: claims.OrgEmail,
		}

		m.logger.Debug("tenant information extracted",
			zap.String("request_id", requestID),
			zap.String("user_id", tenant.UserID),
			zap.String("org_slug", tenant.OrgSlug))

		next.ServeHTTP(w, r.WithContext(WithTenant(ctx, tenant)))
	})
}

// MatchOrgSlug rejects requests whose URL organization differs from the
// tenant's. param names the chi URL parameter holding the slug.
// This should be called after ExtractTenant
func (m *AuthMiddleware) MatchOrgSlug(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			tenant, ok := TenantFromContext(ctx)
			if !ok {
				m.logger.Error("tenant not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Unauthorized")
				return
			}

			slug := chi.URLParam(r, param)
			if slug == "" || slug != tenant.OrgSlug {
				m.logger.Warn("organization mismatch",
					zap.String("request_id", requestID),
					zap.String("requested", slug),
					zap.String("org_slug", tenant.OrgSlug))
				_ = utils.WriteNotFound(w, "Organization not found")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken extracts the token from the Authorization header ("Bearer TOKEN")
// or the auth_token cookie. The header takes precedence when both are present.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
