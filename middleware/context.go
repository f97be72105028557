package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/upb/audit-quota/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for token claims
	ClaimsKey contextKey = "claims"

	// TenantKey is the context key for the resolved tenant
	TenantKey contextKey = "tenant"
)

// Claims represents the token claims the edge relies on
type Claims struct {
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	OrgID    string `json:"org_id"`
	OrgSlug  string `json:"org_slug"`
	OrgName  string `json:"org_name,omitempty"`
	OrgEmail string `json:"org_email,omitempty"`
}

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetClaimsFromContext retrieves token claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds token claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// TenantFromContext retrieves the tenant from context
func TenantFromContext(ctx context.Context) (models.Tenant, bool) {
	tenant, ok := ctx.Value(TenantKey).(models.Tenant)
	return tenant, ok
}

// WithTenant adds the tenant to the context
func WithTenant(ctx context.Context, tenant models.Tenant) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}
