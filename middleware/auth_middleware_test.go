package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/upb/audit-quota/models"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func testClaims() *Claims {
	return &Claims{
		Sub:      "user-123",
		Email:    "me@acme.io",
		Name:     "Me",
		OrgID:    "org-1",
		OrgSlug:  "acme",
		OrgName:  "Acme",
		OrgEmail: "billing@acme.io",
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token in Authorization header allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)
		claims := testClaims()

		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			extracted := GetClaimsFromContext(r.Context())
			require.NotNil(t, extracted)
			assert.Equal(t, claims.Sub, extracted.Sub)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("valid token in cookie allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		mockValidator.On("ValidateToken", mock.Anything, "cookie-token").Return(testClaims(), nil)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token"})
		w := httptest.NewRecorder()

		middleware.RequireAuth(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		middleware.RequireAuth(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Unauthorized")
		mockValidator.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
	})

	t.Run("invalid token returns 401 and logs warning", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, zap.New(core))

		mockValidator.On("ValidateToken", mock.Anything, "bad-token").Return(nil, errors.New("token expired"))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		w := httptest.NewRecorder()

		middleware.RequireAuth(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, 1, logs.FilterMessage("token validation failed").Len())
	})
}

func TestExtractTenant(t *testing.T) {
	logger := zap.NewNop()
	middleware := NewAuthMiddleware(new(MockTokenValidator), logger)

	t.Run("claims become tenant", func(t *testing.T) {
		var got models.Tenant
		handler := middleware.ExtractTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, ok := TenantFromContext(r.Context())
			require.True(t, ok)
			got = tenant
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req = req.WithContext(WithClaims(req.Context(), testClaims()))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.Tenant{
			UserID:   "user-123",
			Email:    "me@acme.io",
			Name:     "Me",
			OrgID:    "org-1",
			OrgSlug:  "acme",
			OrgName:  "Acme",
			OrgEmail: "billing@acme.io",
		}, got)
		assert.Equal(t, "billing@acme.io", got.QuotaKey())
	})

	t.Run("missing claims returns 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		middleware.ExtractTenant(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("claims without email returns 401", func(t *testing.T) {
		claims := testClaims()
		claims.Email = ""
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req = req.WithContext(WithClaims(req.Context(), claims))
		w := httptest.NewRecorder()

		middleware.ExtractTenant(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestMatchOrgSlug(t *testing.T) {
	middleware := NewAuthMiddleware(new(MockTokenValidator), zap.NewNop())

	newRouter := func(tenant *models.Tenant) http.Handler {
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if tenant != nil {
					req = req.WithContext(WithTenant(req.Context(), *tenant))
				}
				next.ServeHTTP(w, req)
			})
		})
		r.With(middleware.MatchOrgSlug("orgSlug")).Get("/orgs/{orgSlug}/audits", okHandler().ServeHTTP)
		return r
	}

	tests := []struct {
		name     string
		tenant   *models.Tenant
		path     string
		wantCode int
	}{
		{"matching slug", &models.Tenant{OrgSlug: "acme"}, "/orgs/acme/audits", http.StatusOK},
		{"other organization", &models.Tenant{OrgSlug: "acme"}, "/orgs/globex/audits", http.StatusNotFound},
		{"tenant without organization", &models.Tenant{}, "/orgs/acme/audits", http.StatusNotFound},
		{"no tenant", nil, "/orgs/acme/audits", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newRouter(tt.tenant).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusNotFound {
				assert.Contains(t, w.Body.String(), "Organization not found")
			}
		})
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"bearer header", "Bearer abc", "", "abc"},
		{"lowercase scheme", "bearer abc", "", "abc"},
		{"header wins over cookie", "Bearer abc", "def", "abc"},
		{"cookie fallback", "", "def", "def"},
		{"basic scheme ignored", "Basic abc", "", ""},
		{"malformed header", "Bearer", "", ""},
		{"nothing", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: authTokenCookieName, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, extractToken(req))
		})
	}
}
