package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/audit-quota/app"
	"github.com/upb/audit-quota/handlers"
	"github.com/upb/audit-quota/middleware"
	"github.com/upb/audit-quota/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	requestTimeout := deps.Config.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	// Credentialed CORS: only local origins unless CORS_ALLOWED_ORIGINS lists more
	allowedOrigins := deps.Config.Server.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.SQLDB(), deps.Dispatcher, deps.Logger)

	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	audits := handlers.NewAuditHandler(deps.Admission, deps.Status, deps.Quota, deps.Jobs, deps.Logger)
	workflow := handlers.NewWorkflowHandler(deps.Jobs, deps.Config.Workflow.WebhookSecret, deps.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Signed by the workflow engine rather than a user token
		r.Post("/workflow/callback", workflow.HandleCallback)

		r.Route("/orgs/{orgSlug}", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.ExtractTenant)
			r.Use(deps.AuthMiddleware.MatchOrgSlug("orgSlug"))

			r.Post("/audits/batch", audits.HandleBatch)
			r.Post("/audits/single", audits.HandleSingle)
			r.Get("/audits/status", audits.HandleStatus)
			r.Get("/quota", audits.HandleQuota)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "Endpoint not found")
	})

	return r
}
