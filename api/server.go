/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, also attached to handler logs
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the planning frontend
  5. JSON:       render content type for /api

ROUTE GROUPS:
  /api/distributions/*  Allocation, reconciliation, closing
  /api/calendar         Working window of a date
  /api/models|groups|orders  Master data
  /api/approvals/*      Overtime approvals
  /api/approvers/*      Approver configuration
  /api/reports/*        Calendar report
  /api/audit            Mutation log
  /api/scenarios/*      Demo scenarios
  /api/admin/*          Admin operations
  /health               Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins list disables CORS headers.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		// Distribution routes
		r.Route("/distributions", func(r chi.Router) {
			r.Get("/", h.GetDistribution)
			r.Post("/distribute", h.Distribute)
			r.Post("/cancel", h.Cancel)
			r.Post("/reconcile", h.Reconcile)
			r.Post("/replicate", h.Replicate)
			r.Post("/schedule-day", h.ScheduleDay)
			r.Post("/relocate", h.Relocate)
			r.Post("/close", h.Close)
		})

		r.Get("/calendar", h.GetCalendar)

		// Master data routes
		r.Route("/models", func(r chi.Router) {
			r.Get("/", h.ListModels)
			r.Post("/", h.CreateModel)
		})
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Get("/{id}/availability", h.GetAvailability)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{id}/quantities", h.GetQuantities)
		})

		// Approval routes
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/pending", h.ListPendingApprovals)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
		})
		r.Route("/approvers", func(r chi.Router) {
			r.Get("/", h.ListApprovers)
			r.Post("/", h.SaveApprover)
			r.Put("/{userId}", h.SaveApprover)
		})

		// Report routes
		r.Get("/reports/calendar", h.CalendarReport)
		r.Get("/audit", h.ListAudit)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/approvals/sweep", h.SweepApprovals)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
