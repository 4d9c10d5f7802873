/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     X-Request-ID in, X-Request-ID out, stored for logging
  2. RequestLogger: One slog line per request, level by status
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the frontend
  5. Authenticator: Bearer tokens on /api (except /api/health)

ROUTE GROUPS:
  Reads need any authenticated caller. Writes need admin or finance.
  Distribution writes also admit managers, limited in the handler to the
  manager's own department.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification and role checks
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/niuyj2008/performance-commission-system/commission"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	// Auth verifies bearer tokens. Nil or an empty secret disables it.
	Auth *Authenticator
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
	}))

	auth := opts.Auth
	if auth == nil {
		auth = &Authenticator{}
	}
	writers := RequireRole(commission.RoleAdmin, commission.RoleFinance)
	distributors := RequireRole(commission.RoleAdmin, commission.RoleFinance, commission.RoleManager)

	r.Get("/api/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/commission", func(r chi.Router) {
			r.Post("/calculate", h.Calculate)
			r.Post("/allocate", h.Allocate)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.With(writers).Post("/", h.CreateProject)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetProject)
				r.Get("/commission", h.GetCommission)
				r.Get("/additions", h.ListAdditions)
				r.Get("/area-mix", h.GetAreaMix)
				r.Get("/allocation", h.GetAllocation)
				r.Get("/balances", h.ListBalances)
				r.Get("/stages", h.ListStages)
				r.Get("/personal-allocations", h.GetPersonalAllocations)
				r.Get("/export", h.ExportProject)

				r.Group(func(r chi.Router) {
					r.Use(writers)
					r.Delete("/", h.DeleteProject)
					r.Post("/calculate", h.RecalculateProject)
					r.Post("/additions", h.RecordAddition)
					r.Put("/area-mix", h.ReplaceAreaMix)
					r.Post("/area-mix/import", h.ImportAreaMix)
					r.Post("/allocation", h.AllocateProject)
					r.Put("/stages", h.ReplaceStages)
					r.Put("/stages/{stageID}", h.UpdateStage)
					r.Delete("/stages/{stageID}", h.DeleteStage)
					r.Post("/personal-allocations", h.AllocatePersonal)
				})

				r.Route("/departments/{dept}", func(r chi.Router) {
					r.Get("/balance", h.DepartmentBalance)
					r.Get("/distributions", h.ListDistributions)
					r.Group(func(r chi.Router) {
						r.Use(distributors)
						r.Post("/distributions", h.UpsertDistribution)
						r.Put("/distributions", h.BatchDistribute)
						r.Delete("/distributions/{employeeID}", h.DeleteDistribution)
					})
				})
			})
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.With(writers).Post("/", h.CreateEmployee)
			r.Get("/{id}/summary", h.EmployeeSummary)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Get("/summary/employees", h.PaymentSummaryByEmployee)
			r.Get("/summary/departments", h.PaymentSummaryByDepartment)
			r.With(writers).Post("/", h.RecordPayments)
			r.With(writers).Delete("/{id}", h.DeletePayment)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", h.GetConfig)
			r.With(writers).Put("/{section}", h.ReplaceConfigSection)
			r.With(writers).Post("/reset", h.ResetConfig)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(writers).Post("/load", h.LoadScenario)
		})
	})

	return r
}
