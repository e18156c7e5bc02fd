/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/documents/*      Document lifecycle (drafts, finalization, transitions)
  /api/invoices/*       Advance/final settlement
  /api/chains/*         Hash chain verification
  /api/audit            Cross-document audit queries
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. The tenant and actor headers are trusted
  as-is; run behind an authenticating proxy in production.

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
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-Actor-ID", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Document lifecycle routes
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Post("/", h.CreateDocument)
			r.Get("/{id}", h.GetDocument)
			r.Put("/{id}", h.UpdateDocument)
			r.Delete("/{id}", h.DeleteDocument)
			r.Post("/{id}/finalize", h.FinalizeDocument)
			r.Post("/{id}/transition", h.TransitionDocument)
			r.Post("/{id}/soft-delete", h.SoftDeleteDocument)
			r.Get("/{id}/audit", h.GetAuditTrail)
		})

		// Settlement routes
		r.Route("/invoices", func(r chi.Router) {
			r.Post("/{id}/advances", h.LinkAdvances)
			r.Get("/{id}/settlement", h.GetSettlement)
		})

		// Chain verification routes
		r.Route("/chains", func(r chi.Router) {
			r.Get("/verify", h.VerifyChain)
			r.Get("/runs", h.ListVerificationRuns)
		})

		// Cross-document audit query
		r.Get("/audit", h.QueryAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Fiscal Document Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Fiscal Document Engine API</h1>
<p>Tamper-evident invoice ledger. Pass <code>X-Tenant-ID</code> on every request.</p>
<h2>API Endpoints</h2>
<ul>
<li><code>/api/documents?type=invoice</code> - List documents</li>
<li><code>/api/chains/verify?type=invoice</code> - Verify a hash chain</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
