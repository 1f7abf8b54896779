/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the calendar front end
  6. RequireMember (booking routes only): X-User -> member

ROUTE GROUPS:
  /api/me, /api/dashboard, /api/calendar/*, /api/usage   Views (member)
  /api/bookings/*                                        Lifecycle (member)
  /api/ownership/*                                       Periods (member)
  /api/audit                                             History (member)
  /api/members, /api/scenarios/*, /api/admin/*           Setup (open)
  /                                                      API index page

FRONT END:
  None is served from here. A calendar client runs on its own origin and
  reaches the API through CORS (STAY_CORS_ORIGINS).

SECURITY NOTE:
  X-User is trusted as sent. Put the server behind an authenticating
  proxy that sets the header.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/stay/main.go: Server startup
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

	origins := []string{"*"}
	if h.Config != nil && len(h.Config.CORSOrigins) > 0 {
		origins = h.Config.CORSOrigins
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Routes acting on behalf of a member
		r.Group(func(r chi.Router) {
			r.Use(h.RequireMember)

			r.Get("/me", h.Me)
			r.Get("/dashboard", h.Dashboard)
			r.Get("/calendar/events", h.CalendarEvents)
			r.Get("/usage", h.Usage)
			r.Get("/audit", h.ListAudit)

			r.Route("/bookings", func(r chi.Router) {
				r.Get("/", h.ListBookings)
				r.Post("/", h.CreateBooking)
				r.Get("/{id}", h.GetBooking)
				r.Get("/{id}/audit", h.BookingAudit)
				r.Post("/{id}/approve", h.ApproveBooking)
				r.Post("/{id}/reject", h.RejectBooking)
				r.Post("/{id}/deroga", h.RequestDeroga)
				r.Post("/{id}/modify", h.ModifyBooking)
				r.Post("/{id}/dates", h.UpdateDates)
				r.Post("/{id}/cancel", h.CancelBooking)
			})

			r.Route("/ownership", func(r chi.Router) {
				r.Get("/", h.ListPeriods)
				r.Post("/", h.CreatePeriod)
				r.Delete("/{id}", h.DeletePeriod)
			})
		})

		// Setup routes, usable on an empty member directory
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)
		})
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reset", h.ResetDatabase)
			r.Post("/remind", h.SendReminders)
		})
	})

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Shared Stay</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Shared Stay API</h1>
<p>Requests need an <code>X-User</code> header naming a member.</p>
<ul>
<li><a href="/api/members">/api/members</a> - Member directory</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
