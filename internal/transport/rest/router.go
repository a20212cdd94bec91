package rest

import (
	"net/http"
	"time"

	"github.com/gigplan/availability-service/internal/domain"
	"github.com/gigplan/availability-service/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterDeps struct {
	Cache     domain.CacheRepository
	Handler   *Handler
	Verifier  security.AccessTokenVerifier
	JWTIssuer string

	RateLimit       int
	RateLimitWindow time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Cache == nil {
		panic("rest.NewRouter: nil cache")
	}
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}
	if d.RateLimit <= 0 {
		d.RateLimit = 100
	}
	if d.RateLimitWindow <= 0 {
		d.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	r.Use(RateLimitMiddleware(d.Cache, d.RateLimit, d.RateLimitWindow))
	r.Use(SecurityHeaders)

	r.Route("/api/v1/groups/{groupID}", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier, AuthOptions{ExpectedIssuer: d.JWTIssuer}))

		// writes
		r.Post("/events/{eventID}/responses", d.Handler.RecordResponse)

		// reads
		r.Get("/events/{eventID}/responses/me", d.Handler.MyResponse)
		r.Get("/events/{eventID}/responded", d.Handler.HasResponded)
		r.Get("/events/{eventID}/summary", d.Handler.Summary)
		r.Get("/events/{eventID}/matrix", d.Handler.Matrix)
		r.Get("/summaries", d.Handler.BulkSummaries)
		r.Get("/prompts/pending", d.Handler.PendingPrompts)
	})

	return r
}
