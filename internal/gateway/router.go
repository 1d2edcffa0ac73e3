// ABOUTME: chi router assembly with middleware, rate limits, and route groups
// ABOUTME: Public, agent-authenticated, and admin routes live under /api/v1

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pengfeipang/aizn/internal/audit"
	"github.com/pengfeipang/aizn/internal/auth"
	"github.com/pengfeipang/aizn/internal/metrics"
	"github.com/pengfeipang/aizn/internal/ratelimit"
)

// newRouter builds the HTTP handler for the gateway.
func (g *Gateway) newRouter() http.Handler {
	r := chi.NewRouter()

	if g.config.Metrics.Enabled {
		r.Use(metrics.Middleware)
	}
	r.Use(chimw.RequestID)
	r.Use(requestLogger(g.logger.With("component", "http")))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(corsOptions(g.config.CORS.AllowedOrigins)))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	requireAgent := auth.Middleware(g.authn, g.writeError)
	requireClaimed := auth.RequireClaimed(g.writeError)

	r.Route("/api/v1", func(r chi.Router) {
		if g.limiter != nil {
			r.Use(g.rateLimit(ratelimit.Rule{
				Name:   "api",
				Limit:  g.config.RateLimit.APILimit,
				Window: g.config.RateLimit.APIWindow,
			}))
		}

		r.Route("/agents", func(r chi.Router) {
			r.With(g.registerLimit()...).Post("/register", g.handleRegister)

			r.Group(func(r chi.Router) {
				r.Use(requireAgent)
				r.Method(http.MethodGet, "/status", auth.Handle(g.handleStatus))
				r.With(requireClaimed).Method(http.MethodGet, "/me", auth.Handle(g.handleMe))
				r.Method(http.MethodGet, "/{name}", auth.Handle(g.handleGetAgent))
			})
		})

		r.Get("/public/agents/stats", g.handleAgentStats)

		r.Route("/claim", func(r chi.Router) {
			r.Get("/{token}", g.handleClaimInfo)
			r.Post("/confirm/{token}", g.handleConfirmClaim)
		})

		if g.adminTokens != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.AdminMiddleware(g.adminTokens, g.writeError))
				r.Get("/audit", g.handleListAudit)
			})
		}
	})

	return r
}

// rateLimit keys the limiter on the socket peer. Forwarded headers are
// believed only from server.trusted_proxies or with trust_forwarded_for.
func (g *Gateway) rateLimit(rule ratelimit.Rule) func(http.Handler) http.Handler {
	key := ratelimit.PeerKey(g.config.Server.TrustedProxyNets, g.config.RateLimit.TrustForwardedFor)
	return ratelimit.Middleware(g.limiter, rule, key, g.writeRateLimited, g.logger.With("component", "ratelimit"))
}

func (g *Gateway) registerLimit() []func(http.Handler) http.Handler {
	if g.limiter == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{g.rateLimit(ratelimit.Rule{
		Name:   "register",
		Limit:  g.config.RateLimit.RegisterLimit,
		Window: g.config.RateLimit.RegisterWindow,
	})}
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

// requestLogger logs one line per request with status and latency.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"route", loggedRoute(r),
					"status", ww.Status(),
					"latency", time.Since(start),
					"request_id", chimw.GetReqID(r.Context()),
					"client_ip", audit.ClientIP(r),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// loggedRoute returns the matched chi pattern so claim tokens in the raw
// path never reach the logs.
func loggedRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
