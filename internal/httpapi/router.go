package httpapi

import (
	"net/http"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/authtoken"
	"github.com/ahmadjamalnasir/VPN-backend/internal/config"
	"github.com/ahmadjamalnasir/VPN-backend/internal/entitlement"
	"github.com/ahmadjamalnasir/VPN-backend/internal/identity"
	"github.com/ahmadjamalnasir/VPN-backend/internal/metrics"
	"github.com/ahmadjamalnasir/VPN-backend/internal/protection"
	"github.com/ahmadjamalnasir/VPN-backend/internal/registry"
	"github.com/ahmadjamalnasir/VPN-backend/internal/session"
	"github.com/ahmadjamalnasir/VPN-backend/internal/verification"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers bundles every collaborator the HTTP layer dispatches into.
type Handlers struct {
	cfg        config.Config
	identity   *identity.Store
	entitlement *entitlement.Engine
	registry   *registry.Registry
	sessions   *session.Manager
	verify     *verification.Service
	protection *protection.Layer
	tokens     *authtoken.Issuer
	pushRegistry *metrics.Registry
	operatorHub  *metrics.OperatorHub
}

// NewHandlers constructs the Handlers bundle.
func NewHandlers(
	cfg config.Config,
	identityStore *identity.Store,
	ee *entitlement.Engine,
	servers *registry.Registry,
	sessions *session.Manager,
	verify *verification.Service,
	protectionLayer *protection.Layer,
	tokens *authtoken.Issuer,
	pushRegistry *metrics.Registry,
	operatorHub *metrics.OperatorHub,
) *Handlers {
	return &Handlers{
		cfg:          cfg,
		identity:     identityStore,
		entitlement:  ee,
		registry:     servers,
		sessions:     sessions,
		verify:       verify,
		protection:   protectionLayer,
		tokens:       tokens,
		pushRegistry: pushRegistry,
		operatorHub:  operatorHub,
	}
}

// NewRouter builds the chi router: request-id/logging/recovery/timeout
// middleware, CORS from the configured allowed origins, a coarse per-IP
// rate-limit cap ahead of the per-endpoint protection layer, and the
// route groups below. The httprate guard here is a cheap in-memory
// first line of defense at the same per-IP ceiling the protection
// layer enforces against Redis; it exists to shed abusive traffic
// before it reaches a Redis round trip, not to replace the layer's
// own per-IP or process-wide checks.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	ipLimit := h.cfg.IPRateLimit
	if ipLimit <= 0 {
		ipLimit = 1000
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(ipLimit, time.Minute))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.Post("/verify-email", h.handleVerifyEmail)
		r.Post("/password-reset/request", h.handleRequestPasswordReset)
		r.Post("/password-reset/confirm", h.handleConfirmPasswordReset)
	})

	r.Route("/servers", func(r chi.Router) {
		r.Use(h.tokens.Middleware)
		r.Get("/", h.handleListServers)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.tokens.Middleware)

		r.Route("/me", func(r chi.Router) {
			r.Get("/", h.handleGetProfile)
			r.Patch("/", h.handleUpdateProfile)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", h.handleGetEntitlement)
			r.Post("/", h.handleAssignSubscription)
			r.Post("/cancel", h.handleCancelSubscription)
		})

		r.Route("/vpn", func(r chi.Router) {
			r.Post("/connect", h.handleConnect)
			r.Post("/disconnect", h.handleDisconnect)
			r.Get("/status", h.handleStatus)
			r.Get("/live", h.handleLiveMetrics)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireSuperuser)
			r.Post("/servers", h.handleCreateServer)
			r.Put("/servers/{serverID}", h.handleUpdateServer)
			r.Delete("/servers/{serverID}", h.handleDeleteServer)
			r.Get("/live", h.handleOperatorLiveMetrics)
		})
	})

	r.Post("/payments/webhook", h.handlePaymentWebhook)

	return r
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireSuperuser gates admin routes behind the bearer token's superuser
// claim; the token itself was already validated by authtoken.Issuer's
// Middleware earlier in the chain.
func (h *Handlers) requireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := authtoken.FromContext(r.Context())
		if !ok || !claims.Superuser {
			http.Error(w, "superuser access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
