// Package httpapi exposes the rideauth engine over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/rideauth"
	"github.com/MrEthical07/rideauth/middleware"
	"github.com/MrEthical07/rideauth/response"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadyProbe reports whether backing stores are reachable.
type ReadyProbe func(ctx context.Context) error

// Options configures the HTTP layer. A nil Registerer disables request
// metrics; a nil Gatherer disables /metrics.
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Ready      ReadyProbe
	TrustProxy bool
	// RatePerSecond and RateBurst bound requests per client IP. Zero disables
	// the limiter.
	RatePerSecond float64
	RateBurst     int
	Version       string
}

// API is the HTTP layer.
type API struct {
	engine  *rideauth.Engine
	mux     *http.ServeMux
	log     *zap.Logger
	metrics *middleware.HTTPMetrics
	limiter *middleware.IPRateLimiter
	opts    Options
}

func New(engine *rideauth.Engine, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a := &API{
		engine: engine,
		mux:    http.NewServeMux(),
		log:    opts.Logger.Named("http"),
		opts:   opts,
	}
	if opts.Registerer != nil {
		a.metrics = middleware.NewHTTPMetrics(opts.Registerer)
	}
	if opts.RatePerSecond > 0 {
		a.limiter = middleware.NewIPRateLimiter(opts.RatePerSecond, opts.RateBurst)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	cfg := a.engine.Config()
	guard := middleware.Guard(a.engine)
	admin := middleware.RequireRole(a.engine, cfg.Roles.Admin)
	internal := middleware.InternalKey(a.engine, cfg.Internal.Header)

	// health
	a.handle("GET /healthz", http.HandlerFunc(a.healthz))
	a.handle("GET /readyz", http.HandlerFunc(a.readyz))
	if a.opts.Gatherer != nil {
		a.mux.Handle("GET /metrics", promhttp.HandlerFor(a.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// password accounts
	a.handle("POST /v1/auth/register", http.HandlerFunc(a.register))
	a.handle("POST /v1/auth/login", http.HandlerFunc(a.login))
	a.handle("POST /v1/auth/verify-email", http.HandlerFunc(a.verifyEmail))
	a.handle("POST /v1/auth/resend-verification", http.HandlerFunc(a.resendVerification))
	a.handle("POST /v1/auth/password/forgot", http.HandlerFunc(a.forgotPassword))
	a.handle("POST /v1/auth/password/reset", http.HandlerFunc(a.resetPassword))

	// sessions
	a.handle("POST /v1/auth/refresh", http.HandlerFunc(a.refresh))
	a.handle("POST /v1/auth/logout", http.HandlerFunc(a.logout))
	a.handle("POST /v1/auth/logout-all", guard(http.HandlerFunc(a.logoutAll)))

	// federated
	a.handle("POST /v1/auth/google", http.HandlerFunc(a.signInGoogle))
	a.handle("POST /v1/auth/apple", http.HandlerFunc(a.signInApple))

	// roles
	a.handle("POST /v1/auth/role/switch", guard(http.HandlerFunc(a.switchRole)))
	a.handle("GET /v1/me", guard(http.HandlerFunc(a.me)))
	a.handle("PUT /v1/admin/accounts/{id}/roles", middleware.Chain(http.HandlerFunc(a.updateRoles), guard, admin))

	// service to service
	a.handle("GET /v1/internal/accounts/{id}", internal(http.HandlerFunc(a.internalAccount)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response.Fail(w, http.StatusNotFound, response.CodeNotFound, "route not found", nil)
	})
}

func (a *API) handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, a.metrics.Instrument(pattern, h))
}

// Handler returns the mux wrapped with request ids, access logging and the
// per-IP limiter.
func (a *API) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		middleware.RequestContext(a.opts.TrustProxy),
		middleware.AccessLog(a.log),
	}
	if a.limiter != nil {
		mws = append(mws, a.limiter.Middleware)
	}
	return middleware.Chain(a.mux, mws...)
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, http.StatusOK, "ok", map[string]string{
		"service": "rideauth",
		"version": a.opts.Version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.opts.Ready(ctx); err != nil {
			a.log.Warn("readiness check failed", zap.Error(err))
			response.Fail(w, http.StatusServiceUnavailable, response.CodeServiceUnavailable, "not ready", nil)
			return
		}
	}
	response.OK(w, http.StatusOK, "ready", nil)
}

// fail writes err and logs it when it maps to a server error.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _, _ := response.StatusFor(err); status >= http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", rideauth.RequestIDFromContext(r.Context())),
			zap.Error(err))
	}
	response.Error(w, err)
}
