package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/config"
	"taxpilot.io/internal/obs"
)

const serviceName = "taxpilot-auth"

// Pinger reports storage readiness for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries the HTTP-facing settings; zero values fall back to config.Default.
type Options struct {
	Cookie         config.CookieConfig
	RateLimit      config.RateConfig
	MaxBodyBytes   int64
	AllowedOrigins []string
	// TrustedProxies are peers allowed to set X-Forwarded-For.
	TrustedProxies []string
	Logger         logrus.FieldLogger
	Version        string
}

// API is the HTTP surface of the auth service.
type API struct {
	router  *mux.Router
	auth    *auth.Service
	ready   Pinger
	cookie  config.CookieConfig
	limiter *ipLimiter
	log     logrus.FieldLogger
	version string

	maxBodyBytes   int64
	allowedOrigins []string
}

func New(svc *auth.Service, ready Pinger, opts Options) *API {
	def := config.Default()
	if opts.Cookie.Name == "" {
		opts.Cookie = def.Cookie
	}
	if opts.Cookie.Path == "" {
		opts.Cookie.Path = "/"
	}
	if opts.RateLimit.PerSecond <= 0 || opts.RateLimit.Burst <= 0 {
		opts.RateLimit = def.HTTP.RateLimit
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.HTTP.MaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = obs.Logger()
	}
	proxies, err := parseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		opts.Logger.WithError(err).Warn("ignoring trusted proxies; rate limiting by peer address")
		proxies = nil
	}

	a := &API{
		router:         mux.NewRouter(),
		auth:           svc,
		ready:          ready,
		cookie:         opts.Cookie,
		limiter:        newIPLimiter(opts.RateLimit.PerSecond, opts.RateLimit.Burst, proxies),
		log:            opts.Logger,
		version:        opts.Version,
		maxBodyBytes:   opts.MaxBodyBytes,
		allowedOrigins: opts.AllowedOrigins,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router

	// health/ready
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	// credential endpoints are rate limited per client IP
	r.Handle("/register", a.limiter.Wrap(http.HandlerFunc(a.handleRegister))).Methods(http.MethodPost)
	r.Handle("/login", a.limiter.Wrap(http.HandlerFunc(a.handleLogin))).Methods(http.MethodPost)
	r.Handle("/refresh", a.limiter.Wrap(http.HandlerFunc(a.handleRefresh))).Methods(http.MethodPost)

	r.Handle("/logout", a.AuthGuard(http.HandlerFunc(a.handleLogout))).Methods(http.MethodPost)
	r.Handle("/logout/all", a.AuthGuard(http.HandlerFunc(a.handleLogoutAll))).Methods(http.MethodPost)
	r.Handle("/me", a.AuthGuard(http.HandlerFunc(a.handleMe))).Methods(http.MethodGet)

	// role changes are reserved to administrators; a direct manage_users
	// grant only covers permission grants
	manage := a.guarded(auth.PermManageUsers)
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return manage(a.RequireRole(auth.RoleAdmin)(h).ServeHTTP)
	}
	r.Handle("/users/{id}/roles/{role}", adminOnly(a.handleAssignRole)).Methods(http.MethodPost)
	r.Handle("/users/{id}/roles/{role}", adminOnly(a.handleRevokeRole)).Methods(http.MethodDelete)
	r.Handle("/users/{id}/permissions/{permission}", manage(a.handleGrantPermission)).Methods(http.MethodPost)
	r.Handle("/users/{id}/permissions/{permission}", manage(a.handleRevokePermission)).Methods(http.MethodDelete)
	r.Handle("/users/{id}/permissions", a.guarded(auth.PermViewUsers)(a.handleUserPermissions)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// guarded chains AuthGuard with a permission check.
func (a *API) guarded(permission string) func(http.HandlerFunc) http.Handler {
	return func(h http.HandlerFunc) http.Handler {
		return a.AuthGuard(a.RequirePermission(permission)(h))
	}
}

// Handler returns the router wrapped in the hardening and observability chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = obs.Instrument(a.routeLabel, h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = AccessLog(h, a.log)
	h = RequestID(h)
	return otelhttp.NewHandler(h, serviceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + a.routeLabel(r)
		}),
	)
}

// routeLabel returns the matched route template so metric labels stay bounded.
func (a *API) routeLabel(r *http.Request) string {
	var m mux.RouteMatch
	if a.router.Match(r, &m) && m.Route != nil {
		if tpl, err := m.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			a.log.WithError(err).Warn("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
