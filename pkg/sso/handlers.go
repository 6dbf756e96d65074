package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/idsite/pkg/httputil"
	"github.com/platinummonkey/idsite/pkg/idsite"
	"github.com/platinummonkey/idsite/pkg/observability"
)

// Default routes and ID Site pages.
const (
	DefaultLoginRoute    = "/idsite/login"
	DefaultRegisterRoute = "/idsite/register"
	DefaultLogoutRoute   = "/idsite/logout"
	DefaultCallbackRoute = "/idsite/callback"

	DefaultRegisterPath = "/#/register"
)

// Redirect kinds used as metric labels.
const (
	kindLogin    = "login"
	kindRegister = "register"
	kindLogout   = "logout"
)

// Options configures Handlers.
type Options struct {
	ApplicationHref string
	// CallbackURI is the absolute URI of CallbackRoute as seen by browsers.
	CallbackURI string

	LoginRoute    string
	RegisterRoute string
	LogoutRoute   string
	CallbackRoute string

	// LoginPath and RegisterPath select the ID Site page. An empty LoginPath
	// lands on the ID Site default page.
	LoginPath    string
	RegisterPath string

	LoginNextURI    string
	RegisterNextURI string
	LogoutNextURI   string

	Organization OrganizationResolver

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func (o *Options) setDefaults() {
	def := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	def(&o.LoginRoute, DefaultLoginRoute)
	def(&o.RegisterRoute, DefaultRegisterRoute)
	def(&o.LogoutRoute, DefaultLogoutRoute)
	def(&o.CallbackRoute, DefaultCallbackRoute)
	def(&o.RegisterPath, DefaultRegisterPath)
	def(&o.LoginNextURI, "/")
	def(&o.RegisterNextURI, "/")
	def(&o.LogoutNextURI, "/")
}

// Handlers serves the ID Site redirect and callback routes
type Handlers struct {
	keys     idsite.KeyResolver
	callback *idsite.CallbackHandler
	opts     Options
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewHandlers creates the route handlers. Listeners registered on callback run
// before the browser is redirected to the matching next URI.
func NewHandlers(keys idsite.KeyResolver, callback *idsite.CallbackHandler, opts Options) (*Handlers, error) {
	if keys == nil {
		return nil, fmt.Errorf("key resolver is required")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback handler is required")
	}
	if opts.ApplicationHref == "" {
		return nil, fmt.Errorf("application href is required")
	}
	if opts.CallbackURI == "" {
		return nil, fmt.Errorf("callback URI is required")
	}
	opts.setDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		keys:     keys,
		callback: callback,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      time.Now,
	}, nil
}

// RegisterRoutes registers the ID Site routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(h.opts.LoginRoute, h.login).Methods("GET")
	router.HandleFunc(h.opts.RegisterRoute, h.register).Methods("GET")
	router.HandleFunc(h.opts.LogoutRoute, h.logout).Methods("GET", "POST")

	// Any method reaches the callback handler, which rejects all but GET.
	router.HandleFunc(h.opts.CallbackRoute, h.handleCallback)
}

// login handles GET /idsite/login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, kindLogin, func(b *idsite.URLBuilder) error {
		if h.opts.LoginPath != "" {
			b.SetPath(h.opts.LoginPath)
		}
		return h.applyOrganization(r, b)
	})
}

// register handles GET /idsite/register
func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, kindRegister, func(b *idsite.URLBuilder) error {
		b.SetPath(h.opts.RegisterPath)
		return h.applyOrganization(r, b)
	})
}

// logout handles GET/POST /idsite/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, kindLogout, func(b *idsite.URLBuilder) error {
		b.ForLogout()
		return nil
	})
}

func (h *Handlers) applyOrganization(r *http.Request, b *idsite.URLBuilder) error {
	if h.opts.Organization == nil {
		return nil
	}
	org, err := h.opts.Organization.ResolveOrganization(r)
	if err != nil {
		return err
	}
	org.apply(b)
	return nil
}

func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, kind string, configure func(*idsite.URLBuilder) error) {
	logger := h.requestLogger(r).WithField("kind", kind)

	key, err := h.keys.SigningKey(r.Context())
	if err != nil {
		h.buildFailed(w, logger, kind, idsite.ErrCodeKeyUnavailable, http.StatusServiceUnavailable, err)
		return
	}

	b := idsite.NewURLBuilder(key, h.opts.ApplicationHref).
		WithClock(h.now).
		SetCallbackURI(h.opts.CallbackURI)
	if state := r.URL.Query().Get("state"); state != "" {
		b.SetState(state)
	}
	if err := configure(b); err != nil {
		h.buildFailed(w, logger, kind, "bad_request", http.StatusBadRequest, err)
		return
	}

	location, err := b.Build()
	if err != nil {
		code := idsite.CodeOf(err)
		h.buildFailed(w, logger, kind, code, httpStatus(code), err)
		return
	}

	if h.metrics != nil {
		h.metrics.URLsBuiltTotal.WithLabelValues(kind).Inc()
	}
	logger.Debug("Redirecting to ID Site")
	httputil.RedirectNoCache(w, r, location)
}

// requestLogger annotates the handler's logger with the request ID and trace.
func (h *Handlers) requestLogger(r *http.Request) *observability.Logger {
	logger := h.logger
	if requestID := observability.GetRequestID(r.Context()); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	return observability.UpdateLoggerWithTraceContext(r.Context(), logger)
}

func (h *Handlers) buildFailed(w http.ResponseWriter, logger *observability.Logger, kind string, code idsite.ErrorCode, status int, err error) {
	if h.metrics != nil {
		h.metrics.URLBuildErrorsTotal.WithLabelValues(kind, string(code)).Inc()
	}
	logger.WithError(err).WithField("code", string(code)).Error("Failed to build ID Site redirect")
	httputil.WriteCodedError(w, status, string(code), err.Error())
}

// handleCallback handles GET /idsite/callback
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	defer observability.RecoverPanicWithCallback(h.logger, "idsite result listener", func() {
		httputil.WriteInternalError(w, errors.New("result listener failed"))
	})

	result, err := h.callback.AccountResult(r.Context(), idsite.FromHTTPRequest(r))
	if err != nil {
		h.callbackFailed(w, r, err)
		return
	}

	if wantsJSON(r) {
		_ = httputil.WriteJSON(w, http.StatusOK, result)
		return
	}
	httputil.RedirectNoCache(w, r, h.nextURI(r, result))
}

func (h *Handlers) nextURI(r *http.Request, result *idsite.AccountResult) string {
	var next string
	idsite.ListenerFuncs{
		OnRegistered:    func(_ context.Context, _ *idsite.AccountResult) { next = h.opts.RegisterNextURI },
		OnAuthenticated: func(_ context.Context, _ *idsite.AccountResult) { next = h.opts.LoginNextURI },
		OnLogout:        func(_ context.Context, _ *idsite.AccountResult) { next = h.opts.LogoutNextURI },
	}.OnResult(r.Context(), result)
	return next
}

func (h *Handlers) callbackFailed(w http.ResponseWriter, r *http.Request, err error) {
	code := idsite.CodeOf(err)
	switch code {
	case idsite.ErrCodeSessionTimeout:
		// The ID Site session is gone; start over.
		httputil.RedirectNoCache(w, r, h.opts.LoginRoute)
	case idsite.ErrCodeUnsupportedMethod:
		httputil.WriteMethodNotAllowed(w, http.MethodGet)
	default:
		httputil.WriteCodedError(w, httpStatus(code), string(code), err.Error())
	}
}

func httpStatus(code idsite.ErrorCode) int {
	switch code {
	case idsite.ErrCodeUnsupportedMethod:
		return http.StatusMethodNotAllowed
	case idsite.ErrCodeMissingToken, idsite.ErrCodeMalformedToken, idsite.ErrCodeMissingClaim,
		idsite.ErrCodeMissingSubject, idsite.ErrCodeUnknownStatus:
		return http.StatusBadRequest
	case idsite.ErrCodeInvalidKeyID, idsite.ErrCodeInvalidSignature, idsite.ErrCodeExpired,
		idsite.ErrCodeReplayedToken, idsite.ErrCodeRemoteError, idsite.ErrCodeSessionTimeout,
		idsite.ErrCodeUnrecognizedRemoteError:
		return http.StatusUnauthorized
	case idsite.ErrCodeNonceStoreFailure, idsite.ErrCodeKeyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
