package idsite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/idsite/pkg/observability"
)

// ResponseParam is the query parameter carrying the response token.
const ResponseParam = "jwtResponse"

const tracerName = "github.com/platinummonkey/idsite/pkg/idsite"

// CallbackRequest is the part of an inbound request the handler reads.
type CallbackRequest interface {
	Method() string
	Param(name string) string
}

type httpRequest struct {
	r *http.Request
}

func (h httpRequest) Method() string           { return h.r.Method }
func (h httpRequest) Param(name string) string { return h.r.URL.Query().Get(name) }

// FromHTTPRequest adapts an *http.Request to CallbackRequest.
func FromHTTPRequest(r *http.Request) CallbackRequest {
	return httpRequest{r: r}
}

// Config holds the collaborators of a CallbackHandler.
type Config struct {
	Keys   KeyResolver
	Nonces NonceStore

	// ClockSkew is added to exp before comparing with the current time, both in
	// whole seconds.
	ClockSkew time.Duration

	Now            func() time.Time
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	TracerProvider trace.TracerProvider
}

// CallbackHandler validates response tokens returned by ID Site and dispatches
// the outcome to registered listeners. It holds no per-request state and may be
// shared across goroutines.
type CallbackHandler struct {
	keys    KeyResolver
	nonces  NonceStore
	skew    time.Duration
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	mu        sync.RWMutex
	listeners []ResultListener
}

// NewCallbackHandler creates a handler from cfg.
func NewCallbackHandler(cfg Config) (*CallbackHandler, error) {
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key resolver is required")
	}
	if cfg.Nonces == nil {
		return nil, fmt.Errorf("nonce store is required")
	}
	if cfg.ClockSkew < 0 {
		return nil, fmt.Errorf("clock skew must not be negative, got %s", cfg.ClockSkew)
	}

	h := &CallbackHandler{
		keys:    cfg.Keys,
		nonces:  cfg.Nonces,
		skew:    cfg.ClockSkew,
		now:     cfg.Now,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.logger == nil {
		h.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	h.tracer = tp.Tracer(tracerName)
	return h, nil
}

// SetResultListener replaces every registered listener with l. A nil l is ignored.
func (h *CallbackHandler) SetResultListener(l ResultListener) *CallbackHandler {
	if l == nil {
		return h
	}
	h.mu.Lock()
	h.listeners = []ResultListener{l}
	h.mu.Unlock()
	return h
}

// AddResultListener appends l to the listeners. A nil l is ignored.
func (h *CallbackHandler) AddResultListener(l ResultListener) *CallbackHandler {
	if l == nil {
		return h
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, l)
	h.mu.Unlock()
	return h
}

// AccountResult validates the response token carried by req and returns the result.
// On success exactly one nonce has been recorded and the listeners have run.
// On failure no listener has been invoked.
func (h *CallbackHandler) AccountResult(ctx context.Context, req CallbackRequest) (*AccountResult, error) {
	start := h.now()
	ctx, span := h.tracer.Start(ctx, "idsite.AccountResult", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	result, err := h.accountResult(ctx, req)
	h.observe(ctx, start, result, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("idsite.status", result.Status.String()))

	h.dispatch(ctx, result)
	return result, nil
}

func (h *CallbackHandler) accountResult(ctx context.Context, req CallbackRequest) (*AccountResult, error) {
	if !strings.EqualFold(req.Method(), http.MethodGet) {
		return nil, newErrorf(ErrCodeUnsupportedMethod, "method %s", req.Method())
	}
	raw := req.Param(ResponseParam)
	if raw == "" {
		return nil, newError(ErrCodeMissingToken, nil)
	}
	return h.Validate(ctx, raw)
}

// Validate runs the token checks on a raw response token and records its nonce,
// without notifying listeners.
func (h *CallbackHandler) Validate(ctx context.Context, raw string) (*AccountResult, error) {
	tok, err := ParseToken(raw)
	if err != nil {
		return nil, err
	}
	kid := tok.KeyID()
	if kid == "" {
		return nil, newErrorf(ErrCodeMissingClaim, "header %q", HeaderKeyID)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("idsite.kid", kid))

	key, err := h.keys.SigningKey(ctx)
	if err != nil {
		return nil, newError(ErrCodeKeyUnavailable, err)
	}
	// The signature is only checked once the token claims our key.
	if kid != key.ID {
		return nil, newErrorf(ErrCodeInvalidKeyID, "token kid %q does not match the configured key", kid)
	}

	claims, err := tok.Verify([]byte(key.Secret))
	if err != nil {
		return nil, err
	}

	exp, err := claims.Int64(ClaimExpiresAt)
	if err != nil {
		return nil, err
	}
	if !claims.Has(ClaimIssuer) {
		return nil, missingClaim(ClaimIssuer)
	}
	if h.now().Unix() > exp+int64(h.skew/time.Second) {
		return nil, newErrorf(ErrCodeExpired, "expired at %s", time.Unix(exp, 0).UTC().Format(time.RFC3339))
	}

	if claims.Has(ClaimError) {
		remote, err := parseRemoteError(claims, tok.RequestID())
		if err != nil {
			return nil, err
		}
		return nil, classifyRemoteError(remote)
	}

	nonce, ok := claims.String(ClaimResponseID)
	if !ok || nonce == "" {
		return nil, missingClaim(ClaimResponseID)
	}
	stored, err := h.nonces.PutIfAbsent(ctx, nonce)
	if err != nil {
		return nil, newError(ErrCodeNonceStoreFailure, err)
	}
	if !stored {
		return nil, newErrorf(ErrCodeReplayedToken, "response id %s", nonce)
	}

	rawStatus, ok := claims.String(ClaimStatus)
	if !ok {
		return nil, missingClaim(ClaimStatus)
	}
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return nil, err
	}

	accountHref, _ := claims.String(ClaimSubject)
	if accountHref == "" && status != StatusLogout {
		return nil, newError(ErrCodeMissingSubject, nil)
	}

	isNew, err := claims.Bool(ClaimIsNewSub)
	if err != nil {
		return nil, err
	}
	state, _ := claims.String(ClaimState)

	return &AccountResult{
		AccountHref:  accountHref,
		IsNewAccount: isNew,
		State:        state,
		Status:       status,
	}, nil
}

func (h *CallbackHandler) dispatch(ctx context.Context, result *AccountResult) {
	h.mu.RLock()
	listeners := make([]ResultListener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.RUnlock()

	for _, l := range listeners {
		l.OnResult(ctx, result)
	}
}

func (h *CallbackHandler) observe(ctx context.Context, start time.Time, result *AccountResult, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(CodeOf(err))
		if outcome == "" {
			outcome = "internal_error"
		}
		logger := observability.UpdateLoggerWithTraceContext(ctx, h.logger).
			WithField("code", outcome).
			WithError(err)
		var e *Error
		if errors.As(err, &e) && e.Remote != nil {
			logger = logger.WithFields(map[string]interface{}{
				"remote_code":       e.Remote.Code,
				"remote_request_id": e.Remote.RequestID,
			})
		}
		logger.Warn("ID Site callback rejected")
	} else {
		outcome = strings.ToLower(result.Status.String())
		observability.UpdateLoggerWithTraceContext(ctx, h.logger).WithFields(map[string]interface{}{
			"status":         result.Status.String(),
			"is_new_account": result.IsNewAccount,
		}).Info("ID Site callback accepted")
	}

	if h.metrics != nil {
		h.metrics.CallbacksTotal.WithLabelValues(outcome).Inc()
		h.metrics.CallbackDuration.WithLabelValues(outcome).Observe(h.now().Sub(start).Seconds())
	}
}
