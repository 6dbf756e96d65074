package idsite_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/platinummonkey/idsite/pkg/idsite"
	"github.com/platinummonkey/idsite/pkg/idsitetest"
	"github.com/platinummonkey/idsite/pkg/nonce"
	"github.com/platinummonkey/idsite/pkg/observability"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type handlerFixture struct {
	handler *idsite.CallbackHandler
	site    *idsitetest.Site
	nonces  *nonce.MemoryStore
	logs    *bytes.Buffer
	now     time.Time
}

func newHandlerFixture(t *testing.T, mutate func(*idsite.Config)) *handlerFixture {
	t.Helper()

	store, err := nonce.NewMemoryStore(1000, 10*time.Minute, nil)
	require.NoError(t, err)

	f := &handlerFixture{
		nonces: store,
		logs:   &bytes.Buffer{},
		now:    testNow,
	}

	cfg := idsite.Config{
		Keys:   idsite.StaticKey(testKey),
		Nonces: store,
		Now:    func() time.Time { return f.now },
		Logger: observability.NewLogger(observability.DebugLevel, f.logs),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f.handler, err = idsite.NewCallbackHandler(cfg)
	require.NoError(t, err)

	f.site = idsitetest.NewSite(testKey)
	f.site.Now = func() time.Time { return testNow }
	return f
}

func callbackRequest(t *testing.T, token string) idsite.CallbackRequest {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/idsite/callback?"+url.Values{idsite.ResponseParam: {token}}.Encode(), nil)
	return idsite.FromHTTPRequest(r)
}

func (f *handlerFixture) call(t *testing.T, resp idsitetest.Response) (*idsite.AccountResult, error) {
	t.Helper()
	tok, err := f.site.Mint(resp)
	require.NoError(t, err)
	return f.handler.AccountResult(context.Background(), callbackRequest(t, tok))
}

func TestNewCallbackHandler_Validation(t *testing.T) {
	store, err := nonce.NewMemoryStore(10, time.Minute, nil)
	require.NoError(t, err)

	_, err = idsite.NewCallbackHandler(idsite.Config{Nonces: store})
	assert.Error(t, err)

	_, err = idsite.NewCallbackHandler(idsite.Config{Keys: idsite.StaticKey(testKey)})
	assert.Error(t, err)

	_, err = idsite.NewCallbackHandler(idsite.Config{Keys: idsite.StaticKey(testKey), Nonces: store, ClockSkew: -time.Second})
	assert.Error(t, err)
}

func TestAccountResult_RoundTrip(t *testing.T) {
	f := newHandlerFixture(t, nil)

	result, err := f.call(t, idsitetest.Response{
		Status:      idsite.StatusAuthenticated,
		AccountHref: "https://id.test/v1/accounts/a1",
		State:       "xyz",
	})
	require.NoError(t, err)
	assert.Equal(t, &idsite.AccountResult{
		AccountHref:  "https://id.test/v1/accounts/a1",
		IsNewAccount: false,
		State:        "xyz",
		Status:       idsite.StatusAuthenticated,
	}, result)
	assert.True(t, result.HasAccount())
	assert.Contains(t, f.logs.String(), "ID Site callback accepted")
}

func TestAccountResult_Registered(t *testing.T) {
	f := newHandlerFixture(t, nil)

	result, err := f.call(t, idsitetest.Response{
		Status:      idsite.StatusRegistered,
		AccountHref: "https://id.test/v1/accounts/a2",
		IsNewSub:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, idsite.StatusRegistered, result.Status)
	assert.True(t, result.IsNewAccount)
	assert.Empty(t, result.State)
}

func TestAccountResult_Expiry(t *testing.T) {
	exp := testNow.Add(30 * time.Second)

	tests := []struct {
		name    string
		skew    time.Duration
		now     time.Time
		wantErr error
	}{
		{name: "before exp", now: exp.Add(-time.Second)},
		{name: "at exp", now: exp},
		{name: "within the second of exp", now: exp.Add(999 * time.Millisecond)},
		{name: "after exp", now: exp.Add(time.Second), wantErr: idsite.ErrExpired},
		{name: "after exp within skew", skew: 5 * time.Second, now: exp.Add(4 * time.Second)},
		{name: "after exp beyond skew", skew: 5 * time.Second, now: exp.Add(6 * time.Second), wantErr: idsite.ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, func(c *idsite.Config) { c.ClockSkew = tt.skew })
			f.now = tt.now

			_, err := f.call(t, idsitetest.Response{
				Status:      idsite.StatusAuthenticated,
				AccountHref: "https://id.test/v1/accounts/a1",
				ExpiresAt:   exp,
			})
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestAccountResult_TamperedPayload(t *testing.T) {
	f := newHandlerFixture(t, nil)

	tok, err := f.site.Mint(idsitetest.Response{
		Status:      idsite.StatusAuthenticated,
		AccountHref: "https://id.test/v1/accounts/a1",
	})
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := bytes.Replace(payload, []byte("accounts/a1"), []byte("accounts/a2"), 1)
	require.NotEqual(t, payload, forged)
	parts[1] = base64.RawURLEncoding.EncodeToString(forged)

	_, err = f.handler.AccountResult(context.Background(), callbackRequest(t, strings.Join(parts, ".")))
	assert.ErrorIs(t, err, idsite.ErrInvalidSignature)
	assert.Equal(t, idsite.ErrCodeInvalidSignature, idsite.CodeOf(err))
}

func TestAccountResult_Replay(t *testing.T) {
	f := newHandlerFixture(t, nil)

	tok, err := f.site.Mint(idsitetest.Response{
		Status:      idsite.StatusAuthenticated,
		AccountHref: "https://id.test/v1/accounts/a1",
	})
	require.NoError(t, err)

	_, err = f.handler.AccountResult(context.Background(), callbackRequest(t, tok))
	require.NoError(t, err)

	_, err = f.handler.AccountResult(context.Background(), callbackRequest(t, tok))
	assert.ErrorIs(t, err, idsite.ErrReplayedToken)
}

func TestAccountResult_ConcurrentReplay(t *testing.T) {
	f := newHandlerFixture(t, nil)

	var dispatched int32
	f.handler.AddResultListener(idsite.ResultListenerFunc(func(context.Context, *idsite.AccountResult) {
		atomic.AddInt32(&dispatched, 1)
	}))

	tok, err := f.site.Mint(idsitetest.Response{
		Status:      idsite.StatusAuthenticated,
		AccountHref: "https://id.test/v1/accounts/a1",
	})
	require.NoError(t, err)

	const workers = 50
	var successes, replays int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.handler.AccountResult(context.Background(), callbackRequest(t, tok))
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, idsite.ErrReplayedToken):
				atomic.AddInt32(&replays, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(workers-1), replays)
	assert.Equal(t, int32(1), dispatched)
}

func TestAccountResult_Subject(t *testing.T) {
	f := newHandlerFixture(t, nil)

	_, err := f.call(t, idsitetest.Response{Status: idsite.StatusAuthenticated})
	assert.ErrorIs(t, err, idsite.ErrMissingSubject)

	_, err = f.call(t, idsitetest.Response{Status: idsite.StatusRegistered, IsNewSub: true})
	assert.ErrorIs(t, err, idsite.ErrMissingSubject)

	result, err := f.call(t, idsitetest.Response{Status: idsite.StatusLogout, State: "bye"})
	require.NoError(t, err)
	assert.Equal(t, idsite.StatusLogout, result.Status)
	assert.False(t, result.HasAccount())
	assert.Equal(t, "bye", result.State)
}

type countingKeys struct {
	key   idsite.KeyPair
	calls int32
}

func (c *countingKeys) SigningKey(context.Context) (idsite.KeyPair, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.key, nil
}

func TestAccountResult_KeyMismatchSkipsSignature(t *testing.T) {
	keys := &countingKeys{key: testKey}
	f := newHandlerFixture(t, func(c *idsite.Config) { c.Keys = keys })

	tok, err := f.site.Mint(idsitetest.Response{
		Status:      idsite.StatusAuthenticated,
		AccountHref: "https://id.test/v1/accounts/a1",
		KeyID:       "K2",
	})
	require.NoError(t, err)

	// A garbage signature would fail verification; the kid check must come first.
	parts := strings.Split(tok, ".")
	parts[2] = base64.RawURLEncoding.EncodeToString([]byte("garbage"))

	_, err = f.handler.AccountResult(context.Background(), callbackRequest(t, strings.Join(parts, ".")))
	assert.ErrorIs(t, err, idsite.ErrInvalidKeyID)
	assert.NotErrorIs(t, err, idsite.ErrInvalidSignature)
	assert.Equal(t, int32(1), atomic.LoadInt32(&keys.calls))
}

func TestAccountResult_RequestErrors(t *testing.T) {
	f := newHandlerFixture(t, nil)
	ctx := context.Background()

	post := httptest.NewRequest(http.MethodPost, "/idsite/callback?jwtResponse=abc", nil)
	_, err := f.handler.AccountResult(ctx, idsite.FromHTTPRequest(post))
	assert.ErrorIs(t, err, idsite.ErrUnsupportedMethod)

	get := httptest.NewRequest(http.MethodGet, "/idsite/callback", nil)
	_, err = f.handler.AccountResult(ctx, idsite.FromHTTPRequest(get))
	assert.ErrorIs(t, err, idsite.ErrMissingToken)

	_, err = f.handler.AccountResult(ctx, callbackRequest(t, "not-a-token"))
	assert.ErrorIs(t, err, idsite.ErrMalformedToken)
}

func TestAccountResult_MissingClaims(t *testing.T) {
	tests := []struct {
		name    string
		claim   string
		wantErr error
	}{
		{name: "exp", claim: idsite.ClaimExpiresAt, wantErr: idsite.ErrMissingClaim},
		{name: "iss", claim: idsite.ClaimIssuer, wantErr: idsite.ErrMissingClaim},
		{name: "irt", claim: idsite.ClaimResponseID, wantErr: idsite.ErrMissingClaim},
		{name: "status", claim: idsite.ClaimStatus, wantErr: idsite.ErrMissingClaim},
		{name: "isNewSub", claim: idsite.ClaimIsNewSub, wantErr: idsite.ErrMissingClaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, nil)
			_, err := f.call(t, idsitetest.Response{
				Status:      idsite.StatusAuthenticated,
				AccountHref: "https://id.test/v1/accounts/a1",
				Claims:      map[string]interface{}{tt.claim: nil},
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAccountResult_UnknownStatus(t *testing.T) {
	f := newHandlerFixture(t, nil)

	_, err := f.call(t, idsitetest.Response{
		Status:      idsite.Status("SUSPENDED"),
		AccountHref: "https://id.test/v1/accounts/a1",
	})
	assert.ErrorIs(t, err, idsite.ErrUnknownStatus)
}

func TestAccountResult_StringBooleans(t *testing.T) {
	f := newHandlerFixture(t, nil)

	result, err := f.call(t, idsitetest.Response{
		Status:      idsite.StatusRegistered,
		AccountHref: "https://id.test/v1/accounts/a1",
		Claims:      map[string]interface{}{idsite.ClaimIsNewSub: "true"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsNewAccount)
}

func TestAccountResult_RemoteErrors(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		wantErr   error
		wantCause idsite.RemoteCause
	}{
		{name: "invalid token", code: 10011, wantErr: idsite.ErrRemoteError, wantCause: idsite.CauseInvalidToken},
		{name: "issued in future", code: 10012, wantErr: idsite.ErrRemoteError, wantCause: idsite.CauseIssuedInFuture},
		{name: "organization disabled", code: 11002, wantErr: idsite.ErrRemoteError, wantCause: idsite.CauseOrganizationDisabled},
		{name: "session timeout", code: 12001, wantErr: idsite.ErrSessionTimeout, wantCause: idsite.CauseSessionTimeout},
		{name: "unknown code", code: 99999, wantErr: idsite.ErrUnrecognizedRemoteError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, nil)
			var dispatched bool
			f.handler.SetResultListener(idsite.ResultListenerFunc(func(context.Context, *idsite.AccountResult) {
				dispatched = true
			}))

			_, err := f.call(t, idsitetest.Response{
				Status:    idsite.StatusAuthenticated,
				RequestID: "req-42",
				Error: &idsite.RemoteError{
					Code:             tt.code,
					Status:           400,
					Message:          "Something went wrong",
					DeveloperMessage: "details",
				},
			})
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, dispatched)

			var e *idsite.Error
			require.True(t, errors.As(err, &e))
			require.NotNil(t, e.Remote)
			assert.Equal(t, tt.code, e.Remote.Code)
			assert.Equal(t, 400, e.Remote.Status)
			assert.Equal(t, "req-42", e.Remote.RequestID)
			assert.Equal(t, tt.wantCause, e.Remote.Cause)
			assert.Contains(t, err.Error(), "req-42")
		})
	}
}

func TestAccountResult_RemoteErrorNeedsValidSignature(t *testing.T) {
	f := newHandlerFixture(t, nil)

	_, err := f.call(t, idsitetest.Response{
		Secret: "forged",
		Error:  &idsite.RemoteError{Code: 12001, Status: 401},
	})
	assert.ErrorIs(t, err, idsite.ErrInvalidSignature)
}

func TestAccountResult_ErrorResponseDoesNotConsumeNonce(t *testing.T) {
	f := newHandlerFixture(t, nil)

	_, err := f.call(t, idsitetest.Response{
		ResponseID: "shared-irt",
		Error:      &idsite.RemoteError{Code: 10011, Status: 400},
	})
	require.ErrorIs(t, err, idsite.ErrRemoteError)

	has, err := f.nonces.Has(context.Background(), "shared-irt")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestListeners_OrderAndReplacement(t *testing.T) {
	f := newHandlerFixture(t, nil)

	var calls []string
	record := func(name string) idsite.ResultListener {
		return idsite.ResultListenerFunc(func(_ context.Context, r *idsite.AccountResult) {
			calls = append(calls, name+":"+r.Status.String())
		})
	}

	f.handler.AddResultListener(record("first"))
	f.handler.AddResultListener(nil)
	f.handler.AddResultListener(record("second"))

	_, err := f.call(t, idsitetest.Response{Status: idsite.StatusLogout})
	require.NoError(t, err)
	assert.Equal(t, []string{"first:LOGOUT", "second:LOGOUT"}, calls)

	calls = nil
	f.handler.SetResultListener(record("only"))
	f.handler.SetResultListener(nil)

	_, err = f.call(t, idsitetest.Response{Status: idsite.StatusLogout})
	require.NoError(t, err)
	assert.Equal(t, []string{"only:LOGOUT"}, calls)
}

func TestListenerFuncs_DispatchByStatus(t *testing.T) {
	f := newHandlerFixture(t, nil)

	var got []string
	f.handler.SetResultListener(idsite.ListenerFuncs{
		OnRegistered: func(_ context.Context, r *idsite.AccountResult) {
			got = append(got, "registered:"+r.AccountHref)
		},
		OnAuthenticated: func(_ context.Context, r *idsite.AccountResult) {
			got = append(got, "authenticated:"+r.AccountHref)
		},
	})

	_, err := f.call(t, idsitetest.Response{Status: idsite.StatusRegistered, AccountHref: "a1", IsNewSub: true})
	require.NoError(t, err)
	_, err = f.call(t, idsitetest.Response{Status: idsite.StatusAuthenticated, AccountHref: "a2"})
	require.NoError(t, err)
	_, err = f.call(t, idsitetest.Response{Status: idsite.StatusLogout})
	require.NoError(t, err, "a nil OnLogout is skipped")

	assert.Equal(t, []string{"registered:a1", "authenticated:a2"}, got)
}

func TestListeners_NotCalledOnFailure(t *testing.T) {
	f := newHandlerFixture(t, nil)

	var called bool
	f.handler.SetResultListener(idsite.ResultListenerFunc(func(context.Context, *idsite.AccountResult) {
		called = true
	}))

	_, err := f.call(t, idsitetest.Response{Status: idsite.StatusAuthenticated})
	require.ErrorIs(t, err, idsite.ErrMissingSubject)
	assert.False(t, called)
}

type failingNonces struct{}

func (failingNonces) Has(context.Context, string) (bool, error) {
	return false, errors.New("store offline")
}

func (failingNonces) PutIfAbsent(context.Context, string) (bool, error) {
	return false, errors.New("store offline")
}

func TestAccountResult_NonceStoreFailure(t *testing.T) {
	f := newHandlerFixture(t, func(c *idsite.Config) { c.Nonces = failingNonces{} })

	_, err := f.call(t, idsitetest.Response{Status: idsite.StatusAuthenticated, AccountHref: "a1"})
	assert.ErrorIs(t, err, idsite.ErrNonceStoreFailure)
	assert.ErrorContains(t, err, "store offline")
}

func TestAccountResult_MetricsAndTracing(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	f := newHandlerFixture(t, func(c *idsite.Config) {
		c.Metrics = metrics
		c.TracerProvider = tp
	})

	tok := f.site.MustMint(idsitetest.Response{Status: idsite.StatusAuthenticated, AccountHref: "a1"})
	_, err := f.handler.AccountResult(context.Background(), callbackRequest(t, tok))
	require.NoError(t, err)
	_, err = f.handler.AccountResult(context.Background(), callbackRequest(t, tok))
	require.ErrorIs(t, err, idsite.ErrReplayedToken)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CallbacksTotal.WithLabelValues("authenticated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CallbacksTotal.WithLabelValues(string(idsite.ErrCodeReplayedToken))))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "idsite.AccountResult", spans[0].Name())
	assert.Len(t, spans[1].Events(), 1, "the failed call records its error")
	assert.Contains(t, f.logs.String(), "ID Site callback rejected")

	accepted := logLine(t, f.logs.String(), "ID Site callback accepted")
	assert.Equal(t, spans[0].SpanContext().TraceID().String(), accepted["trace_id"])
}

func logLine(t *testing.T, logs, msg string) map[string]interface{} {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == msg {
			return entry
		}
	}
	t.Fatalf("no log line %q in %s", msg, logs)
	return nil
}

func TestValidate_DoesNotDispatch(t *testing.T) {
	f := newHandlerFixture(t, nil)

	var called bool
	f.handler.SetResultListener(idsite.ResultListenerFunc(func(context.Context, *idsite.AccountResult) {
		called = true
	}))

	tok := f.site.MustMint(idsitetest.Response{Status: idsite.StatusAuthenticated, AccountHref: "a1"})
	result, err := f.handler.Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "a1", result.AccountHref)
	assert.False(t, called)
}

func TestEndToEnd_BuildRespondHandle(t *testing.T) {
	f := newHandlerFixture(t, nil)

	redirect, err := idsite.NewURLBuilder(testKey, testApplication).
		SetCallbackURI("https://app/cb").
		SetState("xyz").
		Build()
	require.NoError(t, err)

	callback, err := f.site.Respond(redirect, idsitetest.Response{
		Status:      idsite.StatusAuthenticated,
		AccountHref: "https://id.test/v1/accounts/a1",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(callback, "https://app/cb?jwtResponse="))

	r := httptest.NewRequest(http.MethodGet, callback, nil)
	result, err := f.handler.AccountResult(context.Background(), idsite.FromHTTPRequest(r))
	require.NoError(t, err)
	assert.Equal(t, "xyz", result.State)
	assert.Equal(t, "https://id.test/v1/accounts/a1", result.AccountHref)
}
