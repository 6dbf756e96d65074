package observability

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), 0)
	assert.Equal(t, DefaultShutdownTimeout, sm.timeout)
}

func TestShutdownManager_Shutdown(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()
	sm.RegisterServer(server)

	var calls int32
	sm.RegisterShutdownFunc(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	sm.RegisterShutdownFunc(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.ErrorIs(t, <-served, http.ErrServerClosed)
}

func TestShutdownManager_FuncError(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)
	sm.RegisterShutdownFunc(func(context.Context) error { return errors.New("redis close failed") })

	assert.Error(t, sm.Shutdown())
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	sm.RegisterShutdownFunc(func(context.Context) error {
		<-release
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestShutdownManager_WaitForShutdownOnCancel(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)
	var called int32
	sm.RegisterShutdownFunc(func(context.Context) error {
		atomic.StoreInt32(&called, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&called))
}
