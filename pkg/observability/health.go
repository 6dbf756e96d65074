package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

// CheckFunc reports the health of a dependency that is neither SQL nor Redis.
type CheckFunc func(ctx context.Context) error

// HealthChecker provides health check functionality
type HealthChecker struct {
	version string
	db      *sql.DB
	redis   *redis.Client
	checks  map[string]CheckFunc
}

// NewHealthChecker creates a new health checker. db and redis may be nil when the
// nonce store uses neither.
func NewHealthChecker(version string, db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{
		version: version,
		db:      db,
		redis:   redis,
		checks:  make(map[string]CheckFunc),
	}
}

// AddCheck registers an extra dependency check. A failing check marks the service unhealthy.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.checks[name] = fn
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds one readiness probe across all dependency checks
const readinessTimeout = 5 * time.Second

func writeHealth(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Liveness reports 200 while the process can serve HTTP at all
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// Readiness reports 503 when any dependency is unhealthy. Degraded stays 200.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

// Check runs every dependency check concurrently. The nonce store backs replay
// protection, so a failing backend makes the service unhealthy.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	checks := make(map[string]func(context.Context) DependencyStatus, len(h.checks)+2)
	if h.db != nil {
		checks["database"] = h.checkDatabase
	}
	if h.redis != nil {
		checks["redis"] = h.checkRedis
	}
	for name, fn := range h.checks {
		checks[name] = func(ctx context.Context) DependencyStatus { return runCheck(ctx, fn) }
	}

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(checks)),
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for name, check := range checks {
		g.Go(func() error {
			dep := check(ctx)
			mu.Lock()
			status.record(name, dep)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return status
}

func (s *HealthStatus) record(name string, dep DependencyStatus) {
	s.Dependencies[name] = dep
	switch dep.Status {
	case StatusUnhealthy:
		s.Status = StatusUnhealthy
	case StatusDegraded:
		if s.Status != StatusUnhealthy {
			s.Status = StatusDegraded
		}
	}
}

func runCheck(ctx context.Context, fn CheckFunc) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: start,
	}
	err := fn(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// checkDatabase checks the SQL nonce store
func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	status := runCheck(ctx, h.db.PingContext)
	if status.Status != StatusHealthy {
		return status
	}

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections && stats.WaitCount > 0 {
		status.Status = StatusDegraded
		status.Message = "connection pool exhausted"
	}
	return status
}

// checkRedis checks the Redis nonce store
func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	return runCheck(ctx, func(ctx context.Context) error {
		return h.redis.Ping(ctx).Err()
	})
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
