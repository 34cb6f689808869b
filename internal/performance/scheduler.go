package performance

import (
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/spikeload/internal/performance/metrics"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It owns the shared HTTP client, hands out VU IDs and keeps track of which
// VUs are still alive. Executors use it to grow and shrink the VU pool.
type VUScheduler struct {
	metrics *metrics.Engine
	logger  *zap.Logger
	client  *http.Client
	limiter *rate.Limiter
	iterate IterationFunc

	vusMu    sync.RWMutex
	vus      map[int]*VirtualUser
	nextVUID atomic.Int32
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	InsecureSkipVerify  bool
}

// DefaultHTTPClientConfig returns defaults suited to load generation.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient builds the client shared by all VUs of a scheduler.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via settings
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// SchedulerOption configures a VUScheduler.
type SchedulerOption func(*VUScheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) SchedulerOption {
	return func(s *VUScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIteration replaces the HTTP scenario iteration with fn.
func WithIteration(fn IterationFunc) SchedulerOption {
	return func(s *VUScheduler) {
		s.iterate = fn
	}
}

// WithHTTPClient sets the shared HTTP client.
func WithHTTPClient(client *http.Client) SchedulerOption {
	return func(s *VUScheduler) {
		s.client = client
	}
}

// WithRateLimit caps the request rate across all VUs. A non-positive rps
// means unlimited.
func WithRateLimit(rps float64) SchedulerOption {
	return func(s *VUScheduler) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewVUScheduler creates a scheduler whose VUs run scenario over HTTP,
// unless WithIteration supplies a different body.
func NewVUScheduler(scenario *Scenario, metricsEngine *metrics.Engine, opts ...SchedulerOption) *VUScheduler {
	s := &VUScheduler{
		metrics: metricsEngine,
		logger:  zap.NewNop(),
		vus:     make(map[int]*VirtualUser),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = NewHTTPClient(DefaultHTTPClientConfig())
	}
	if s.iterate == nil && scenario != nil {
		s.iterate = NewHTTPIteration(scenario, s.client, metricsEngine, s.limiter, s.logger).Func()
	}
	return s
}

// SpawnVU creates and registers a new idle VU. The caller runs it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))
	vu := NewVirtualUser(id, s.iterate)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// RemoveVU marks a VU stopped and forgets it.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	vu, ok := s.vus[id]
	delete(s.vus, id)
	s.vusMu.Unlock()

	if ok {
		vu.MarkStopped()
	}
}

// GetActiveVUCount returns the number of registered VUs that have not stopped.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// TotalSpawned returns how many VUs have been created so far.
func (s *VUScheduler) TotalSpawned() int {
	return int(s.nextVUID.Load())
}

// StopAllVUs requests every registered VU to retire and returns them so the
// caller can wait for each to exit.
func (s *VUScheduler) StopAllVUs() []*VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vu.RequestStop()
		vus = append(vus, vu)
	}
	return vus
}

// UpdateMetrics publishes the live VU count, draining VUs included, to the
// metrics engine.
func (s *VUScheduler) UpdateMetrics() {
	if s.metrics != nil {
		s.metrics.SetActiveVUs(s.GetActiveVUCount())
	}
}

// Logger returns the scheduler logger.
func (s *VUScheduler) Logger() *zap.Logger {
	return s.logger
}

// Shutdown asks all VUs to stop and releases idle connections.
func (s *VUScheduler) Shutdown() {
	s.StopAllVUs()
	s.client.CloseIdleConnections()
}
