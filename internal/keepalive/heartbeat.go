// Package keepalive pings the backend on a fixed cadence so the free-tier host
// never reaches its idle shutdown threshold.
package keepalive

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"noto/internal/logging"
	"noto/internal/version"
)

const (
	// DefaultInterval stays under the host's 15 minute idle shutdown.
	DefaultInterval = 14 * time.Minute
	defaultTimeout  = 10 * time.Second
)

// Stats is a diagnostics snapshot of the heartbeat.
type Stats struct {
	Running     bool
	Successes   uint64
	Failures    uint64
	LastSuccess time.Time
	LastFailure time.Time
}

// Service owns at most one recurring ping job.
type Service struct {
	url      string
	interval time.Duration
	clock    clockwork.Clock
	http     *http.Client
	logger   logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

type Option func(*Service)

func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) {
		if hc != nil {
			s.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.http = &http.Client{Timeout: d, Transport: s.http.Transport}
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(s *Service) {
		s.logger = logging.OrDiscard(l)
	}
}

// NewService builds a stopped heartbeat against url.
func NewService(url string, opts ...Option) *Service {
	s := &Service{
		url:      url,
		interval: DefaultInterval,
		clock:    clockwork.NewRealClock(),
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	sharedOnce    sync.Once
	sharedService *Service
)

// Shared returns the process-wide heartbeat. The first call builds it; later
// calls return the same instance and ignore their arguments.
func Shared(url string, opts ...Option) *Service {
	sharedOnce.Do(func() {
		sharedService = NewService(url, opts...)
	})
	return sharedService
}

// Start pings once right away, then every interval. It reports whether this
// call started the job; a running heartbeat is left alone.
func (s *Service) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	ticker := s.clock.NewTicker(s.interval)

	s.wg.Add(1)
	go s.run(ctx, ticker)
	s.logger.Infof("heartbeat started: %s every %s", s.url, s.interval)
	return true
}

// Stop cancels the job and waits for it to exit. It reports whether a job was
// running.
func (s *Service) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	// loop and ping goroutines never take mu
	s.wg.Wait()
	s.logger.Infof("heartbeat stopped")
	return true
}

// Running reports whether a job is scheduled.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Service) Stats() Stats {
	s.statsMu.Lock()
	stats := s.stats
	s.statsMu.Unlock()
	stats.Running = s.Running()
	return stats
}

func (s *Service) run(ctx context.Context, ticker clockwork.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

// tick fires the ping without waiting on it, so a slow host never delays
// the next beat.
func (s *Service) tick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.record(s.ping(ctx))
	}()
}

func (s *Service) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return errors.Wrap(err, "build heartbeat request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := s.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "heartbeat request")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("heartbeat returned %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) record(err error) {
	now := s.clock.Now()
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.stats.Failures++
		s.stats.LastFailure = now
		s.logger.Warnf("heartbeat failed: %v", err)
		return
	}
	s.stats.Successes++
	s.stats.LastSuccess = now
	s.logger.Debugf("heartbeat ok (%d total)", s.stats.Successes)
}
