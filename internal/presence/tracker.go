// Package presence reports a visitor session to the backend and keeps a local
// copy of the site-wide active-user count.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"noto/internal/logging"
)

const (
	DefaultRefreshInterval     = 60 * time.Second
	DefaultInitialRefreshDelay = time.Second
	DefaultPingInterval        = 90 * time.Second
)

// ErrTerminated is returned when activating a tracker that was already
// deactivated. Mount a fresh tracker instead.
var ErrTerminated = errors.New("presence tracker already deactivated")

// Backend is the slice of the API the tracker needs.
type Backend interface {
	StartSession(ctx context.Context, sessionID, page string) error
	PingSession(ctx context.Context, sessionID string) error
	ActiveUsers(ctx context.Context) (int, error)
}

type State int

const (
	StateUninitialized State = iota
	StateSessionPending
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSessionPending:
		return "session-pending"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the tracker's exposed state.
type Snapshot struct {
	SessionID   string
	ActiveUsers int
	State       State
	// Loaded is set once an active-count fetch has succeeded.
	Loaded      bool
	LastRefresh time.Time
}

// ShouldRender is false until there is a session and a real count, so views
// never flash "0 online".
func (s Snapshot) ShouldRender() bool {
	return s.SessionID != "" && s.Loaded
}

// Tracker is bound to one mount of a page.
type Tracker struct {
	backend      Backend
	page         string
	clock        clockwork.Clock
	logger       logging.Logger
	refreshEvery time.Duration
	initialDelay time.Duration
	pingEvery    time.Duration
	newID        func() string
	onChange     func(Snapshot)

	// lifecycle serializes Activate and Deactivate; worker goroutines only take mu.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu          sync.Mutex
	state       State
	sessionID   string
	activeUsers int
	loaded      bool
	lastRefresh time.Time
}

type Option func(*Tracker)

func WithClock(c clockwork.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) { t.logger = logging.OrDiscard(l) }
}

func WithRefreshInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.refreshEvery = d
		}
	}
}

func WithInitialRefreshDelay(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.initialDelay = d
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.pingEvery = d
		}
	}
}

// WithIDGenerator replaces the session id source.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// WithOnChange registers a callback run after the session id is assigned and
// after each count update. It never runs once Deactivate has returned.
func WithOnChange(fn func(Snapshot)) Option {
	return func(t *Tracker) { t.onChange = fn }
}

func NewTracker(backend Backend, page string, opts ...Option) *Tracker {
	t := &Tracker{
		backend:      backend,
		page:         page,
		clock:        clockwork.NewRealClock(),
		logger:       logging.Discard(),
		refreshEvery: DefaultRefreshInterval,
		initialDelay: DefaultInitialRefreshDelay,
		pingEvery:    DefaultPingInterval,
		newID:        NewSessionID,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewSessionID returns a UUIDv7: a millisecond timestamp followed by random bits.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Activate assigns the session id, announces the session and schedules the
// count refresh and liveness ping. It is a no-op on an active tracker.
func (t *Tracker) Activate() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	switch t.state {
	case StateActive:
		t.mu.Unlock()
		return nil
	case StateTerminated:
		t.mu.Unlock()
		return ErrTerminated
	}
	t.state = StateSessionPending
	if t.sessionID == "" {
		t.sessionID = t.newID()
	}
	sessionID := t.sessionID
	t.state = StateActive
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	initial := t.clock.NewTimer(t.initialDelay)
	refresh := t.clock.NewTicker(t.refreshEvery)
	ping := t.clock.NewTicker(t.pingEvery)

	t.notify()
	t.spawn(ctx, func(ctx context.Context) { t.startSession(ctx, sessionID) })

	t.wg.Add(2)
	go t.refreshLoop(ctx, initial, refresh)
	go t.pingLoop(ctx, ping, sessionID)

	t.logger.Infof("presence active: session %s on %s", sessionID, t.page)
	return nil
}

// Deactivate stops every timer and waits for in-flight calls to unwind. No
// network call starts after it returns.
func (t *Tracker) Deactivate() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	previous := t.state
	t.state = StateTerminated
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.wg.Wait()
	if previous == StateActive {
		t.logger.Infof("presence stopped: session %s", t.SessionID())
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		SessionID:   t.sessionID,
		ActiveUsers: t.activeUsers,
		State:       t.state,
		Loaded:      t.loaded,
		LastRefresh: t.lastRefresh,
	}
}

func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *Tracker) ActiveUsers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeUsers
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) ShouldRender() bool {
	return t.Snapshot().ShouldRender()
}

func (t *Tracker) Page() string {
	return t.page
}

func (t *Tracker) refreshLoop(ctx context.Context, initial clockwork.Timer, refresh clockwork.Ticker) {
	defer t.wg.Done()
	defer initial.Stop()
	defer refresh.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-initial.Chan():
			t.spawn(ctx, t.refreshCount)
		case <-refresh.Chan():
			t.spawn(ctx, t.refreshCount)
		}
	}
}

func (t *Tracker) pingLoop(ctx context.Context, ping clockwork.Ticker, sessionID string) {
	defer t.wg.Done()
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.Chan():
			t.spawn(ctx, func(ctx context.Context) { t.pingSession(ctx, sessionID) })
		}
	}
}

// spawn runs one call per tick, so a slow endpoint can overlap the next tick.
func (t *Tracker) spawn(ctx context.Context, fn func(context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn(ctx)
	}()
}

func (t *Tracker) startSession(ctx context.Context, sessionID string) {
	if err := t.backend.StartSession(ctx, sessionID, t.page); err != nil {
		t.logFailure("session start", err)
	}
}

func (t *Tracker) pingSession(ctx context.Context, sessionID string) {
	if err := t.backend.PingSession(ctx, sessionID); err != nil {
		t.logFailure("session ping", err)
		return
	}
	t.logger.Debugf("session %s pinged", sessionID)
}

func (t *Tracker) refreshCount(ctx context.Context) {
	count, err := t.backend.ActiveUsers(ctx)
	if err != nil {
		t.logFailure("active count", err)
		return
	}
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}
	t.activeUsers = count
	t.loaded = true
	t.lastRefresh = t.clock.Now()
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) notify() {
	if t.onChange == nil {
		return
	}
	t.onChange(t.Snapshot())
}

func (t *Tracker) logFailure(what string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	t.logger.Warnf("%s failed (ignored): %v", what, err)
}
