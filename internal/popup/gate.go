// Package popup decides when the UPI support popup is shown: once per
// browsing session, a short delay after the page mounts.
package popup

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"noto/internal/logging"
	"noto/internal/sessionstore"
)

const (
	DefaultKey   = "UPISupportPopup_Shown"
	DefaultDelay = 2 * time.Second
	shownValue   = "true"
)

// Gate is bound to one mount. Remounts build a new Gate over the same store.
type Gate struct {
	store  sessionstore.Store
	key    string
	delay  time.Duration
	clock  clockwork.Clock
	logger logging.Logger
	onShow func()

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu        sync.Mutex
	activated bool
	done      bool
	pending   bool
	visible   bool
}

type Option func(*Gate)

func WithKey(key string) Option {
	return func(g *Gate) {
		if key != "" {
			g.key = key
		}
	}
}

func WithDelay(d time.Duration) Option {
	return func(g *Gate) {
		if d >= 0 {
			g.delay = d
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(g *Gate) { g.logger = logging.OrDiscard(l) }
}

// WithOnShow registers a callback run right after the popup becomes visible.
func WithOnShow(fn func()) Option {
	return func(g *Gate) { g.onShow = fn }
}

func NewGate(store sessionstore.Store, opts ...Option) *Gate {
	g := &Gate{
		store:  store,
		key:    DefaultKey,
		delay:  DefaultDelay,
		clock:  clockwork.NewRealClock(),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Activate schedules the popup unless this session has already seen it. An
// unreadable store counts as "not seen yet".
func (g *Gate) Activate() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.mu.Lock()
	if g.activated || g.done {
		g.mu.Unlock()
		return
	}
	g.activated = true
	g.mu.Unlock()

	if g.alreadyShown() {
		g.logger.Debugf("popup %s already shown this session", g.key)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	timer := g.clock.NewTimer(g.delay)

	g.mu.Lock()
	g.pending = true
	g.mu.Unlock()

	g.wg.Add(1)
	go g.wait(ctx, timer)
}

// Deactivate cancels a pending display. When it returns the popup cannot
// appear and, if it never appeared, the flag is still unset.
func (g *Gate) Deactivate() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.mu.Lock()
	g.done = true
	g.pending = false
	g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.wg.Wait()
}

// Dismiss hides the popup. The shown flag stays set.
func (g *Gate) Dismiss() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.visible = false
}

func (g *Gate) Visible() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.visible
}

// Pending reports whether a display is scheduled but has not happened yet.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

func (g *Gate) alreadyShown() bool {
	_, ok, err := g.store.Get(g.key)
	if err != nil {
		g.logger.Warnf("popup flag unreadable, treating as not shown: %v", err)
		return false
	}
	return ok
}

func (g *Gate) wait(ctx context.Context, timer clockwork.Timer) {
	defer g.wg.Done()
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.Chan():
		g.show()
	}
}

// show flips visibility and writes the flag in one step, so the flag is only
// ever set for a popup that was really displayed.
func (g *Gate) show() {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.pending = false
	g.visible = true
	if err := g.store.Set(g.key, shownValue); err != nil {
		g.logger.Warnf("popup flag not persisted: %v", err)
	}
	g.mu.Unlock()

	g.logger.Infof("popup %s shown", g.key)
	if g.onShow != nil {
		g.onShow()
	}
}
