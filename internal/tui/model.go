// Package tui is the terminal shell that hosts the presence tracker and the
// popup gate the way a page hosts its components.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"

	"noto/internal/keepalive"
	"noto/internal/logging"
	"noto/internal/popup"
	"noto/internal/presence"
	"noto/internal/sessionstore"
)

const (
	eventBuffer    = 32
	statusInterval = 5 * time.Second
)

type page struct {
	name      string
	path      string
	withPopup bool
}

var pages = []page{
	{name: "home", path: "/", withPopup: true},
	{name: "browse", path: "/browse"},
}

// HeartbeatStats is the read side of the keepalive service.
type HeartbeatStats interface {
	Stats() keepalive.Stats
}

type Config struct {
	Backend   presence.Backend
	Store     sessionstore.Store
	Heartbeat HeartbeatStats
	Logger    logging.Logger

	TrackerOptions []presence.Option
	GateOptions    []popup.Option
}

// Model mounts a fresh tracker (and, on home, a gate) for every page visit
// and tears them down when the page is left.
type Model struct {
	cfg    Config
	logger logging.Logger
	keys   keyMap
	help   help.Model
	events chan tea.Msg

	pageIndex  int
	generation int
	tracker    *presence.Tracker
	gate       *popup.Gate

	snapshot     presence.Snapshot
	popupVisible bool
	heartbeat    keepalive.Stats
	width        int
	closed       bool
}

func NewModel(cfg Config) *Model {
	logger := logging.OrDiscard(cfg.Logger)
	if cfg.Store == nil {
		cfg.Store = sessionstore.NewMemory()
	}
	return &Model{
		cfg:    cfg,
		logger: logger,
		keys:   defaultKeyMap(),
		help:   help.New(),
		events: make(chan tea.Msg, eventBuffer),
	}
}

func (model *Model) Init() tea.Cmd {
	model.mount(model.pageIndex)
	model.refreshHeartbeat()
	return tea.Batch(model.waitForEvent(), model.statusTick())
}

// Close deactivates every mounted component. It is safe to call more than once.
func (model *Model) Close() {
	if model.closed {
		return
	}
	model.closed = true
	model.unmount()
}

func (model *Model) Page() string {
	return pages[model.pageIndex].path
}

func (model *Model) Tracker() *presence.Tracker {
	return model.tracker
}

func (model *Model) Gate() *popup.Gate {
	return model.gate
}

func (model *Model) mount(index int) {
	model.pageIndex = index
	model.generation++
	current := pages[index]
	gen := model.generation
	events := model.events

	trackerOpts := append([]presence.Option{}, model.cfg.TrackerOptions...)
	trackerOpts = append(trackerOpts,
		presence.WithLogger(model.logger),
		presence.WithOnChange(func(s presence.Snapshot) {
			send(events, snapshotMsg{generation: gen, snapshot: s})
		}),
	)
	model.tracker = presence.NewTracker(model.cfg.Backend, current.path, trackerOpts...)
	if err := model.tracker.Activate(); err != nil {
		model.logger.Errorf("mount %s: %v", current.name, err)
	}

	if current.withPopup {
		gateOpts := append([]popup.Option{}, model.cfg.GateOptions...)
		gateOpts = append(gateOpts,
			popup.WithLogger(model.logger),
			popup.WithOnShow(func() {
				send(events, popupShownMsg{generation: gen})
			}),
		)
		model.gate = popup.NewGate(model.cfg.Store, gateOpts...)
		model.gate.Activate()
	}
	model.logger.Debugf("mounted %s", current.name)
}

func (model *Model) unmount() {
	if model.gate != nil {
		model.gate.Deactivate()
		model.gate = nil
	}
	if model.tracker != nil {
		model.tracker.Deactivate()
		model.tracker = nil
	}
	model.snapshot = presence.Snapshot{}
	model.popupVisible = false
}

func (model *Model) switchPage() {
	next := (model.pageIndex + 1) % len(pages)
	model.unmount()
	model.mount(next)
}

func (model *Model) refreshHeartbeat() {
	if model.cfg.Heartbeat != nil {
		model.heartbeat = model.cfg.Heartbeat.Stats()
	}
}

// send never blocks a component goroutine. A full buffer drops the event;
// the next one carries the latest state anyway.
func send(events chan<- tea.Msg, msg tea.Msg) {
	select {
	case events <- msg:
	default:
	}
}
