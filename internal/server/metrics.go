package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	healthChecks  atomic.Uint64
	sessionStarts atomic.Uint64
	sessionPings  atomic.Uint64
	countReads    atomic.Uint64
	rateLimited   atomic.Uint64
	pruned        atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncHealth() {
	m.healthChecks.Add(1)
}

func (m *Metrics) IncSessionStart() {
	m.sessionStarts.Add(1)
}

func (m *Metrics) IncSessionPing() {
	m.sessionPings.Add(1)
}

func (m *Metrics) IncCountRead() {
	m.countReads.Add(1)
}

func (m *Metrics) IncRateLimited() {
	m.rateLimited.Add(1)
}

func (m *Metrics) AddPruned(n int64) {
	if n > 0 {
		m.pruned.Add(uint64(n))
	}
}

func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"health_checks_total":      m.healthChecks.Load(),
		"session_starts_total":     m.sessionStarts.Load(),
		"session_pings_total":      m.sessionPings.Load(),
		"active_count_reads_total": m.countReads.Load(),
		"rate_limited_total":       m.rateLimited.Load(),
		"sessions_pruned_total":    m.pruned.Load(),
	}
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
