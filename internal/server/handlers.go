package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

type sessionStartRequest struct {
	SessionID string `json:"sessionId"`
	Page      string `json:"page"`
}

type sessionPingRequest struct {
	SessionID string `json:"sessionId"`
}

type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type activeUsersResponse struct {
	Success     bool `json:"success"`
	ActiveUsers int  `json:"activeUsers"`
}

var errMissingSessionID = errors.New("sessionId is required")

const maxBodyBytes = 4 << 10

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	s.metrics.IncHealth()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Time: s.clock.Now().UTC()})
}

func (s *Server) HandleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req sessionStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		writeError(w, http.StatusBadRequest, errMissingSessionID)
		return
	}
	if err := s.presence.Start(r.Context(), id, req.Page); err != nil {
		s.logger.Errorf("session start %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, errors.New("could not record session"))
		return
	}
	s.metrics.IncSessionStart()
	s.logger.Debugf("session %s started on %q", id, req.Page)
	writeJSON(w, http.StatusCreated, successResponse{Success: true})
}

func (s *Server) HandleSessionPing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req sessionPingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		writeError(w, http.StatusBadRequest, errMissingSessionID)
		return
	}
	created, err := s.presence.Ping(r.Context(), id)
	if err != nil {
		s.logger.Errorf("session ping %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, errors.New("could not record ping"))
		return
	}
	if created {
		s.logger.Debugf("session %s re-registered from ping", id)
	}
	s.metrics.IncSessionPing()
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) HandleActiveUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	count, err := s.presence.ActiveCount(r.Context())
	if err != nil {
		s.logger.Errorf("active count: %v", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not count sessions"))
		return
	}
	s.metrics.IncCountRead()
	writeJSON(w, http.StatusOK, activeUsersResponse{Success: true, ActiveUsers: count})
}

// decodeJSON accepts unknown fields: browser clients may send more than the
// backend reads.
func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
