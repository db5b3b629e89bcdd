package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/srg/hopper/internal/fleet"
	"github.com/srg/hopper/pkg/config"
)

// PanelResponse is the JSON form of one registered panel.
type PanelResponse struct {
	MAC          string `json:"mac"`
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	Order        int    `json:"order"`
	GridPosition string `json:"grid_position,omitempty"`
	Notes        string `json:"notes,omitempty"`
	Held         bool   `json:"held"`
}

// RenameRequest is the body of a rename call.
type RenameRequest struct {
	Name string `json:"name"`
}

// SendAllResponse summarizes a broadcast.
type SendAllResponse struct {
	Succeeded int                 `json:"succeeded"`
	Total     int                 `json:"total"`
	Results   []fleet.SendOutcome `json:"results"`
}

// PoolResponse describes the held link pool.
type PoolResponse struct {
	Enabled  bool               `json:"enabled"`
	Capacity int                `json:"capacity"`
	Links    []fleet.LinkStatus `json:"links"`
}

// LogsResponse carries progress entries newer than the requested sequence.
type LogsResponse struct {
	Next    uint64     `json:"next"`
	Entries []LogEntry `json:"entries"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleListPanels(w http.ResponseWriter, r *http.Request) {
	held := make(map[string]bool)
	for _, l := range s.poolLinks() {
		held[l.Address] = l.Connected
	}

	panels := s.cfg.Panels()
	response := make([]PanelResponse, 0, len(panels))
	for _, p := range panels {
		response = append(response, toPanelResponse(p, held[p.MAC]))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleTogglePanel(w http.ResponseWriter, r *http.Request) {
	panel, ok := s.lookup(w, r)
	if !ok {
		return
	}

	updated, err := s.cfg.Toggle(panel.MAC)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.persist(w) {
		return
	}

	s.logger.WithField("address", updated.MAC).WithField("enabled", updated.Enabled).Info("Panel toggled")
	writeJSON(w, http.StatusOK, toPanelResponse(updated, s.held(updated.MAC)))
}

func (s *Server) handleRenamePanel(w http.ResponseWriter, r *http.Request) {
	panel, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	updated, err := s.cfg.Rename(panel.MAC, req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.persist(w) {
		return
	}

	s.logger.WithField("address", updated.MAC).WithField("name", updated.Name).Info("Panel renamed")
	writeJSON(w, http.StatusOK, toPanelResponse(updated, s.held(updated.MAC)))
}

func (s *Server) handleSendOne(w http.ResponseWriter, r *http.Request) {
	s.sendTo(w, r, s.coord)
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	quick, err := s.coord.WithPolicy(s.coord.Policy().Quick())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendTo(w, r, quick)
}

func (s *Server) sendTo(w http.ResponseWriter, r *http.Request, coord *fleet.Coordinator) {
	panel, ok := s.lookup(w, r)
	if !ok {
		return
	}
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}

	s.sendMu.Lock()
	outcome := coord.SendToOne(r.Context(), fleet.Target{Address: panel.MAC, Name: panel.Name, Payload: payload})
	s.sendMu.Unlock()

	status := http.StatusOK
	if !outcome.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, outcome)
}

func (s *Server) handleSendAll(w http.ResponseWriter, r *http.Request) {
	payload, ok := readPayload(w, r)
	if !ok {
		return
	}

	enabled := s.cfg.EnabledPanels()
	if len(enabled) == 0 {
		writeError(w, http.StatusBadRequest, "no enabled panels")
		return
	}
	panels := make([]fleet.Panel, len(enabled))
	for i, p := range enabled {
		panels[i] = fleet.Panel{Address: p.MAC, Name: p.Name}
	}

	s.sendMu.Lock()
	outcomes := s.coord.SendSameToAll(r.Context(), panels, payload)
	s.sendMu.Unlock()

	response := SendAllResponse{Total: len(outcomes), Results: outcomes}
	for _, o := range outcomes {
		if o.Success {
			response.Succeeded++
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	response := PoolResponse{
		Enabled: s.coord.Policy().UsePool && s.coord.Pool() != nil,
		Links:   s.poolLinks(),
	}
	if pool := s.coord.Pool(); pool != nil {
		response.Capacity = pool.Capacity()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePoolDrain(w http.ResponseWriter, r *http.Request) {
	drained := len(s.poolLinks())
	s.coord.Drain()

	s.logger.WithField("pool_size", drained).Info("Pool drained on request")
	writeJSON(w, http.StatusOK, map[string]int{"drained": drained})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+raw)
			return
		}
		since = n
	}

	entries, next := s.logs.Since(since)
	for i := range entries {
		if p, ok := s.cfg.PanelByAddress(entries[i].Address); ok {
			entries[i].Name = p.Name
		}
	}
	writeJSON(w, http.StatusOK, LogsResponse{Next: next, Entries: entries})
}

// lookup resolves the {panel} URL parameter by MAC or name.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (config.Panel, bool) {
	ref := chi.URLParam(r, "panel")
	panel, err := s.cfg.Lookup(ref)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return config.Panel{}, false
	}
	return panel, true
}

func (s *Server) persist(w http.ResponseWriter) bool {
	if err := s.cfg.Save(); err != nil {
		s.logger.WithError(err).Error("Failed to save config")
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	return true
}

func (s *Server) poolLinks() []fleet.LinkStatus {
	if pool := s.coord.Pool(); pool != nil {
		return pool.Links()
	}
	return []fleet.LinkStatus{}
}

func (s *Server) held(mac string) bool {
	for _, l := range s.poolLinks() {
		if l.Address == mac {
			return l.Connected
		}
	}
	return false
}

func readPayload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadSize))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read payload: "+err.Error())
		return nil, false
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is empty")
		return nil, false
	}
	return payload, true
}

func toPanelResponse(p config.Panel, held bool) PanelResponse {
	return PanelResponse{
		MAC:          p.MAC,
		Name:         p.Name,
		Enabled:      p.Enabled,
		Order:        p.Order,
		GridPosition: p.GridPosition,
		Notes:        p.Notes,
		Held:         held,
	}
}
