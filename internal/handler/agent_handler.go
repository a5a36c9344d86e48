package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"Mansoor88-6/activity-agent/internal/client"
	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/models"
	"Mansoor88-6/activity-agent/internal/platform"
	"Mansoor88-6/activity-agent/internal/scheduler"

	"go.uber.org/zap"
)

// rendererSource tags events reported by the desktop shell
const rendererSource = "renderer"

// Agent is the part of the tracking service exposed on the loopback API
type Agent interface {
	Status() models.StatusReport
	BreakState() models.BreakState
	StartManualBreak(minutes int) (*models.ActiveBreak, error)
	StopBreak() bool
	SubmitActivity(event platform.ActivityEvent)
	PendingUploads() int
	InputBacklog() (pending int, dropped uint64)
}

// BackendChecker checks that the collector's HTTP API is reachable
type BackendChecker interface {
	HealthCheck(ctx context.Context) error
}

// BreakRequester relays a break request to the admin
type BreakRequester interface {
	RequestBreak(minutes int) error
}

type AgentHandler struct {
	agent     Agent
	requester BreakRequester
	backend   BackendChecker
	clock     clock.Clock
	logger    *zap.Logger
}

func NewAgentHandler(agent Agent, requester BreakRequester, backend BackendChecker, clk clock.Clock, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{
		agent:     agent,
		requester: requester,
		backend:   backend,
		clock:     clk,
		logger:    logger,
	}
}

// ActivityRequest is a fallback input event from the renderer
type ActivityRequest struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier"`
}

type BreakRequest struct {
	Minutes int `json:"minutes"`
}

// HealthResponse reports the agent's own health. The agent answers 200 even
// when the collector is unreachable, since uploads queue until it returns.
type HealthResponse struct {
	Status       string `json:"status"`
	Backend      string `json:"backend"`
	InputBacklog int    `json:"inputBacklog"`
	InputDropped uint64 `json:"inputDropped"`
	Timestamp    int64  `json:"timestamp"`
}

type StatusResponse struct {
	models.StatusReport
	Breaks         models.BreakState `json:"breaks"`
	PendingUploads int               `json:"pendingUploads"`
}

// ConflictResponse explains a rejected break
type ConflictResponse struct {
	Reason          string `json:"reason"`
	NextAvailableAt *int64 `json:"nextAvailableAt,omitempty"`
}

func (h *AgentHandler) Activity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode activity request", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	kind := platform.ActivityKind(req.Kind)
	switch kind {
	case platform.ActivityKeyPress, platform.ActivityMouseClick, platform.ActivityMouseScroll, platform.ActivityMouseMove:
	default:
		http.Error(w, "Invalid activity kind", http.StatusBadRequest)
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = platform.IdentifierAny
	}

	h.agent.SubmitActivity(platform.ActivityEvent{
		Kind:       kind,
		Identifier: identifier,
		Source:     rendererSource,
		Timestamp:  h.clock.Now(),
	})
	w.WriteHeader(http.StatusAccepted)
}

func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		StatusReport:   h.agent.Status(),
		Breaks:         h.agent.BreakState(),
		PendingUploads: h.agent.PendingUploads(),
	})
}

func (h *AgentHandler) StartBreak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BreakRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Minutes < 0 {
		http.Error(w, "Invalid duration", http.StatusBadRequest)
		return
	}

	ab, err := h.agent.StartManualBreak(req.Minutes)
	if err != nil {
		var taken *scheduler.BreakTakenError
		switch {
		case errors.As(err, &taken):
			next := taken.NextAvailableAt.UnixMilli()
			writeJSON(w, http.StatusConflict, ConflictResponse{Reason: scheduler.Reason(err), NextAvailableAt: &next})
		case errors.Is(err, scheduler.ErrBreakActive):
			writeJSON(w, http.StatusConflict, ConflictResponse{Reason: scheduler.Reason(err)})
		case errors.Is(err, scheduler.ErrInvalidDuration):
			http.Error(w, "Invalid duration", http.StatusBadRequest)
		default:
			h.logger.Error("Failed to start break", zap.Error(err))
			http.Error(w, "Failed to start break", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, ab)
}

func (h *AgentHandler) StopBreak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": h.agent.StopBreak()})
}

func (h *AgentHandler) RequestBreak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BreakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Minutes <= 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.requester.RequestBreak(req.Minutes); err != nil {
		if errors.Is(err, client.ErrNotConnected) {
			http.Error(w, "Collector unreachable", http.StatusServiceUnavailable)
			return
		}
		h.logger.Warn("Failed to relay break request", zap.Error(err))
		http.Error(w, "Failed to relay break request", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (h *AgentHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	backend := "ok"
	if err := h.backend.HealthCheck(r.Context()); err != nil {
		h.logger.Debug("Collector health check failed", zap.Error(err))
		backend = "unreachable"
	}
	pending, dropped := h.agent.InputBacklog()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Backend:      backend,
		InputBacklog: pending,
		InputDropped: dropped,
		Timestamp:    h.clock.Now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
