package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/emergency"
	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/monitor"
	"github.com/t77yq/crashguard/internal/storage"
	"github.com/t77yq/crashguard/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RiskProvider exposes the most recent risk snapshot
type RiskProvider interface {
	Latest() (model.RiskSnapshot, bool)
	LatestGlucose() (float64, bool)
}

// EmergencyController drives the emergency state machine
type EmergencyController interface {
	State() model.EmergencyState
	Activate(a emergency.Activation) bool
	Cancel() bool
	CallNow() bool
}

// StatusProvider reports pipeline health
type StatusProvider interface {
	Report() monitor.StatusReport
}

// Handler serves the HTTP API
type Handler struct {
	store     storage.AlertStorage
	risk      RiskProvider
	emergency EmergencyController
	status    StatusProvider
	hub       *stream.Hub
	logger    *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(store storage.AlertStorage, risk RiskProvider, em EmergencyController,
	status StatusProvider, hub *stream.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		risk:      risk,
		emergency: em,
		status:    status,
		hub:       hub,
		logger:    logger.Named("api"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type emergencyResponse struct {
	model.EmergencyState
	Phase   model.EmergencyPhase `json:"phase"`
	Changed bool                 `json:"changed"`
}

// Health reports liveness with a status summary
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		monitor.StatusReport
	}{Status: "ok", StatusReport: h.status.Report()})
}

// Metrics writes Prometheus metrics
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}

// GetRisk returns the latest risk snapshot
func (h *Handler) GetRisk(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.risk.Latest()
	if !ok {
		h.writeError(w, http.StatusNotFound, "no risk snapshot received yet")
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// ListAlerts returns the active alerts, or the whole log with ?all=true
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	all := false
	if v := r.URL.Query().Get("all"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid value for all")
			return
		}
		all = parsed
	}

	if all {
		h.writeJSON(w, http.StatusOK, h.store.All())
		return
	}
	h.writeJSON(w, http.StatusOK, h.store.Active())
}

// DismissAlert dismisses an alert. Unknown or already dismissed ids succeed.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	h.store.Dismiss(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// ActivateFromAlert starts an emergency from an active danger alert
func (h *Handler) ActivateFromAlert(w http.ResponseWriter, r *http.Request) {
	activation, err := emergency.ForAlert(h.store, chi.URLParam(r, "id"), h.risk.LatestGlucose)
	switch {
	case errors.Is(err, emergency.ErrAlertNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, emergency.ErrNotDanger):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	changed := h.emergency.Activate(activation)
	h.writeEmergency(w, changed)
}

// GetEmergency returns the emergency state
func (h *Handler) GetEmergency(w http.ResponseWriter, r *http.Request) {
	h.writeEmergency(w, false)
}

// ActivateEmergency is the SOS button
func (h *Handler) ActivateEmergency(w http.ResponseWriter, r *http.Request) {
	activation := emergency.Activation{Trigger: model.EmergencyTriggerSOS}
	if g, ok := h.risk.LatestGlucose(); ok {
		activation.GlucoseLevel = &g
	}
	h.writeEmergency(w, h.emergency.Activate(activation))
}

// CancelEmergency is the "I'm OK" button
func (h *Handler) CancelEmergency(w http.ResponseWriter, r *http.Request) {
	h.writeEmergency(w, h.emergency.Cancel())
}

// CallEmergency skips the countdown
func (h *Handler) CallEmergency(w http.ResponseWriter, r *http.Request) {
	h.writeEmergency(w, h.emergency.CallNow())
}

// HandleWebSocket upgrades the connection and streams alert and emergency
// changes, starting with the current state of both
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	snapshot := func() [][]byte {
		var frames [][]byte
		if frame, err := stream.Encode(stream.MessageAlerts, h.store.Active()); err == nil {
			frames = append(frames, frame)
		}
		if frame, err := stream.Encode(stream.MessageEmergency, h.emergency.State()); err == nil {
			frames = append(frames, frame)
		}
		return frames
	}

	h.logger.Debug("WebSocket connection established", zap.String("remote", conn.RemoteAddr().String()))
	go stream.NewClient(h.hub, conn, snapshot).Serve()
}

func (h *Handler) writeEmergency(w http.ResponseWriter, changed bool) {
	state := h.emergency.State()
	h.writeJSON(w, http.StatusOK, emergencyResponse{
		EmergencyState: state,
		Phase:          state.Phase(),
		Changed:        changed,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}
