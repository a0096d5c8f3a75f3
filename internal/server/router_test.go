package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/emergency"
	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/monitor"
	"github.com/t77yq/crashguard/internal/storage"
	"github.com/t77yq/crashguard/internal/stream"
)

type stubRisk struct {
	snapshot *model.RiskSnapshot
}

func (s *stubRisk) Latest() (model.RiskSnapshot, bool) {
	if s.snapshot == nil {
		return model.RiskSnapshot{}, false
	}
	return *s.snapshot, true
}

func (s *stubRisk) LatestGlucose() (float64, bool) {
	if s.snapshot == nil {
		return 0, false
	}
	return s.snapshot.CurrentGlucose, true
}

type nopCaller struct{}

func (nopCaller) Call(ctx context.Context, state model.EmergencyState) error { return nil }

type stubStatus struct{}

func (stubStatus) Report() monitor.StatusReport {
	return monitor.StatusReport{ActiveAlerts: 3, Emergency: model.EmergencyPhaseIdle}
}

type testEnv struct {
	server    *httptest.Server
	store     *storage.MemoryAlertStore
	risk      *stubRisk
	escalator *emergency.Escalator
	hub       *stream.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	// Websocket pumps outlive the test function
	logger := zap.NewNop()
	store := storage.NewMemoryAlertStore(logger)
	risk := &stubRisk{}
	escalator := emergency.NewEscalator(emergency.Config{CountdownSeconds: 10, TickInterval: time.Hour}, nopCaller{}, logger)
	hub := stream.NewHub(logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	store.Subscribe(hub.OnAlertChange)
	escalator.Subscribe(hub.OnEmergencyChange)

	h := NewHandler(store, risk, escalator, stubStatus{}, hub, logger)
	server := httptest.NewServer(NewRouter(h, logger))

	t.Cleanup(func() {
		server.Close()
		escalator.Close()
		cancel()
	})

	return &testEnv{server: server, store: store, risk: risk, escalator: escalator, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	decode(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(3), health["active_alerts"])

	resp = env.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}

func TestGetRisk(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/risk")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.risk.snapshot = &model.RiskSnapshot{RiskLevel: model.RiskLevelMedium, CurrentGlucose: 85, PredictedGlucose: 70}
	resp = env.do(t, http.MethodGet, "/api/risk")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot model.RiskSnapshot
	decode(t, resp, &snapshot)
	assert.Equal(t, model.RiskLevelMedium, snapshot.RiskLevel)
	assert.Equal(t, 70.0, snapshot.PredictedGlucose)
}

func TestAlerts(t *testing.T) {
	env := newTestEnv(t)
	env.store.Append(model.Alert{ID: "d1", Class: model.AlertClassDanger, Title: "CRITICAL: Hypoglycemia Risk"})
	env.store.Append(model.Alert{ID: "w1", Class: model.AlertClassWarning, Title: "Hypoglycemia Warning"})

	resp := env.do(t, http.MethodPost, "/api/alerts/d1/dismiss")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Unknown ids are a silent no-op
	resp = env.do(t, http.MethodPost, "/api/alerts/missing/dismiss")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var active []model.Alert
	decode(t, env.do(t, http.MethodGet, "/api/alerts"), &active)
	require.Len(t, active, 1)
	assert.Equal(t, "w1", active[0].ID)

	var all []model.Alert
	decode(t, env.do(t, http.MethodGet, "/api/alerts?all=true"), &all)
	require.Len(t, all, 2)
	assert.True(t, all[0].Dismissed)

	resp = env.do(t, http.MethodGet, "/api/alerts?all=maybe")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActivateFromAlert(t *testing.T) {
	env := newTestEnv(t)
	env.risk.snapshot = &model.RiskSnapshot{RiskLevel: model.RiskLevelHigh, CurrentGlucose: 62}
	env.store.Append(model.Alert{ID: "d1", Class: model.AlertClassDanger})
	env.store.Append(model.Alert{ID: "w1", Class: model.AlertClassWarning})

	resp := env.do(t, http.MethodPost, "/api/alerts/missing/emergency")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/alerts/w1/emergency")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/alerts/d1/emergency")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body emergencyResponse
	decode(t, resp, &body)
	assert.True(t, body.Changed)
	assert.Equal(t, model.EmergencyPhaseActive, body.Phase)
	assert.Equal(t, model.EmergencyTriggerAlert, body.TriggeredBy)
	assert.Equal(t, "d1", body.AlertID)
	require.NotNil(t, body.GlucoseLevel)
	assert.Equal(t, 62.0, *body.GlucoseLevel)
}

func TestEmergencyFlow(t *testing.T) {
	env := newTestEnv(t)

	var body emergencyResponse
	decode(t, env.do(t, http.MethodGet, "/api/emergency"), &body)
	assert.Equal(t, model.EmergencyPhaseIdle, body.Phase)
	assert.Equal(t, 10, body.CountdownSeconds)

	// Cancel from idle is a no-op
	decode(t, env.do(t, http.MethodPost, "/api/emergency/cancel"), &body)
	assert.False(t, body.Changed)

	decode(t, env.do(t, http.MethodPost, "/api/emergency/activate"), &body)
	assert.True(t, body.Changed)
	assert.Equal(t, model.EmergencyPhaseActive, body.Phase)
	assert.Equal(t, model.EmergencyTriggerSOS, body.TriggeredBy)
	assert.Nil(t, body.GlucoseLevel)

	decode(t, env.do(t, http.MethodPost, "/api/emergency/activate"), &body)
	assert.False(t, body.Changed)

	decode(t, env.do(t, http.MethodPost, "/api/emergency/call"), &body)
	assert.True(t, body.Changed)
	assert.Equal(t, model.EmergencyPhaseCalling, body.Phase)

	body = emergencyResponse{}
	decode(t, env.do(t, http.MethodPost, "/api/emergency/cancel"), &body)
	assert.True(t, body.Changed)
	assert.Equal(t, model.EmergencyPhaseIdle, body.Phase)
	assert.Equal(t, 10, body.CountdownSeconds)
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t)
	env.store.Append(model.Alert{ID: "w1", Class: model.AlertClassWarning})

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]json.RawMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	// Initial state
	msg := read()
	assert.JSONEq(t, `"alerts"`, string(msg["type"]))
	var alerts []model.Alert
	require.NoError(t, json.Unmarshal(msg["payload"], &alerts))
	require.Len(t, alerts, 1)

	msg = read()
	assert.JSONEq(t, `"emergency"`, string(msg["type"]))

	// The initial frames are only written once the client is registered,
	// so every later change reaches it
	env.escalator.Activate(emergency.Activation{Trigger: model.EmergencyTriggerSOS})
	for {
		msg = read()
		if string(msg["type"]) == `"emergency"` {
			break
		}
	}
	var state model.EmergencyState
	require.NoError(t, json.Unmarshal(msg["payload"], &state))
	assert.True(t, state.Active)
}
