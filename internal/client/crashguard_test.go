package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/crashguard/internal/model"
)

func TestCrashGuardClient_FetchRiskSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, CrashGuardPath, r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"risk_level":"high","current_glucose":72,"predicted_glucose":58,"estimated_time":"12 minutes","recommendations":["Eat now"]}`))
	}))
	defer server.Close()

	c := NewCrashGuardClient(server.URL+"/", time.Second, zaptest.NewLogger(t))
	snapshot, err := c.FetchRiskSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RiskLevelHigh, snapshot.RiskLevel)
	assert.Equal(t, 72.0, snapshot.CurrentGlucose)
	assert.Equal(t, 58.0, snapshot.PredictedGlucose)
	require.NotNil(t, snapshot.EstimatedTime)
	assert.Equal(t, "12 minutes", *snapshot.EstimatedTime)
	assert.Equal(t, []string{"Eat now"}, snapshot.Recommendations)
}

func TestCrashGuardClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantErr: ErrUnexpectedStatus},
		{name: "not found", status: http.StatusNotFound, body: ``, wantErr: ErrUnexpectedStatus},
		{name: "unknown level", status: http.StatusOK, body: `{"risk_level":"extreme"}`, wantErr: model.ErrInvalidRiskLevel},
		{name: "missing level", status: http.StatusOK, body: `{"current_glucose":90}`, wantErr: model.ErrInvalidRiskLevel},
		{name: "malformed", status: http.StatusOK, body: `{"risk_level":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewCrashGuardClient(server.URL, time.Second, zaptest.NewLogger(t))
			_, err := c.FetchRiskSnapshot(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCrashGuardClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	c := NewCrashGuardClient(server.URL, 50*time.Millisecond, zaptest.NewLogger(t))
	_, err := c.FetchRiskSnapshot(context.Background())
	require.Error(t, err)
}
