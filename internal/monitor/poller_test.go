package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/storage"
)

// stubSource returns queued responses in order, repeating the last one
type stubSource struct {
	mu        sync.Mutex
	responses []stubResponse
	calls     atomic.Int32
}

type stubResponse struct {
	snapshot model.RiskSnapshot
	err      error
}

func (s *stubSource) FetchRiskSnapshot(ctx context.Context) (model.RiskSnapshot, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return r.snapshot, r.err
}

func newTestPoller(t *testing.T, responses ...stubResponse) (*Poller, *stubSource, *storage.MemoryAlertStore) {
	logger := zaptest.NewLogger(t)
	source := &stubSource{responses: responses}
	store := storage.NewMemoryAlertStore(logger)
	return NewPoller(source, fixedDeriver(), store, time.Second, logger), source, store
}

func high(predicted float64) stubResponse {
	return stubResponse{snapshot: model.RiskSnapshot{
		RiskLevel:        model.RiskLevelHigh,
		CurrentGlucose:   72,
		PredictedGlucose: predicted,
		EstimatedTime:    strPtr("12 minutes"),
	}}
}

func TestPoller_HighSnapshotProducesDanger(t *testing.T) {
	p, _, store := newTestPoller(t, high(58))

	p.PollOnce(context.Background())

	active := store.Active()
	require.Len(t, active, 1)
	assert.Equal(t, model.AlertClassDanger, active[0].Class)
	assert.Equal(t, "Glucose predicted to reach 58 mg/dL in 12 minutes. Take 15g of fast-acting carbs now.", active[0].Message)

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, model.RiskLevelHigh, latest.RiskLevel)
	assert.False(t, latest.ReceivedAt.IsZero())
}

func TestPoller_MediumWithoutRecommendations(t *testing.T) {
	p, _, store := newTestPoller(t, stubResponse{snapshot: model.RiskSnapshot{RiskLevel: model.RiskLevelMedium}})

	p.PollOnce(context.Background())

	active := store.Active()
	require.Len(t, active, 1)
	assert.Equal(t, model.AlertClassWarning, active[0].Class)
	assert.Equal(t, WarningFallbackMessage, active[0].Message)
}

func TestPoller_LowSnapshotsLeaveStoreEmpty(t *testing.T) {
	low := stubResponse{snapshot: model.RiskSnapshot{RiskLevel: model.RiskLevelLow}}
	p, _, store := newTestPoller(t, low, low)

	p.PollOnce(context.Background())
	p.PollOnce(context.Background())

	assert.Empty(t, store.All())
}

func TestPoller_RepeatedHighYieldsOneDanger(t *testing.T) {
	p, _, store := newTestPoller(t, high(58), high(55), high(52))

	p.PollOnce(context.Background())
	p.PollOnce(context.Background())
	p.PollOnce(context.Background())

	assert.Len(t, store.All(), 1)
}

func TestPoller_DismissThenHighYieldsNewDanger(t *testing.T) {
	p, _, store := newTestPoller(t, high(58))

	p.PollOnce(context.Background())
	first := store.Active()[0]
	require.True(t, store.Dismiss(first.ID))

	p.PollOnce(context.Background())

	active := store.Active()
	require.Len(t, active, 1)
	assert.NotEqual(t, first.ID, active[0].ID)
	assert.Len(t, store.All(), 2)
}

func TestPoller_FailureSkipsCycle(t *testing.T) {
	p, _, store := newTestPoller(t,
		stubResponse{err: errors.New("connection refused")},
		high(58),
	)

	p.PollOnce(context.Background())
	assert.Empty(t, store.All())
	_, ok := p.Latest()
	assert.False(t, ok, "failed polls leave no snapshot")

	p.PollOnce(context.Background())
	assert.Len(t, store.Active(), 1)
}

func TestPoller_StartPollsImmediatelyAndStop(t *testing.T) {
	// The cron runner may log after Stop returns, which zaptest does not allow
	source := &stubSource{responses: []stubResponse{high(58)}}
	store := storage.NewMemoryAlertStore(zap.NewNop())
	p := NewPoller(source, fixedDeriver(), store, time.Second, zap.NewNop())

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(store.Active()) == 1 }, time.Second, 10*time.Millisecond)

	p.Stop()
	calls := source.calls.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, calls, source.calls.Load(), "no polls after stop")

	g, ok := p.LatestGlucose()
	require.True(t, ok)
	assert.Equal(t, 72.0, g)
}
