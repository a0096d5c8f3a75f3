package emergency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/notifier"
)

type captureNotifier struct {
	mu            sync.Mutex
	notifications []notifier.Notification
}

func (c *captureNotifier) Notify(ctx context.Context, n notifier.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, n)
	return nil
}

func (c *captureNotifier) PlayAlertTone(ctx context.Context, tone notifier.Tone) error {
	return nil
}

func (c *captureNotifier) sent() []notifier.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notifier.Notification(nil), c.notifications...)
}

func TestSimulatedCaller(t *testing.T) {
	n := &captureNotifier{}
	caller := NewSimulatedCaller(n, notifier.DefaultFormat(), 10*time.Millisecond, zaptest.NewLogger(t))

	glucose := 52.0
	start := time.Now()
	err := caller.Call(context.Background(), model.EmergencyState{
		Active:       true,
		Calling:      true,
		TriggeredBy:  model.EmergencyTriggerSOS,
		GlucoseLevel: &glucose,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	sent := n.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Dia-Pilot: Emergency services contacted", sent[0].Title)
	assert.Equal(t, "Location shared. Emergency contact notified.", sent[0].Body)
	assert.Equal(t, "emergency-call", sent[0].Tag)
	assert.True(t, sent[0].RequireInteraction)
}

func TestSimulatedCaller_Cancelled(t *testing.T) {
	n := &captureNotifier{}
	caller := NewSimulatedCaller(n, notifier.DefaultFormat(), time.Hour, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := caller.Call(ctx, model.EmergencyState{Active: true, Calling: true})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, n.sent())
}

func TestEscalatorWithSimulatedCaller(t *testing.T) {
	n := &captureNotifier{}
	caller := NewSimulatedCaller(n, notifier.DefaultFormat(), 10*time.Millisecond, zaptest.NewLogger(t))
	e := NewEscalator(Config{CountdownSeconds: 2, TickInterval: 10 * time.Millisecond}, caller, zaptest.NewLogger(t))
	defer e.Close()

	e.Activate(Activation{Trigger: model.EmergencyTriggerAlert, AlertID: "d1"})

	require.Eventually(t, func() bool { return len(n.sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	sent := n.sent()[0]
	assert.Equal(t, "emergency-call-d1", sent.Tag)
	assert.NotEqual(t, notifier.DefaultFormat().ForAlert(model.Alert{ID: "d1"}).Tag, sent.Tag,
		"the call notification must not share the danger alert's tag")
	assert.Equal(t, "d1", sent.AlertID)
	assert.Equal(t, model.EmergencyPhaseCalling, e.State().Phase())
}
