package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/crashguard/internal/model"
)

func newAlert(id string, class model.AlertClass) model.Alert {
	return model.Alert{
		ID:        id,
		Class:     class,
		Title:     "title " + id,
		Message:   "message " + id,
		CreatedAt: time.Now(),
	}
}

func TestMemoryAlertStore_AppendAndActive(t *testing.T) {
	store := NewMemoryAlertStore(zaptest.NewLogger(t))

	store.Append(newAlert("a", model.AlertClassWarning))
	store.Append(newAlert("b", model.AlertClassDanger))
	store.Append(newAlert("c", model.AlertClassInfo))

	active := store.Active()
	require.Len(t, active, 3)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)
	assert.Equal(t, "c", active[2].ID)
}

func TestMemoryAlertStore_Dismiss(t *testing.T) {
	store := NewMemoryAlertStore(zaptest.NewLogger(t))
	store.Append(newAlert("a", model.AlertClassWarning))
	store.Append(newAlert("b", model.AlertClassDanger))

	// Test case 1: dismiss a known alert
	require.True(t, store.Dismiss("a"))
	active := store.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)

	// Test case 2: dismissing twice is a no-op
	assert.False(t, store.Dismiss("a"))

	// Test case 3: dismissing an unknown id is a no-op
	assert.False(t, store.Dismiss("missing"))

	// Dismissed alerts stay in the log
	all := store.All()
	require.Len(t, all, 2)
	assert.True(t, all[0].Dismissed)
	assert.False(t, all[1].Dismissed)

	for _, a := range store.Active() {
		assert.False(t, a.Dismissed)
	}
}

func TestMemoryAlertStore_SnapshotsAreIsolated(t *testing.T) {
	store := NewMemoryAlertStore(zaptest.NewLogger(t))
	store.Append(newAlert("a", model.AlertClassWarning))

	before := store.All()
	store.Dismiss("a")

	assert.False(t, before[0].Dismissed, "earlier reads must not observe later mutations")
	got, ok := store.Get("a")
	require.True(t, ok)
	assert.True(t, got.Dismissed)
}

func TestMemoryAlertStore_Record(t *testing.T) {
	store := NewMemoryAlertStore(zaptest.NewLogger(t))

	deriveDanger := func(active []model.Alert) (model.Alert, bool) {
		for _, a := range active {
			if a.Class == model.AlertClassDanger {
				return model.Alert{}, false
			}
		}
		return newAlert("danger", model.AlertClassDanger), true
	}

	alert, ok := store.Record(deriveDanger)
	require.True(t, ok)
	assert.Equal(t, "danger", alert.ID)

	_, ok = store.Record(deriveDanger)
	assert.False(t, ok)
	assert.Len(t, store.All(), 1)
}

func TestMemoryAlertStore_Subscribe(t *testing.T) {
	store := NewMemoryAlertStore(zaptest.NewLogger(t))

	var changes []Change
	store.Subscribe(func(change Change) {
		changes = append(changes, change)
	})

	store.Append(newAlert("a", model.AlertClassDanger))
	store.Dismiss("a")
	store.Dismiss("a")
	store.Dismiss("unknown")

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeAppended, changes[0].Kind)
	assert.Len(t, changes[0].Active, 1)
	assert.Equal(t, ChangeDismissed, changes[1].Kind)
	assert.True(t, changes[1].Alert.Dismissed)
	assert.Empty(t, changes[1].Active)
}
