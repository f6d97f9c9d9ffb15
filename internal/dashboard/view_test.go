package dashboard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/internal/alerts"
	"github.com/fleetwatch/fleetwatch/internal/models"
	"github.com/fleetwatch/fleetwatch/internal/notifications"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	sent []notifications.AlertMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg notifications.AlertMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func criticalVM(id string, cpu, memory float64) alerts.ClassifiedVM {
	return alerts.ClassifiedVM{
		VMSnapshot: models.VMSnapshot{ID: id, Name: id, CPU: cpu, Memory: memory, LastUpdated: t0},
		State:      alerts.StateCritical,
	}
}

func newTestView(sender notifications.Sender) (*ViewModel, *alerts.LifecycleStore) {
	store := alerts.NewLifecycleStore(nil)
	return NewViewModel(store, sender), store
}

func TestAlertViewSplitsByAcknowledgement(t *testing.T) {
	view, store := newTestView(&fakeSender{})
	store.Acknowledge("b")

	batch := []alerts.ClassifiedVM{
		criticalVM("a", 90, 40),
		criticalVM("b", 85, 40),
		{VMSnapshot: models.VMSnapshot{ID: "c", CPU: 50, LastUpdated: t0}, State: alerts.StateRunning},
		{VMSnapshot: models.VMSnapshot{ID: "d", CPU: 95}, State: alerts.StateOffline},
	}
	view.Update(context.Background(), batch, alerts.DefaultThresholds(), "", t0)

	av := view.Snapshot().Alerts
	require.Len(t, av.Unacknowledged, 1)
	assert.Equal(t, "a", av.Unacknowledged[0].ID)
	require.Len(t, av.Acknowledged, 1)
	assert.Equal(t, "b", av.Acknowledged[0].ID)
}

func TestAlertViewFilter(t *testing.T) {
	view, _ := newTestView(&fakeSender{})

	batch := []alerts.ClassifiedVM{
		criticalVM("cpu-hot", 90, 40),
		criticalVM("mem-hot", 40, 90),
	}
	view.Update(context.Background(), batch, alerts.DefaultThresholds(), "", t0)

	view.SetFilter(FilterByCPU)
	av := view.Snapshot().Alerts
	require.Len(t, av.Unacknowledged, 1)
	assert.Equal(t, "cpu-hot", av.Unacknowledged[0].ID)

	view.SetFilter(FilterByMemory)
	av = view.Snapshot().Alerts
	require.Len(t, av.Unacknowledged, 1)
	assert.Equal(t, "mem-hot", av.Unacknowledged[0].ID)

	view.SetFilter(FilterAll)
	assert.Len(t, view.Snapshot().Alerts.Unacknowledged, 2)
}

func TestAlertViewPagination(t *testing.T) {
	view, _ := newTestView(&fakeSender{})

	var batch []alerts.ClassifiedVM
	for i := 0; i < 12; i++ {
		batch = append(batch, criticalVM(fmt.Sprintf("vm-%02d", i), 90, 40))
	}
	view.Update(context.Background(), batch, alerts.DefaultThresholds(), "", t0)

	av := view.Snapshot().Alerts
	assert.Equal(t, 1, av.Page)
	assert.Equal(t, 3, av.TotalPages)
	require.Len(t, av.Unacknowledged, PageSize)
	assert.Equal(t, "vm-00", av.Unacknowledged[0].ID)

	view.SetPage(3)
	av = view.Snapshot().Alerts
	assert.Equal(t, 3, av.Page)
	require.Len(t, av.Unacknowledged, 2)
	assert.Equal(t, "vm-10", av.Unacknowledged[0].ID)

	// Out-of-range pages clamp instead of erroring.
	view.SetPage(99)
	assert.Equal(t, 3, view.Snapshot().Alerts.Page)
	view.SetPage(-5)
	assert.Equal(t, 1, view.Snapshot().Alerts.Page)
}

func TestFilterChangeResetsPageButDataChangeDoesNot(t *testing.T) {
	view, _ := newTestView(&fakeSender{})

	var batch []alerts.ClassifiedVM
	for i := 0; i < 12; i++ {
		batch = append(batch, criticalVM(fmt.Sprintf("vm-%02d", i), 90, 90))
	}
	view.Update(context.Background(), batch, alerts.DefaultThresholds(), "", t0)
	view.SetPage(2)

	// New data mid-review must not yank the operator back to page 1.
	view.Update(context.Background(), batch[:11], alerts.DefaultThresholds(), "", t0.Add(5*time.Second))
	assert.Equal(t, 2, view.Snapshot().Alerts.Page)

	// Re-selecting the same filter also keeps the page.
	view.SetFilter(FilterAll)
	assert.Equal(t, 2, view.Snapshot().Alerts.Page)

	// An actual filter change resets to page 1.
	view.SetFilter(FilterByCPU)
	assert.Equal(t, 1, view.Snapshot().Alerts.Page)
}

func TestUpdateSkipsSendsWithoutRecipient(t *testing.T) {
	sender := &fakeSender{}
	view, store := newTestView(sender)
	th := alerts.DefaultThresholds()

	batch := []alerts.ClassifiedVM{criticalVM("a", 90, 40)}
	view.Update(context.Background(), batch, th, "", t0)
	view.Update(context.Background(), batch, th, "", t0.Add(th.Rearm+time.Minute))

	assert.Empty(t, sender.sent)
	_, armed := store.LastNotifiedAt("a")
	assert.False(t, armed, "no recipient: pacing state must stay untouched")
}

func TestUpdateSendFailureKeepsPacing(t *testing.T) {
	sender := &fakeSender{}
	view, store := newTestView(sender)
	th := alerts.DefaultThresholds()
	batch := []alerts.ClassifiedVM{criticalVM("a", 90, 40)}

	// Cycle 1: arms silently.
	view.Update(context.Background(), batch, th, "ops@example.com", t0)
	assert.Empty(t, sender.sent)

	// Cycle 2: window elapsed but delivery fails; pacing must not advance.
	sender.err = errors.New("relay unreachable")
	failedAt := t0.Add(th.Rearm + time.Second)
	view.Update(context.Background(), batch, th, "ops@example.com", failedAt)
	last, ok := store.LastNotifiedAt("a")
	require.True(t, ok)
	assert.Equal(t, t0, last, "failed delivery consumed the rearm window")

	// Cycle 3: delivery recovers and the retry goes out immediately.
	sender.err = nil
	retryAt := failedAt.Add(5 * time.Second)
	view.Update(context.Background(), batch, th, "ops@example.com", retryAt)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "a", sender.sent[0].VMName)
	assert.Equal(t, "ops@example.com", sender.sent[0].RecipientEmail)
	last, _ = store.LastNotifiedAt("a")
	assert.Equal(t, retryAt, last)
}

func TestSummaryCountsAndAverages(t *testing.T) {
	view, _ := newTestView(&fakeSender{})

	batch := []alerts.ClassifiedVM{
		{VMSnapshot: models.VMSnapshot{ID: "a", CPU: 90, Memory: 30, Disk: 10, LastUpdated: t0}, State: alerts.StateCritical},
		{VMSnapshot: models.VMSnapshot{ID: "b", CPU: 10, Memory: 10, Disk: 20, LastUpdated: t0}, State: alerts.StateIdle},
		{VMSnapshot: models.VMSnapshot{ID: "c", CPU: 50, Memory: 50, Disk: 30, LastUpdated: t0}, State: alerts.StateRunning},
		{VMSnapshot: models.VMSnapshot{ID: "d"}, State: alerts.StateOffline},
	}
	view.Update(context.Background(), batch, alerts.DefaultThresholds(), "", t0)

	s := view.Snapshot().Summary
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, 1, s.Critical)
	assert.Equal(t, 1, s.Offline)
	assert.InDelta(t, 37.5, s.AvgCPU, 0.01)
	assert.InDelta(t, 22.5, s.AvgMemory, 0.01)
	assert.InDelta(t, 15.0, s.AvgDisk, 0.01)
}

// TestCriticalAlertLifecycleEndToEnd walks the full scenario: first-seen
// suppression, a paced send, acknowledge, and re-arm after unacknowledge.
func TestCriticalAlertLifecycleEndToEnd(t *testing.T) {
	sender := &fakeSender{}
	view, store := newTestView(sender)

	th := alerts.DefaultThresholds()
	th.Rearm = 300 * time.Second
	recipient := "ops@example.com"

	vm := models.VMSnapshot{ID: "v1", Name: "v1", CPU: 85, Memory: 40, LastUpdated: t0}

	classify := func(at time.Time) []alerts.ClassifiedVM {
		vm.LastUpdated = at // agent keeps reporting
		return alerts.ClassifyBatch([]models.VMSnapshot{vm}, th, at)
	}

	// T0+5s: critical, first seen. No send; pacing armed.
	poll1 := t0.Add(5 * time.Second)
	view.Update(context.Background(), classify(poll1), th, recipient, poll1)
	assert.Empty(t, sender.sent)
	last, ok := store.LastNotifiedAt("v1")
	require.True(t, ok)
	assert.Equal(t, poll1, last)

	// T0+310s: 305s since arming > 300s rearm, still unacknowledged: send.
	poll2 := t0.Add(310 * time.Second)
	view.Update(context.Background(), classify(poll2), th, recipient, poll2)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "v1", sender.sent[0].VMName)
	last, _ = store.LastNotifiedAt("v1")
	assert.Equal(t, poll2, last)

	// T0+320s: operator acknowledges. VM moves to the acknowledged list and
	// no further sends happen.
	store.Acknowledge("v1")
	poll3 := t0.Add(325 * time.Second)
	view.Update(context.Background(), classify(poll3), th, recipient, poll3)
	av := view.Snapshot().Alerts
	assert.Empty(t, av.Unacknowledged)
	require.Len(t, av.Acknowledged, 1)
	assert.Len(t, sender.sent, 1)

	// T0+400s: unacknowledged while still critical: first-seen suppression
	// applies again, so the next poll arms silently instead of firing.
	store.Unacknowledge("v1")
	poll4 := t0.Add(405 * time.Second)
	view.Update(context.Background(), classify(poll4), th, recipient, poll4)
	assert.Len(t, sender.sent, 1, "re-armed vm fired immediately after unacknowledge")
	last, ok = store.LastNotifiedAt("v1")
	require.True(t, ok)
	assert.Equal(t, poll4, last)
}
