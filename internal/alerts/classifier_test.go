package alerts

import (
	"testing"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func snapshot(cpu, memory float64, age time.Duration) models.VMSnapshot {
	return models.VMSnapshot{
		ID:          "vm-1",
		Name:        "vm-1",
		CPU:         cpu,
		Memory:      memory,
		LastUpdated: testNow.Add(-age),
	}
}

func TestClassifyPrecedence(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		vm   models.VMSnapshot
		want VMState
	}{
		{"fresh and loaded is critical", snapshot(95, 95, time.Second), StateCritical},
		{"stale dominates metrics", snapshot(95, 95, 20*time.Second), StateOffline},
		{"no last_updated is offline", models.VMSnapshot{ID: "vm-1", CPU: 95}, StateOffline},
		{"exactly at grace is online", snapshot(95, 40, 15*time.Second), StateCritical},
		{"just past grace is offline", snapshot(95, 40, 15*time.Second + time.Millisecond), StateOffline},
		{"cpu alone can be critical", snapshot(85, 10, time.Second), StateCritical},
		{"memory alone can be critical", snapshot(10, 85, time.Second), StateCritical},
		{"both low is idle", snapshot(10, 15, time.Second), StateIdle},
		{"middling load is running", snapshot(50, 50, time.Second), StateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.vm, th, testNow); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyThresholdIsStrict(t *testing.T) {
	th := DefaultThresholds()

	if got := Classify(snapshot(80, 40, time.Second), th, testNow); got == StateCritical {
		t.Fatalf("VM exactly at threshold must not be critical, got %s", got)
	}
	if got := Classify(snapshot(80.0001, 40, time.Second), th, testNow); got != StateCritical {
		t.Fatalf("VM just over threshold must be critical, got %s", got)
	}
}

func TestClassifyIdleRequiresBothMetrics(t *testing.T) {
	th := DefaultThresholds()

	// Idle CPU but busy memory is running, not idle.
	if got := Classify(snapshot(10, 50, time.Second), th, testNow); got != StateRunning {
		t.Fatalf("expected running, got %s", got)
	}
	// Strict comparison: exactly at the idle threshold is not idle.
	if got := Classify(snapshot(20, 10, time.Second), th, testNow); got != StateRunning {
		t.Fatalf("expected running at idle boundary, got %s", got)
	}
}

func TestClassifyIgnoresReportedStatus(t *testing.T) {
	th := DefaultThresholds()

	vm := snapshot(95, 40, time.Second)
	vm.Status = "Idle"
	if got := Classify(vm, th, testNow); got != StateCritical {
		t.Fatalf("reported status must not override computed state, got %s", got)
	}
}

func TestClassifyBatchKeepsOrder(t *testing.T) {
	th := DefaultThresholds()
	vms := []models.VMSnapshot{
		{ID: "a", CPU: 90, LastUpdated: testNow},
		{ID: "b", CPU: 10, Memory: 10, LastUpdated: testNow},
		{ID: "c"},
	}

	batch := ClassifyBatch(vms, th, testNow)
	if len(batch) != 3 {
		t.Fatalf("expected 3 classified VMs, got %d", len(batch))
	}
	if batch[0].ID != "a" || batch[1].ID != "b" || batch[2].ID != "c" {
		t.Fatalf("batch order changed: %s %s %s", batch[0].ID, batch[1].ID, batch[2].ID)
	}
	if batch[0].State != StateCritical || batch[1].State != StateIdle || batch[2].State != StateOffline {
		t.Fatalf("unexpected states: %s %s %s", batch[0].State, batch[1].State, batch[2].State)
	}
}
