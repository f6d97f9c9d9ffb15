// Package alerts implements the VM state classifier, the acknowledgement
// lifecycle store, and the notification throttle shared by every dashboard
// view.
package alerts

import (
	"time"

	"github.com/fleetwatch/fleetwatch/internal/models"
)

// VMState is the derived liveness/load state of a VM.
type VMState string

const (
	StateOffline  VMState = "offline"
	StateCritical VMState = "critical"
	StateIdle     VMState = "idle"
	StateRunning  VMState = "running"
)

// Thresholds is the classification and pacing configuration. It is threaded
// explicitly into the classifier and throttle; nothing in this package reads
// ambient settings.
type Thresholds struct {
	CPU          float64       `json:"cpu"`
	Memory       float64       `json:"memory"`
	Idle         float64       `json:"idle"`
	OfflineGrace time.Duration `json:"offlineGrace"`
	Rearm        time.Duration `json:"rearm"`
}

// DefaultThresholds returns the stock thresholds: 80% critical, 20% idle,
// 15s offline grace, 5 minute notification rearm.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPU:          80,
		Memory:       80,
		Idle:         20,
		OfflineGrace: 15 * time.Second,
		Rearm:        5 * time.Minute,
	}
}

// Classify derives the state of a single snapshot. Evaluation order matters:
// staleness dominates everything (metric values on a stale snapshot are not
// trusted), then critical, then idle, then running.
//
// Critical uses strict > on either metric: a VM sitting exactly at the
// threshold is not critical. Idle uses strict < on both metrics: idle CPU with
// busy memory is running, not idle. The agent-reported Status string plays no
// part here.
func Classify(vm models.VMSnapshot, t Thresholds, now time.Time) VMState {
	if vm.LastUpdated.IsZero() || now.Sub(vm.LastUpdated) > t.OfflineGrace {
		return StateOffline
	}
	if vm.CPU > t.CPU || vm.Memory > t.Memory {
		return StateCritical
	}
	if vm.CPU < t.Idle && vm.Memory < t.Idle {
		return StateIdle
	}
	return StateRunning
}

// ClassifiedVM pairs a snapshot with its derived state for one poll cycle.
type ClassifiedVM struct {
	models.VMSnapshot
	State VMState `json:"state"`
}

// ClassifyBatch classifies every snapshot in registry order. The whole batch
// is evaluated against one thresholds value and one clock reading so a
// mid-cycle settings change cannot split the fleet across two configurations.
func ClassifyBatch(vms []models.VMSnapshot, t Thresholds, now time.Time) []ClassifiedVM {
	out := make([]ClassifiedVM, 0, len(vms))
	for _, vm := range vms {
		out = append(out, ClassifiedVM{VMSnapshot: vm, State: Classify(vm, t, now)})
	}
	return out
}
