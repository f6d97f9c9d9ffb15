// Package dashboard composes classifier output, the alert lifecycle store,
// and the notification throttle into the lists and counters the UI renders.
// The UI only subscribes to this view model; it never recomputes state itself.
package dashboard

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetwatch/fleetwatch/internal/alerts"
	"github.com/fleetwatch/fleetwatch/internal/models"
	"github.com/fleetwatch/fleetwatch/internal/notifications"
)

// Filter selects which critical VMs the alert lists show.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterByCPU    Filter = "cpu"
	FilterByMemory Filter = "memory"
)

// PageSize is the fixed number of alerts per page.
const PageSize = 5

// AlertView is the paginated alert listing for one render.
type AlertView struct {
	Unacknowledged []alerts.ClassifiedVM `json:"unacknowledged"`
	Acknowledged   []alerts.ClassifiedVM `json:"acknowledged"`
	Filter         Filter                `json:"filter"`
	Page           int                   `json:"page"`
	TotalPages     int                   `json:"totalPages"`
	TotalUnacked   int                   `json:"totalUnacknowledged"`
	TotalAcked     int                   `json:"totalAcknowledged"`
}

// State is the full view-model output broadcast to subscribers each cycle.
type State struct {
	VMs      []alerts.ClassifiedVM `json:"vms"`
	Summary  models.FleetSummary   `json:"summary"`
	Alerts   AlertView             `json:"alerts"`
	LastPoll time.Time             `json:"lastPoll"`
}

// ViewModel holds the latest classified batch and drives notification sends.
// It is updated by the poller and read by the API and WebSocket layers.
type ViewModel struct {
	mu       sync.Mutex
	store    *alerts.LifecycleStore
	throttle *alerts.Throttle
	sender   notifications.Sender

	filter   Filter
	page     int
	latest   []alerts.ClassifiedVM
	current  alerts.Thresholds
	lastPoll time.Time
}

// NewViewModel builds a view model over the given lifecycle store and sender.
func NewViewModel(store *alerts.LifecycleStore, sender notifications.Sender) *ViewModel {
	return &ViewModel{
		store:    store,
		throttle: alerts.NewThrottle(store),
		sender:   sender,
		filter:   FilterAll,
		page:     1,
		current:  alerts.DefaultThresholds(),
	}
}

// SetFilter switches the alert filter. Changing the filter resets pagination
// to page 1; re-selecting the current filter leaves the page alone so a
// redundant UI event cannot yank the operator back mid-review.
func (v *ViewModel) SetFilter(f Filter) {
	switch f {
	case FilterAll, FilterByCPU, FilterByMemory:
	default:
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.filter != f {
		v.filter = f
		v.page = 1
	}
}

// SetPage moves pagination. Out-of-range values are clamped when the view is
// built, so callers may pass whatever the UI produced.
func (v *ViewModel) SetPage(page int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if page < 1 {
		page = 1
	}
	v.page = page
}

// Update ingests a freshly classified batch and fires any due notifications.
// The batch must already be fully classified (one thresholds value, one clock
// reading) before this is called. recipient may be empty, which silently
// disables sends without disturbing pacing state.
//
// Acknowledged and offline VMs are never evaluated against the throttle and
// their pacing state is left untouched, so pacing resumes correctly if they
// become critical again later.
func (v *ViewModel) Update(ctx context.Context, batch []alerts.ClassifiedVM, t alerts.Thresholds, recipient string, now time.Time) {
	v.mu.Lock()
	v.latest = batch
	v.current = t
	v.lastPoll = now
	v.mu.Unlock()

	if recipient == "" {
		return
	}

	for _, vm := range batch {
		if vm.State != alerts.StateCritical || v.store.IsAcknowledged(vm.ID) {
			continue
		}
		if !v.throttle.ShouldNotify(vm.ID, now, t.Rearm) {
			continue
		}

		msg := notifications.AlertMessage{
			VMName:         vm.Name,
			CPU:            vm.CPU,
			Memory:         vm.Memory,
			Disk:           vm.Disk,
			RecipientEmail: recipient,
		}
		if err := v.sender.Send(ctx, msg); err != nil {
			// Pacing is not advanced: the send is retried next cycle.
			log.Warn().Err(err).Str("vm", vm.Name).Msg("Notification delivery failed")
			continue
		}
		v.throttle.MarkNotified(vm.ID, now)
	}
}

// Snapshot returns the current view-model output.
func (v *ViewModel) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()

	return State{
		VMs:      append([]alerts.ClassifiedVM(nil), v.latest...),
		Summary:  summarize(v.latest),
		Alerts:   v.buildAlertViewLocked(),
		LastPoll: v.lastPoll,
	}
}

func (v *ViewModel) buildAlertViewLocked() AlertView {
	var unacked, acked []alerts.ClassifiedVM
	for _, vm := range v.latest {
		if vm.State != alerts.StateCritical {
			continue
		}
		if !v.matchesFilterLocked(vm) {
			continue
		}
		if v.store.IsAcknowledged(vm.ID) {
			acked = append(acked, vm)
		} else {
			unacked = append(unacked, vm)
		}
	}

	totalPages := int(math.Ceil(float64(len(unacked)) / float64(PageSize)))
	if totalPages < 1 {
		totalPages = 1
	}
	page := v.page
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * PageSize
	end := start + PageSize
	if start > len(unacked) {
		start = len(unacked)
	}
	if end > len(unacked) {
		end = len(unacked)
	}

	return AlertView{
		Unacknowledged: append([]alerts.ClassifiedVM(nil), unacked[start:end]...),
		Acknowledged:   append([]alerts.ClassifiedVM(nil), acked...),
		Filter:         v.filter,
		Page:           page,
		TotalPages:     totalPages,
		TotalUnacked:   len(unacked),
		TotalAcked:     len(acked),
	}
}

// matchesFilterLocked applies the operator-selected metric filter. The lists
// keep registry discovery order; no re-sorting that would jitter between
// polls.
func (v *ViewModel) matchesFilterLocked(vm alerts.ClassifiedVM) bool {
	switch v.filter {
	case FilterByCPU:
		return vm.CPU > v.current.CPU
	case FilterByMemory:
		return vm.Memory > v.current.Memory
	default:
		return true
	}
}

func summarize(vms []alerts.ClassifiedVM) models.FleetSummary {
	s := models.FleetSummary{Total: len(vms)}
	if len(vms) == 0 {
		return s
	}

	var cpu, mem, disk float64
	for _, vm := range vms {
		cpu += vm.CPU
		mem += vm.Memory
		disk += vm.Disk
		switch vm.State {
		case alerts.StateRunning:
			s.Running++
		case alerts.StateIdle:
			s.Idle++
		case alerts.StateCritical:
			s.Critical++
		case alerts.StateOffline:
			s.Offline++
		}
	}

	n := float64(len(vms))
	s.AvgCPU = round1(cpu / n)
	s.AvgMemory = round1(mem / n)
	s.AvgDisk = round1(disk / n)
	return s
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
