// Package monitoring runs the timer-driven poll cycle: fetch the registry
// snapshot batch, classify it, and hand it to the view model.
package monitoring

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetwatch/fleetwatch/internal/alerts"
	"github.com/fleetwatch/fleetwatch/internal/dashboard"
	"github.com/fleetwatch/fleetwatch/internal/history"
	"github.com/fleetwatch/fleetwatch/internal/models"
	"github.com/fleetwatch/fleetwatch/internal/settings"
)

// Fetcher supplies the current registry snapshot batch.
type Fetcher interface {
	FetchVMs(ctx context.Context) ([]models.VMSnapshot, error)
}

// Broadcaster receives the view-model output after each cycle.
type Broadcaster interface {
	BroadcastState(state interface{})
}

// Poller drives the monitoring loop. Start and Stop are idempotent; the timer
// lifetime is scoped to the poller and cancelled exactly once.
type Poller struct {
	interval time.Duration
	fetcher  Fetcher
	view     *dashboard.ViewModel
	settings *settings.Manager
	history  *history.Store // optional
	hub      Broadcaster    // optional

	inFlight  atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPoller builds a poller. history and hub may be nil.
func NewPoller(interval time.Duration, fetcher Fetcher, view *dashboard.ViewModel, sm *settings.Manager, hist *history.Store, hub Broadcaster) *Poller {
	return &Poller{
		interval: interval,
		fetcher:  fetcher,
		view:     view,
		settings: sm,
		history:  hist,
		hub:      hub,
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop. Subsequent calls are no-ops.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
	})
}

// Stop cancels the loop and waits for the current cycle to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
	})
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	log.Info().Dur("interval", p.interval).Msg("Monitoring loop started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Immediate first cycle so the dashboard is not blank for one interval.
	p.cycle(ctx)

	for {
		select {
		case <-ticker.C:
			p.cycle(ctx)
		case <-ctx.Done():
			log.Info().Msg("Monitoring loop stopped")
			return
		}
	}
}

// cycle runs one full poll. Overlapping cycles are not allowed: if the
// previous cycle is still in flight the tick is skipped so nothing races the
// lifecycle store.
func (p *Poller) cycle(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		pollSkipped.Inc()
		log.Debug().Msg("Previous poll still in flight, skipping tick")
		return
	}
	defer p.inFlight.Store(false)

	start := time.Now()

	vms, err := p.fetcher.FetchVMs(ctx)
	if err != nil {
		// No update this cycle: the last-known state stays on screen. A fetch
		// failure says nothing about any VM being offline.
		fetchErrors.Inc()
		log.Warn().Err(err).Msg("Registry fetch failed, retaining last-known state")
		return
	}

	// Classification of the whole batch completes against one thresholds
	// reading before any throttle evaluation begins.
	thresholds := p.settings.Thresholds()
	now := time.Now()
	batch := alerts.ClassifyBatch(vms, thresholds, now)

	p.view.Update(ctx, batch, thresholds, p.settings.Recipient(), now)

	if p.history != nil {
		for _, vm := range batch {
			if vm.State == alerts.StateOffline {
				continue
			}
			p.history.Record(history.Sample{
				VMID:      vm.ID,
				Timestamp: now,
				CPU:       vm.CPU,
				Memory:    vm.Memory,
				Disk:      vm.Disk,
			})
		}
	}

	if p.hub != nil {
		p.hub.BroadcastState(p.view.Snapshot())
	}

	pollCycles.Inc()
	pollDuration.Observe(time.Since(start).Seconds())
	log.Debug().Dur("duration", time.Since(start)).Int("vms", len(batch)).Msg("Poll cycle completed")
}
