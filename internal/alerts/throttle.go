package alerts

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Throttle paces outbound notifications per VM. It consults and updates the
// lifecycle store's LastNotified timestamps; acknowledgement itself is the
// caller's concern (acknowledged or offline VMs must never be evaluated here,
// and their pacing state is deliberately left untouched).
type Throttle struct {
	store *LifecycleStore
}

// NewThrottle returns a throttle backed by the given lifecycle store.
func NewThrottle(store *LifecycleStore) *Throttle {
	return &Throttle{store: store}
}

// ShouldNotify decides whether a notification for the VM may fire at now.
//
// The first time a VM is evaluated (no LastNotified on record) it is armed
// silently: the timestamp is recorded but no send is allowed. This prevents a
// notification storm the moment a restart or a fleet-wide threshold change
// makes many VMs critical at once. After that, a send is allowed only once the
// rearm window has fully elapsed.
//
// A true result does not advance the timestamp; the caller must confirm
// delivery with MarkNotified so a failed send is retried on the next cycle
// instead of silently consuming the rearm window.
func (t *Throttle) ShouldNotify(id string, now time.Time, rearm time.Duration) bool {
	last, ok := t.store.LastNotifiedAt(id)
	if !ok {
		t.store.SetLastNotified(id, now)
		log.Debug().Str("vmID", id).Msg("Armed notification pacing for newly critical VM")
		return false
	}
	return now.Sub(last) > rearm
}

// MarkNotified records a successful delivery at now.
func (t *Throttle) MarkNotified(id string, now time.Time) {
	t.store.SetLastNotified(id, now)
}
