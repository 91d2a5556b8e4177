package broadcast

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/internal/mailsync/repository"
)

// Transport delivers one event to all of a user's endpoints on one channel
// (SSE stream, FCM push, ...). Best effort: no acknowledgement expected.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, userID string, event domain.Event) error
}

// Dispatcher fans state-change events out to every registered transport,
// collapsing semantically-identical emissions that land within the dedup
// window. The optimistic action path and the authoritative poller can
// legitimately compute the same resulting state within milliseconds of each
// other; without dedup, clients would see duplicate, flickering updates.
type Dispatcher struct {
	dedup  repository.KVStore
	window time.Duration

	mu         sync.RWMutex
	transports []Transport
}

// NewDispatcher creates a Dispatcher with the given dedup window
func NewDispatcher(dedup repository.KVStore, window time.Duration) *Dispatcher {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &Dispatcher{dedup: dedup, window: window}
}

// Register adds a transport. Safe to call after dispatching has started.
func (d *Dispatcher) Register(t Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transports = append(d.transports, t)
	log.Printf("[Broadcast] registered transport: %s", t.Name())
}

// Emit delivers event to all of userID's connected clients unless an equal
// event was already emitted within the dedup window. One transport's
// failure never blocks another.
func (d *Dispatcher) Emit(ctx context.Context, userID string, event domain.Event) {
	key := fmt.Sprintf("dedup:%s:%s", userID, event.Key())
	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)

	fresh, err := d.dedup.SetNX(ctx, key, stamp, d.window)
	if err != nil {
		// Dedup store down: deliver anyway. A duplicate UI update is
		// preferable to a missing one.
		log.Printf("[Broadcast] dedup store error for user %s: %v", userID, err)
	} else if !fresh {
		return
	}

	d.mu.RLock()
	transports := make([]Transport, len(d.transports))
	copy(transports, d.transports)
	d.mu.RUnlock()

	for _, t := range transports {
		if err := t.Deliver(ctx, userID, event); err != nil {
			log.Printf("[Broadcast] %s delivery failed for user %s: %v", t.Name(), userID, err)
		}
	}
}
