package cache

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/eventstore"
)

// KeyDeleter is the slice of the cache the invalidator needs
type KeyDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Invalidator drops cached aggregate state whenever an event is stored,
// so appends from every path (HTTP, bus consumer, audit tracking) keep
// cached reads fresh.
type Invalidator struct {
	cache KeyDeleter
}

// NewInvalidator creates a store notifier over the given cache
func NewInvalidator(cache KeyDeleter) *Invalidator {
	return &Invalidator{cache: cache}
}

// EventStored implements eventstore.Notifier
func (i *Invalidator) EventStored(ctx context.Context, n eventstore.Notification) {
	key := GetAggregateCacheKey(n.Event.AggregateID)
	if err := i.cache.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to invalidate aggregate cache")
	}
}
