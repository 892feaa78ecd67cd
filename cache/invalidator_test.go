package cache

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/eventstore"
)

type recordingDeleter struct {
	keys []string
	err  error
}

func (d *recordingDeleter) Delete(ctx context.Context, key string) error {
	d.keys = append(d.keys, key)
	return d.err
}

func TestInvalidatorDropsAggregateKeyOnStore(t *testing.T) {
	store := eventstore.NewMemoryStore()
	deleter := &recordingDeleter{}
	store.AddNotifier(NewInvalidator(deleter))

	amount := 100.0
	_, err := store.StoreEvent(context.Background(), eventstore.StoreEventInput{
		AggregateID:   "pay-1",
		AggregateType: domain.AggregatePayment,
		EventType:     domain.PaymentInitiated,
		EventData:     map[string]interface{}{"booking_id": "bk-1"},
		UserID:        "user-1",
		Amount:        &amount,
		Currency:      "EUR",
	})
	require.NoError(t, err)

	require.Len(t, deleter.keys, 1)
	assert.Equal(t, GetAggregateCacheKey("pay-1"), deleter.keys[0])
}

func TestInvalidatorToleratesDeleteFailure(t *testing.T) {
	store := eventstore.NewMemoryStore()
	deleter := &recordingDeleter{err: errors.New("redis down")}
	store.AddNotifier(NewInvalidator(deleter))

	amount := 25.0
	event, err := store.StoreEvent(context.Background(), eventstore.StoreEventInput{
		AggregateID:   "wal-1",
		AggregateType: domain.AggregateWallet,
		EventType:     domain.WalletCredited,
		EventData:     map[string]interface{}{},
		UserID:        "user-1",
		Amount:        &amount,
		Currency:      "EUR",
	})
	require.NoError(t, err)

	// The append succeeds even when the cache is unreachable.
	assert.Equal(t, 1, event.Version)
	assert.Len(t, deleter.keys, 1)
}
