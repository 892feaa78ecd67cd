package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/models"
)

func amount(v float64) *float64 {
	return &v
}

func paymentInput(aggregateID string, eventType string, amt float64) StoreEventInput {
	return StoreEventInput{
		AggregateID:   aggregateID,
		AggregateType: domain.AggregatePayment,
		EventType:     eventType,
		EventData:     map[string]interface{}{"booking_id": "bk-1"},
		UserID:        "user-1",
		Amount:        amount(amt),
		Currency:      "EUR",
	}
}

func TestStoreEventAssignsContiguousVersions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentInitiated, 100))
	require.NoError(t, err)
	second, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentCompleted, 100))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, models.EventStatusPending, first.Status)

	aggregate, err := store.GetAggregateState(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, 2, aggregate.LastEventVersion)
	assert.Equal(t, "completed", aggregate.CurrentState["paymentStatus"])
}

func TestStoreEventExpectedVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentInitiated, 100))
	require.NoError(t, err)

	stale := paymentInput("pay-1", domain.PaymentCompleted, 100)
	expected := 0
	stale.ExpectedVersion = &expected

	_, err = store.StoreEvent(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// The conflict must not have advanced the aggregate.
	aggregate, err := store.GetAggregateState(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, 1, aggregate.LastEventVersion)
}

func TestStoreEventValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	input := paymentInput("pay-1", domain.PaymentInitiated, 100)
	input.Amount = nil

	_, err := store.StoreEvent(ctx, input)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Problems)

	input = paymentInput("pay-1", domain.PaymentInitiated, 100)
	input.Currency = "euro"
	_, err = store.StoreEvent(ctx, input)
	require.ErrorAs(t, err, &verr)
}

func TestStoreEventNotifiesAfterCommit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var got []Notification
	store.AddNotifier(notifierFunc(func(ctx context.Context, n Notification) {
		got = append(got, n)
	}))

	event, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentInitiated, 100))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, event.ID, got[0].Event.ID)
	assert.Equal(t, 1, got[0].Aggregate.LastEventVersion)
}

type notifierFunc func(ctx context.Context, n Notification)

func (f notifierFunc) EventStored(ctx context.Context, n Notification) {
	f(ctx, n)
}

func TestGetEventsForAggregateFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentInitiated, 100))
	require.NoError(t, err)
	_, err = store.StoreEvent(ctx, paymentInput("pay-1", domain.CommissionCalculated, 10))
	require.NoError(t, err)
	_, err = store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentCompleted, 100))
	require.NoError(t, err)

	events, err := store.GetEventsForAggregate(ctx, "pay-1", EventFilter{FromVersion: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Version)

	events, err = store.GetEventsForAggregate(ctx, "pay-1", EventFilter{
		EventTypes: []string{domain.PaymentCompleted},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.PaymentCompleted, events[0].EventType)
}

func TestGetEventsByCriteriaPagination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentInitiated, 100))
		require.NoError(t, err)
	}

	events, total, err := store.GetEventsByCriteria(ctx, Criteria{
		UserID: "user-1",
		Limit:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, events, 2)

	events, total, err = store.GetEventsByCriteria(ctx, Criteria{
		UserID: "user-1",
		Limit:  2,
		Offset: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, events, 1)

	_, total, err = store.GetEventsByCriteria(ctx, Criteria{UserID: "nobody"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGetEventsByCriteriaOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentInitiated, 100))
		require.NoError(t, err)
	}

	newest, _, err := store.GetEventsByCriteria(ctx, Criteria{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, newest, 3)
	assert.False(t, newest[0].CreatedAt.Before(newest[2].CreatedAt))

	oldest, _, err := store.GetEventsByCriteria(ctx, Criteria{UserID: "user-1", OldestFirst: true})
	require.NoError(t, err)
	require.Len(t, oldest, 3)
	assert.False(t, oldest[2].CreatedAt.Before(oldest[0].CreatedAt))
	assert.Equal(t, newest[2].ID, oldest[0].ID)
}

func TestMarkEventProcessedAndFailed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	event, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentInitiated, 100))
	require.NoError(t, err)

	require.NoError(t, store.MarkEventProcessed(ctx, event.ID))
	stored, err := store.GetEventByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)

	require.NoError(t, store.MarkEventFailed(ctx, event.ID, "handler exploded", 3))
	stored, err = store.GetEventByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, stored.Status)
	assert.Equal(t, "handler exploded", stored.ErrorMessage)
	assert.Equal(t, 3, stored.RetryCount)

	assert.ErrorIs(t, store.MarkEventProcessed(ctx, "missing"), ErrEventNotFound)
}

func TestGetStatistics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e1, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentInitiated, 100))
	require.NoError(t, err)
	_, err = store.StoreEvent(ctx, paymentInput("pay-2", domain.PaymentInitiated, 50))
	require.NoError(t, err)
	require.NoError(t, store.MarkEventProcessed(ctx, e1.ID))

	stats, err := store.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.EventsByStatus[models.EventStatusProcessed])
	assert.Equal(t, int64(1), stats.EventsByStatus[models.EventStatusPending])
	assert.Equal(t, int64(2), stats.EventsByType[domain.PaymentInitiated])
	require.NotNil(t, stats.OldestEvent)
	require.NotNil(t, stats.NewestEvent)
}

func TestGetAggregateStateNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetAggregateState(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAggregateNotFound)
}

func TestListAggregateIDsByType(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.StoreEvent(ctx, paymentInput("pay-1", domain.PaymentInitiated, 100))
	require.NoError(t, err)

	wallet := StoreEventInput{
		AggregateID:   "wal-1",
		AggregateType: domain.AggregateWallet,
		EventType:     domain.WalletCredited,
		EventData:     map[string]interface{}{},
		UserID:        "user-1",
		Amount:        amount(25),
		Currency:      "EUR",
	}
	_, err = store.StoreEvent(ctx, wallet)
	require.NoError(t, err)

	ids, err := store.ListAggregateIDs(ctx, domain.AggregateWallet)
	require.NoError(t, err)
	assert.Equal(t, []string{"wal-1"}, ids)

	ids, err = store.ListAggregateIDs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
