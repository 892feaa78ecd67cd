package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/eventstore"
)

func storeWithPayment(t *testing.T, aggregateID string, amount float64) eventstore.Store {
	t.Helper()
	store := eventstore.NewMemoryStore()
	ctx := context.Background()

	_, err := store.StoreEvent(ctx, eventstore.StoreEventInput{
		AggregateID:   aggregateID,
		AggregateType: domain.AggregatePayment,
		EventType:     domain.PaymentInitiated,
		EventData:     map[string]interface{}{"booking_id": "bk-1"},
		UserID:        "alice",
		Amount:        &amount,
		Currency:      "EUR",
	})
	require.NoError(t, err)

	_, err = store.StoreEvent(ctx, eventstore.StoreEventInput{
		AggregateID:   aggregateID,
		AggregateType: domain.AggregatePayment,
		EventType:     domain.PaymentCompleted,
		EventData:     map[string]interface{}{"transaction_id": "tx-1"},
		UserID:        "bob",
		Amount:        &amount,
		Currency:      "EUR",
	})
	require.NoError(t, err)

	return store
}

func storeWithFailedPayment(t *testing.T) eventstore.Store {
	t.Helper()
	store := eventstore.NewMemoryStore()
	ctx := context.Background()
	amount := 90.0

	_, err := store.StoreEvent(ctx, eventstore.StoreEventInput{
		AggregateID:   "pay-1",
		AggregateType: domain.AggregatePayment,
		EventType:     domain.PaymentInitiated,
		EventData:     map[string]interface{}{"booking_id": "bk-1"},
		UserID:        "alice",
		Amount:        &amount,
		Currency:      "EUR",
	})
	require.NoError(t, err)
	_, err = store.StoreEvent(ctx, eventstore.StoreEventInput{
		AggregateID:   "pay-1",
		AggregateType: domain.AggregatePayment,
		EventType:     domain.PaymentFailed,
		EventData:     map[string]interface{}{"reason": "card declined"},
	})
	require.NoError(t, err)

	return store
}

func TestGetAuditTrail(t *testing.T) {
	store := storeWithPayment(t, "pay-1", 150)
	service := NewService(store)

	trail, err := service.GetAuditTrail(context.Background(), "pay-1", TrailFilter{})
	require.NoError(t, err)

	require.Len(t, trail, 2)
	assert.Equal(t, domain.PaymentInitiated, trail[0].EventType)
	assert.Equal(t, 1, trail[0].Version)
	assert.Equal(t, "alice", trail[0].UserID)
	assert.Equal(t, domain.PaymentCompleted, trail[1].EventType)
	assert.Equal(t, 2, trail[1].Version)
}

func TestGetAuditTrailUnknownAggregate(t *testing.T) {
	service := NewService(eventstore.NewMemoryStore())

	_, err := service.GetAuditTrail(context.Background(), "missing", TrailFilter{})
	assert.ErrorIs(t, err, eventstore.ErrAggregateNotFound)
}

func TestGetAuditTrailFilterByActor(t *testing.T) {
	store := storeWithPayment(t, "pay-1", 150)
	service := NewService(store)

	trail, err := service.GetAuditTrail(context.Background(), "pay-1", TrailFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.PaymentInitiated, trail[0].EventType)
}

func TestGetAuditTrailFilterByEventType(t *testing.T) {
	store := storeWithPayment(t, "pay-1", 150)
	service := NewService(store)

	trail, err := service.GetAuditTrail(context.Background(), "pay-1", TrailFilter{
		EventTypes: []string{domain.PaymentCompleted},
	})
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.PaymentCompleted, trail[0].EventType)
}

func TestGetAuditTrailFilterEmptyForKnownAggregate(t *testing.T) {
	store := storeWithPayment(t, "pay-1", 150)
	service := NewService(store)

	trail, err := service.GetAuditTrail(context.Background(), "pay-1", TrailFilter{
		EventTypes: []string{domain.WalletCredited},
	})
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestGetEnhancedAuditTrailChangedFields(t *testing.T) {
	store := storeWithPayment(t, "pay-1", 150)
	service := NewService(store)

	trail, err := service.GetEnhancedAuditTrail(context.Background(), "pay-1", TrailFilter{})
	require.NoError(t, err)
	require.Len(t, trail.Entries, 2)

	first := trail.Entries[0]
	fields := make([]string, len(first.ChangedFields))
	for i, c := range first.ChangedFields {
		fields[i] = c.Field
		assert.Equal(t, ChangeCreate, c.Change)
	}
	assert.Equal(t, []string{"amount", "bookingId", "currency", "paymentStatus"}, fields)
	assert.Equal(t, ImpactModerate, first.Impact)
	assert.Equal(t, "info", first.Severity)
	assert.Contains(t, first.Tags, "money-movement")
	assert.Equal(t, "user", first.Source)

	second := trail.Entries[1]
	var statusChange *FieldChange
	for i := range second.ChangedFields {
		if second.ChangedFields[i].Field == "paymentStatus" {
			statusChange = &second.ChangedFields[i]
		}
	}
	require.NotNil(t, statusChange)
	assert.Equal(t, ChangeUpdate, statusChange.Change)
	assert.Equal(t, "initiated", statusChange.Previous)
	assert.Equal(t, "completed", statusChange.Current)
}

func TestGetEnhancedAuditTrailHighValueImpact(t *testing.T) {
	store := storeWithPayment(t, "pay-big", 25000)
	service := NewService(store)

	trail, err := service.GetEnhancedAuditTrail(context.Background(), "pay-big", TrailFilter{})
	require.NoError(t, err)

	assert.Equal(t, ImpactMajor, trail.Entries[0].Impact)
	assert.Contains(t, trail.Entries[0].Tags, "high-value")
}

func TestGetEnhancedAuditTrailFailureImpact(t *testing.T) {
	store := storeWithFailedPayment(t)

	trail, err := NewService(store).GetEnhancedAuditTrail(context.Background(), "pay-1", TrailFilter{})
	require.NoError(t, err)

	last := trail.Entries[len(trail.Entries)-1]
	assert.Equal(t, ImpactCritical, last.Impact)
	assert.Equal(t, "error", last.Severity)
	assert.Contains(t, last.Tags, "failure")
	assert.Equal(t, "system", last.Source)
}

func TestGetEnhancedAuditTrailSeverityFilter(t *testing.T) {
	store := storeWithFailedPayment(t)

	trail, err := NewService(store).GetEnhancedAuditTrail(context.Background(), "pay-1", TrailFilter{
		Severity: "error",
	})
	require.NoError(t, err)
	require.Len(t, trail.Entries, 1)
	assert.Equal(t, domain.PaymentFailed, trail.Entries[0].EventType)

	// Deltas still come from the full history even when entries are filtered.
	var statusChange *FieldChange
	for i := range trail.Entries[0].ChangedFields {
		if trail.Entries[0].ChangedFields[i].Field == "paymentStatus" {
			statusChange = &trail.Entries[0].ChangedFields[i]
		}
	}
	require.NotNil(t, statusChange)
	assert.Equal(t, "initiated", statusChange.Previous)
}

func TestGetEnhancedAuditTrailSummary(t *testing.T) {
	store := storeWithPayment(t, "pay-1", 150)

	trail, err := NewService(store).GetEnhancedAuditTrail(context.Background(), "pay-1", TrailFilter{})
	require.NoError(t, err)

	summary := trail.Summary
	assert.Equal(t, 2, summary.TotalEvents)
	assert.Equal(t, 1, summary.ByType[domain.PaymentInitiated])
	assert.Equal(t, 1, summary.ByType[domain.PaymentCompleted])
	assert.Equal(t, 2, summary.BySeverity["info"])
	assert.Equal(t, 2, summary.UniqueActors)
	require.Len(t, summary.TopActors, 2)
	assert.Equal(t, "alice", summary.TopActors[0].UserID)
	assert.Zero(t, summary.Failures)
	require.NotNil(t, summary.FirstEvent)
	require.NotNil(t, summary.LastEvent)
	assert.False(t, summary.LastEvent.Before(*summary.FirstEvent))
}

func TestGetEnhancedAuditTrailSummaryFailures(t *testing.T) {
	store := storeWithFailedPayment(t)

	trail, err := NewService(store).GetEnhancedAuditTrail(context.Background(), "pay-1", TrailFilter{})
	require.NoError(t, err)

	assert.Equal(t, 1, trail.Summary.Failures)
	assert.Equal(t, []string{"card declined"}, trail.Summary.FailureReasons)
	assert.Equal(t, 1, trail.Summary.BySeverity["error"])
}
