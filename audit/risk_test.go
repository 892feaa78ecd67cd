package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/eventstore"
)

func TestGetUserActionAuditTrail(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()
	amount := 60.0

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
		AggregateID:   "wal-1",
		AggregateType: domain.AggregateWallet,
		EventType:     domain.WalletCredited,
		EventData:     map[string]interface{}{},
		UserID:        "bob",
		Amount:        &amount,
		Currency:      "EUR",
	})
	require.NoError(t, err)

	actions, err := NewService(store).GetUserActionAuditTrail(ctx, "alice", nil, nil)
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, "pay-1", actions[0].AggregateID)
	assert.Equal(t, domain.PaymentInitiated, actions[0].EventType)
	assert.Equal(t, "pending", actions[0].Status)
}

func TestCalculateUserRiskScore(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()
	small := 40.0
	large := 20000.0

	failed := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		event, err := store.StoreEvent(ctx, eventstore.StoreEventInput{
			AggregateID:   "pay-risky",
			AggregateType: domain.AggregatePayment,
			EventType:     domain.PaymentInitiated,
			EventData:     map[string]interface{}{"booking_id": "bk-1"},
			UserID:        "mallory",
			Amount:        &small,
			Currency:      "EUR",
		})
		require.NoError(t, err)
		failed = append(failed, event.ID)
	}
	for _, id := range failed {
		require.NoError(t, store.MarkEventFailed(ctx, id, "declined", 1))
	}

	_, err := store.StoreEvent(ctx, eventstore.StoreEventInput{
		AggregateID:   "pay-risky",
		AggregateType: domain.AggregatePayment,
		EventType:     domain.PaymentInitiated,
		EventData:     map[string]interface{}{"booking_id": "bk-2"},
		UserID:        "mallory",
		Amount:        &large,
		Currency:      "EUR",
	})
	require.NoError(t, err)

	score, err := NewService(store).CalculateUserRiskScore(ctx, "mallory")
	require.NoError(t, err)

	assert.Equal(t, 2, score.FailedEvents)
	assert.Equal(t, 1, score.HighValueEvents)
	assert.False(t, score.BurstDetected)
	assert.Equal(t, 25, score.Score)
	assert.Equal(t, "medium", score.Level)
	assert.Equal(t, 3, score.TotalEvents)
}

func TestCalculateUserRiskScoreQuietUser(t *testing.T) {
	store := eventstore.NewMemoryStore()

	score, err := NewService(store).CalculateUserRiskScore(context.Background(), "nobody")
	require.NoError(t, err)

	assert.Zero(t, score.Score)
	assert.Equal(t, "low", score.Level)
	assert.Zero(t, score.TotalEvents)
}

func TestHasBurst(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var spread []time.Time
	for i := 0; i < 60; i++ {
		spread = append(spread, base.Add(time.Duration(i)*time.Hour))
	}
	assert.False(t, hasBurst(spread, 50, 24*time.Hour))

	var packed []time.Time
	for i := 0; i < 60; i++ {
		packed = append(packed, base.Add(time.Duration(i)*time.Minute))
	}
	assert.True(t, hasBurst(packed, 50, 24*time.Hour))

	assert.False(t, hasBurst(packed[:10], 50, 24*time.Hour))
}

func TestRiskScoreCap(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()
	large := 15000.0

	ids := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		event, err := store.StoreEvent(ctx, eventstore.StoreEventInput{
			AggregateID:   "pay-flood",
			AggregateType: domain.AggregatePayment,
			EventType:     domain.PaymentInitiated,
			EventData:     map[string]interface{}{"booking_id": "bk-1"},
			UserID:        "mallory",
			Amount:        &large,
			Currency:      "EUR",
		})
		require.NoError(t, err)
		ids = append(ids, event.ID)
	}
	for _, id := range ids {
		require.NoError(t, store.MarkEventFailed(ctx, id, "declined", 1))
	}

	score, err := NewService(store).CalculateUserRiskScore(ctx, "mallory")
	require.NoError(t, err)

	// 12 failed (120) + 12 high value (60) caps at 100.
	assert.Equal(t, 100, score.Score)
	assert.Equal(t, "critical", score.Level)
}

func TestSensitiveDataAccessRoundtrip(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()
	service := NewService(store)

	event, err := service.TrackSensitiveDataAccess(ctx, AccessRecord{
		UserID:      "auditor-1",
		Resource:    "payment_details",
		AggregateID: "pay-1",
		Fields:      []string{"card_last4", "holder_name"},
		Purpose:     "chargeback investigation",
	})
	require.NoError(t, err)
	assert.Equal(t, SensitiveAccessEventType, event.EventType)
	assert.Equal(t, "audit:auditor-1", event.AggregateID)

	records, err := service.GetSensitiveAccessLog(ctx, "auditor-1", nil, nil)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "payment_details", records[0].EventData["resource"])
	assert.Equal(t, "chargeback investigation", records[0].EventData["purpose"])

	records, err = service.GetSensitiveAccessLog(ctx, "someone-else", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}
