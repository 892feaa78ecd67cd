package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backoffice/services/ledger/models"
)

func makeEvent(eventType string, version int, amount float64, data models.JSONMap) *models.Event {
	e := &models.Event{
		ID:          "evt-" + eventType,
		AggregateID: "agg-1",
		EventType:   eventType,
		Version:     version,
		EventData:   data,
		Currency:    "EUR",
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(version) * time.Minute),
	}
	if amount != 0 {
		e.Amount = &amount
	}
	return e
}

func TestReducerPaymentFlow(t *testing.T) {
	r := NewReducer()

	state := r.Apply(models.JSONMap{}, makeEvent(PaymentInitiated, 1, 150, models.JSONMap{
		"booking_id": "bk-1",
	}))
	assert.Equal(t, "initiated", state["paymentStatus"])
	assert.Equal(t, 150.0, state["amount"])
	assert.Equal(t, "EUR", state["currency"])
	assert.Equal(t, "bk-1", state["bookingId"])
	assert.Equal(t, float64(1), state["version"])

	state = r.Apply(state, makeEvent(PaymentCompleted, 2, 150, models.JSONMap{
		"transaction_id": "tx-9",
	}))
	assert.Equal(t, "completed", state["paymentStatus"])
	assert.Equal(t, "tx-9", state["transactionId"])
	assert.Equal(t, float64(2), state["version"])
}

func TestReducerDoesNotMutateInput(t *testing.T) {
	r := NewReducer()
	original := models.JSONMap{"balance": 100.0}

	_ = r.Apply(original, makeEvent(WalletCredited, 1, 50, models.JSONMap{}))

	assert.Equal(t, 100.0, original["balance"])
	assert.NotContains(t, original, "version")
}

func TestReducerWalletBalanceAndHolds(t *testing.T) {
	r := NewReducer()

	state := r.Apply(models.JSONMap{}, makeEvent(WalletCredited, 1, 200, models.JSONMap{}))
	assert.Equal(t, 200.0, state["balance"])
	assert.Equal(t, 200.0, state["availableBalance"])

	state = r.Apply(state, makeEvent(WalletHoldCreated, 2, 50, models.JSONMap{}))
	assert.Equal(t, 200.0, state["balance"])
	assert.Equal(t, 50.0, state["heldAmount"])
	assert.Equal(t, 150.0, state["availableBalance"])

	state = r.Apply(state, makeEvent(WalletDebited, 3, 30, models.JSONMap{}))
	assert.Equal(t, 170.0, state["balance"])
	assert.Equal(t, 120.0, state["availableBalance"])

	state = r.Apply(state, makeEvent(WalletHoldReleased, 4, 50, models.JSONMap{}))
	assert.Equal(t, 0.0, state["heldAmount"])
	assert.Equal(t, 170.0, state["availableBalance"])
}

func TestReducerDeterminism(t *testing.T) {
	r := NewReducer()
	events := []*models.Event{
		makeEvent(PaymentInitiated, 1, 99.5, models.JSONMap{"booking_id": "bk-7"}),
		makeEvent(CommissionCalculated, 2, 9.95, models.JSONMap{"rate": 0.1}),
		makeEvent(PaymentCompleted, 3, 99.5, models.JSONMap{"transaction_id": "tx-1"}),
	}

	first := models.JSONMap{}
	second := models.JSONMap{}
	for _, e := range events {
		first = r.Apply(first, e)
	}
	for _, e := range events {
		second = r.Apply(second, e)
	}

	assert.Equal(t, first, second)
}

func TestReducerUnknownEventFallsThrough(t *testing.T) {
	r := NewReducer()
	data := models.JSONMap{"custom": "value"}

	state := r.Apply(models.JSONMap{}, makeEvent("ledger.annotated", 1, 0, data))

	assert.Equal(t, "ledger.annotated", state["lastEventType"])
	assert.Equal(t, data, state["lastEventData"])
}

func TestDecodePayloadKnownType(t *testing.T) {
	payload, err := DecodePayload(PaymentInitiated, map[string]interface{}{
		"booking_id": "bk-1",
		"amount":     12.5,
		"currency":   "EUR",
	})
	require.NoError(t, err)

	p, ok := payload.(PaymentInitiatedPayload)
	require.True(t, ok)
	assert.Equal(t, "bk-1", p.BookingID)
	assert.Equal(t, 12.5, p.Amount)
}

func TestDecodePayloadUnknownType(t *testing.T) {
	payload, err := DecodePayload("ledger.annotated", map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	p, ok := payload.(GenericPayload)
	require.True(t, ok)
	assert.Equal(t, "ledger.annotated", p.EventType())
}

func TestValidateStateTransitionPaymentCompletion(t *testing.T) {
	event := makeEvent(PaymentCompleted, 2, 100, models.JSONMap{"transaction_id": "tx-1"})

	err := ValidateStateTransition(
		models.JSONMap{"paymentStatus": "initiated"},
		models.JSONMap{"paymentStatus": "completed"},
		event,
	)
	assert.NoError(t, err)

	err = ValidateStateTransition(
		models.JSONMap{},
		models.JSONMap{"paymentStatus": "completed"},
		event,
	)
	require.Error(t, err)
	var violation *RuleViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "payment_completion", violation.Rule)
}

func TestValidateStateTransitionWalletDebit(t *testing.T) {
	err := ValidateStateTransition(
		models.JSONMap{"balance": 10.0},
		models.JSONMap{"balance": 10.0},
		makeEvent(WalletDebited, 2, 0, models.JSONMap{}),
	)
	require.Error(t, err)

	var violation *RuleViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "wallet_debit", violation.Rule)
}
