package domain

import (
	"time"

	"example.com/backoffice/services/ledger/models"
)

// Reducer folds events into aggregate state. It is a total, pure function:
// no I/O, deterministic for a given (state, event) pair. Replay correctness
// depends on it.
type Reducer struct{}

// NewReducer creates a reducer
func NewReducer() *Reducer {
	return &Reducer{}
}

// Apply returns the state that results from applying the event to the
// current state. The input state is never mutated.
func (r *Reducer) Apply(state models.JSONMap, event *models.Event) models.JSONMap {
	newState := state.Copy()
	if newState == nil {
		newState = models.JSONMap{}
	}

	payload, err := DecodePayload(event.EventType, event.EventData)
	if err != nil {
		// A payload that no longer decodes still advances the aggregate;
		// it is recorded through the generic branch.
		payload = GenericPayload{Type: event.EventType, Data: event.EventData}
	}

	switch p := payload.(type) {
	case PaymentInitiatedPayload:
		newState["paymentStatus"] = "initiated"
		newState["amount"] = event.AmountValue()
		newState["currency"] = event.Currency
		if p.BookingID != "" {
			newState["bookingId"] = p.BookingID
		}

	case PaymentCompletedPayload:
		newState["paymentStatus"] = "completed"
		newState["completedAt"] = stateTime(event.CreatedAt)
		if p.TransactionID != "" {
			newState["transactionId"] = p.TransactionID
		}

	case PaymentFailedPayload:
		newState["paymentStatus"] = "failed"
		newState["failureReason"] = p.Reason

	case WalletCreditedPayload:
		newState["balance"] = stateFloat(newState, "balance") + event.AmountValue()
		newState["lastCreditedAt"] = stateTime(event.CreatedAt)
		newState["availableBalance"] = stateFloat(newState, "balance") - stateFloat(newState, "heldAmount")

	case WalletDebitedPayload:
		newState["balance"] = stateFloat(newState, "balance") - event.AmountValue()
		newState["lastDebitedAt"] = stateTime(event.CreatedAt)
		newState["availableBalance"] = stateFloat(newState, "balance") - stateFloat(newState, "heldAmount")

	case WalletHoldCreatedPayload:
		newState["heldAmount"] = stateFloat(newState, "heldAmount") + event.AmountValue()
		newState["availableBalance"] = stateFloat(newState, "balance") - stateFloat(newState, "heldAmount")

	case WalletHoldReleasedPayload:
		newState["heldAmount"] = stateFloat(newState, "heldAmount") - event.AmountValue()
		newState["availableBalance"] = stateFloat(newState, "balance") - stateFloat(newState, "heldAmount")

	case CommissionCalculatedPayload:
		newState["commissionAmount"] = event.AmountValue()
		newState["commissionRate"] = p.Rate
		newState["commissionCalculatedAt"] = stateTime(event.CreatedAt)

	case CommissionReversedPayload:
		newState["commissionAmount"] = float64(0)
		newState["commissionReversed"] = true
		newState["commissionReversedAt"] = stateTime(event.CreatedAt)

	case RefundInitiatedPayload:
		newState["refundStatus"] = "initiated"
		newState["refundAmount"] = event.AmountValue()
		if p.PaymentID != "" {
			newState["refundPaymentId"] = p.PaymentID
		}

	case RefundCompletedPayload:
		newState["refundStatus"] = "completed"
		newState["refundCompletedAt"] = stateTime(event.CreatedAt)

	case RefundFailedPayload:
		newState["refundStatus"] = "failed"
		newState["refundFailureReason"] = p.Reason

	case PayoutInitiatedPayload:
		newState["payoutStatus"] = "initiated"
		newState["payoutAmount"] = event.AmountValue()

	case PayoutCompletedPayload:
		newState["payoutStatus"] = "completed"
		newState["payoutCompletedAt"] = stateTime(event.CreatedAt)

	default:
		// Unrecognized types fall through to a generic last-event record.
		newState["lastEventType"] = event.EventType
		newState["lastEventData"] = event.EventData
	}

	newState["lastUpdated"] = stateTime(event.CreatedAt)
	newState["version"] = float64(event.Version)

	return newState
}

// stateTime renders timestamps as strings so that stored state and
// JSON-roundtripped replayed state compare equal.
func stateTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// stateFloat reads a numeric state key, tolerating JSON roundtrips
func stateFloat(state models.JSONMap, key string) float64 {
	switch v := state[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
