package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the closed union of per-event-type payload structs. Every
// known event type maps to exactly one payload struct so that the reducer
// and the dispatcher can switch exhaustively over payloads instead of
// poking at loose maps.
type Payload interface {
	EventType() string
}

// PaymentInitiatedPayload is emitted when a payment starts
type PaymentInitiatedPayload struct {
	BookingID string  `json:"booking_id,omitempty"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Method    string  `json:"method,omitempty"`
}

// PaymentCompletedPayload is emitted when a payment settles
type PaymentCompletedPayload struct {
	TransactionID string `json:"transaction_id"`
}

// PaymentFailedPayload records why a payment failed
type PaymentFailedPayload struct {
	Reason    string `json:"reason"`
	ErrorCode string `json:"error_code,omitempty"`
}

// WalletCreditedPayload records the origin of a wallet credit
type WalletCreditedPayload struct {
	Source string `json:"source,omitempty"`
}

// WalletDebitedPayload records the purpose of a wallet debit
type WalletDebitedPayload struct {
	Purpose string `json:"purpose,omitempty"`
}

// WalletHoldCreatedPayload places a hold on wallet funds
type WalletHoldCreatedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// WalletHoldReleasedPayload releases a previously created hold
type WalletHoldReleasedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// CommissionCalculatedPayload carries the commission rate applied
type CommissionCalculatedPayload struct {
	Rate      float64 `json:"rate"`
	BookingID string  `json:"booking_id,omitempty"`
}

// CommissionReversedPayload reverses a prior commission
type CommissionReversedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// RefundInitiatedPayload starts a refund against a payment
type RefundInitiatedPayload struct {
	PaymentID string `json:"payment_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// RefundCompletedPayload is emitted when a refund settles
type RefundCompletedPayload struct {
	TransactionID string `json:"transaction_id,omitempty"`
}

// RefundFailedPayload records why a refund failed
type RefundFailedPayload struct {
	Reason string `json:"reason"`
}

// PayoutInitiatedPayload starts a partner payout
type PayoutInitiatedPayload struct {
	Method string `json:"method,omitempty"`
}

// PayoutCompletedPayload is emitted when a payout settles
type PayoutCompletedPayload struct {
	Reference string `json:"reference,omitempty"`
}

// GenericPayload is the fallthrough for event types without a registered
// payload struct; the raw data is kept as-is.
type GenericPayload struct {
	Type string
	Data map[string]interface{}
}

func (PaymentInitiatedPayload) EventType() string     { return PaymentInitiated }
func (PaymentCompletedPayload) EventType() string     { return PaymentCompleted }
func (PaymentFailedPayload) EventType() string        { return PaymentFailed }
func (WalletCreditedPayload) EventType() string       { return WalletCredited }
func (WalletDebitedPayload) EventType() string        { return WalletDebited }
func (WalletHoldCreatedPayload) EventType() string    { return WalletHoldCreated }
func (WalletHoldReleasedPayload) EventType() string   { return WalletHoldReleased }
func (CommissionCalculatedPayload) EventType() string { return CommissionCalculated }
func (CommissionReversedPayload) EventType() string   { return CommissionReversed }
func (RefundInitiatedPayload) EventType() string      { return RefundInitiated }
func (RefundCompletedPayload) EventType() string      { return RefundCompleted }
func (RefundFailedPayload) EventType() string         { return RefundFailed }
func (PayoutInitiatedPayload) EventType() string      { return PayoutInitiated }
func (PayoutCompletedPayload) EventType() string      { return PayoutCompleted }
func (p GenericPayload) EventType() string            { return p.Type }

// DecodePayload decodes raw event data into the payload struct for the
// given event type. Unknown event types decode into GenericPayload.
func DecodePayload(eventType string, data map[string]interface{}) (Payload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	decode := func(target interface{}) error {
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", eventType, err)
		}
		return nil
	}

	switch eventType {
	case PaymentInitiated:
		var p PaymentInitiatedPayload
		return p, decode(&p)
	case PaymentCompleted:
		var p PaymentCompletedPayload
		return p, decode(&p)
	case PaymentFailed:
		var p PaymentFailedPayload
		return p, decode(&p)
	case WalletCredited:
		var p WalletCreditedPayload
		return p, decode(&p)
	case WalletDebited:
		var p WalletDebitedPayload
		return p, decode(&p)
	case WalletHoldCreated:
		var p WalletHoldCreatedPayload
		return p, decode(&p)
	case WalletHoldReleased:
		var p WalletHoldReleasedPayload
		return p, decode(&p)
	case CommissionCalculated:
		var p CommissionCalculatedPayload
		return p, decode(&p)
	case CommissionReversed:
		var p CommissionReversedPayload
		return p, decode(&p)
	case RefundInitiated:
		var p RefundInitiatedPayload
		return p, decode(&p)
	case RefundCompleted:
		var p RefundCompletedPayload
		return p, decode(&p)
	case RefundFailed:
		var p RefundFailedPayload
		return p, decode(&p)
	case PayoutInitiated:
		var p PayoutInitiatedPayload
		return p, decode(&p)
	case PayoutCompleted:
		var p PayoutCompletedPayload
		return p, decode(&p)
	default:
		return GenericPayload{Type: eventType, Data: data}, nil
	}
}
