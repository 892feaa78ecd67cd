package domain

// AggregateType constants
const (
	AggregatePayment         = "payment"
	AggregateWallet          = "wallet"
	AggregateCommission      = "commission"
	AggregateRefund          = "refund"
	AggregatePayout          = "payout"
	AggregateTransaction     = "transaction"
	AggregateFinancialReport = "financial_report"
)

// EventType constants
const (
	// Payment events
	PaymentInitiated = "payment.initiated"
	PaymentCompleted = "payment.completed"
	PaymentFailed    = "payment.failed"

	// Wallet events
	WalletCredited     = "wallet.credited"
	WalletDebited      = "wallet.debited"
	WalletHoldCreated  = "wallet.hold_created"
	WalletHoldReleased = "wallet.hold_released"

	// Commission events
	CommissionCalculated = "commission.calculated"
	CommissionReversed   = "commission.reversed"

	// Refund events
	RefundInitiated = "refund.initiated"
	RefundCompleted = "refund.completed"
	RefundFailed    = "refund.failed"

	// Payout events
	PayoutInitiated = "payout.initiated"
	PayoutCompleted = "payout.completed"
)

// AggregateTypes lists all known aggregate types
func AggregateTypes() []string {
	return []string{
		AggregatePayment,
		AggregateWallet,
		AggregateCommission,
		AggregateRefund,
		AggregatePayout,
		AggregateTransaction,
		AggregateFinancialReport,
	}
}

// EventTypes lists all known event types
func EventTypes() []string {
	return []string{
		PaymentInitiated, PaymentCompleted, PaymentFailed,
		WalletCredited, WalletDebited, WalletHoldCreated, WalletHoldReleased,
		CommissionCalculated, CommissionReversed,
		RefundInitiated, RefundCompleted, RefundFailed,
		PayoutInitiated, PayoutCompleted,
	}
}

// IsKnownEventType reports whether the event type has a registered payload
func IsKnownEventType(eventType string) bool {
	for _, t := range EventTypes() {
		if t == eventType {
			return true
		}
	}
	return false
}

// IsMoneyMovement reports whether events of this type move money and
// therefore require amount and currency on append.
func IsMoneyMovement(eventType string) bool {
	switch eventType {
	case PaymentInitiated, PaymentCompleted,
		WalletCredited, WalletDebited, WalletHoldCreated, WalletHoldReleased,
		CommissionCalculated, CommissionReversed,
		RefundInitiated, RefundCompleted,
		PayoutInitiated, PayoutCompleted:
		return true
	}
	return false
}
