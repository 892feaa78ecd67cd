package domain

import (
	"fmt"

	"example.com/backoffice/services/ledger/models"
)

// RuleViolationError is raised when a state transition breaks a business
// rule. Advanced replay records these without necessarily aborting.
type RuleViolationError struct {
	Rule    string
	EventID string
	Detail  string
}

func (e *RuleViolationError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Detail)
}

// ValidateStateTransition applies the type-specific business rules to a
// (previous state, new state, event) triple. Returns a *RuleViolationError
// on violation.
func ValidateStateTransition(previous, next models.JSONMap, event *models.Event) error {
	switch event.EventType {
	case PaymentInitiated:
		return validatePaymentInitiation(previous, next, event)
	case PaymentCompleted:
		return validatePaymentCompletion(previous, next, event)
	case CommissionCalculated:
		return validateCommissionCalculation(previous, next, event)
	case WalletDebited:
		return validateWalletDebit(previous, next, event)
	}
	return nil
}

func validatePaymentInitiation(previous, next models.JSONMap, event *models.Event) error {
	if status, ok := previous["paymentStatus"].(string); ok && status != "pending" {
		return &RuleViolationError{
			Rule:    "payment_initiation",
			EventID: event.ID,
			Detail:  fmt.Sprintf("payment already %s", status),
		}
	}
	if stateFloat(next, "amount") <= 0 {
		return &RuleViolationError{
			Rule:    "payment_initiation",
			EventID: event.ID,
			Detail:  "payment amount must be positive",
		}
	}
	return nil
}

func validatePaymentCompletion(previous, next models.JSONMap, event *models.Event) error {
	if status, _ := previous["paymentStatus"].(string); status != "initiated" {
		return &RuleViolationError{
			Rule:    "payment_completion",
			EventID: event.ID,
			Detail:  "payment must be initiated before completion",
		}
	}
	if status, _ := next["paymentStatus"].(string); status != "completed" {
		return &RuleViolationError{
			Rule:    "payment_completion",
			EventID: event.ID,
			Detail:  "payment status must move to completed",
		}
	}
	return nil
}

func validateCommissionCalculation(previous, next models.JSONMap, event *models.Event) error {
	if event.AmountValue() < 0 {
		return &RuleViolationError{
			Rule:    "commission_calculation",
			EventID: event.ID,
			Detail:  "commission amount cannot be negative",
		}
	}
	return nil
}

func validateWalletDebit(previous, next models.JSONMap, event *models.Event) error {
	if event.AmountValue() <= 0 {
		return &RuleViolationError{
			Rule:    "wallet_debit",
			EventID: event.ID,
			Detail:  "debit amount must be positive",
		}
	}
	return nil
}
