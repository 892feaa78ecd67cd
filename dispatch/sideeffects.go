package dispatch

import (
	"context"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/messaging"
	"example.com/backoffice/services/ledger/models"
	"example.com/backoffice/services/ledger/utils"
)

// SideEffectHandler publishes downstream notifications for processed
// financial events. This is the production Handler.
type SideEffectHandler struct {
	publisher messaging.Publisher
}

// NewSideEffectHandler creates the handler over a publisher
func NewSideEffectHandler(publisher messaging.Publisher) *SideEffectHandler {
	return &SideEffectHandler{publisher: publisher}
}

type emission struct {
	topic    string
	envelope messaging.Envelope
}

// Handle fans one event out to its downstream consumers. A completed
// payment triggers commission calculation and updates the booking on top
// of the user notification; refunds reverse the commission the same way.
// Event types without downstream consumers complete without publishing.
func (h *SideEffectHandler) Handle(ctx context.Context, event *models.Event) error {
	var emissions []emission

	switch event.EventType {
	case domain.PaymentCompleted:
		emissions = append(emissions,
			h.emit(event, messaging.TopicCommissionTriggers, "commission.calculate", map[string]interface{}{
				"booking_id": event.BookingID,
			}),
			h.emit(event, messaging.TopicBookingUpdates, "booking.payment_completed", map[string]interface{}{
				"booking_id":     event.BookingID,
				"transaction_id": event.TransactionID,
			}),
			h.emit(event, messaging.TopicFinancialNotifications, "notification.payment_completed", map[string]interface{}{
				"notification":   "payment_confirmation",
				"transaction_id": event.TransactionID,
			}),
		)

	case domain.PaymentFailed:
		failure := map[string]interface{}{"booking_id": event.BookingID}
		if reason, ok := event.EventData["reason"]; ok {
			failure["reason"] = reason
		}
		emissions = append(emissions,
			h.emit(event, messaging.TopicBookingUpdates, "booking.payment_failed", failure),
			h.emit(event, messaging.TopicFinancialNotifications, "notification.payment_failed", mergeData(failure, map[string]interface{}{
				"notification": "payment_failure",
			})),
		)

	case domain.RefundCompleted:
		emissions = append(emissions,
			h.emit(event, messaging.TopicCommissionTriggers, "commission.reverse", map[string]interface{}{
				"booking_id": event.BookingID,
			}),
			h.emit(event, messaging.TopicBookingUpdates, "booking.refund_completed", map[string]interface{}{
				"booking_id":     event.BookingID,
				"transaction_id": event.TransactionID,
			}),
			h.emit(event, messaging.TopicFinancialNotifications, "notification.refund_completed", map[string]interface{}{
				"notification": "refund_confirmation",
			}),
		)

	case domain.WalletCredited, domain.WalletDebited:
		emissions = append(emissions,
			h.emit(event, messaging.TopicFinancialNotifications, "notification.balance_update", map[string]interface{}{
				"notification": "balance_update",
			}),
		)

	case domain.CommissionCalculated:
		emissions = append(emissions,
			h.emit(event, messaging.TopicFinancialNotifications, "notification.commission_calculated", map[string]interface{}{
				"notification": "commission_statement",
				"partner_id":   event.PartnerID,
			}),
		)

	case domain.PayoutCompleted:
		emissions = append(emissions,
			h.emit(event, messaging.TopicFinancialNotifications, "notification.payout_completed", map[string]interface{}{
				"notification": "payout_confirmation",
				"partner_id":   event.PartnerID,
			}),
		)
	}

	for _, e := range emissions {
		if err := h.publisher.Publish(ctx, e.topic, e.envelope); err != nil {
			return err
		}
	}
	return nil
}

// emit builds one outbound envelope. messageType names what the consumer
// receives, not the ledger event that caused it.
func (h *SideEffectHandler) emit(event *models.Event, topic, messageType string, extra map[string]interface{}) emission {
	data := map[string]interface{}{
		"event_id":     event.ID,
		"source_event": event.EventType,
		"user_id":      event.UserID,
		"amount":       utils.RoundAmount(event.AmountValue()),
		"currency":     event.Currency,
	}
	for k, v := range extra {
		data[k] = v
	}

	return emission{
		topic: topic,
		envelope: messaging.Envelope{
			EventType:     messageType,
			AggregateID:   event.AggregateID,
			CorrelationID: event.CorrelationID,
			Data:          data,
		},
	}
}

func mergeData(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
