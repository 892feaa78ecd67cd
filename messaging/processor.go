package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/eventstore"
)

// Inbound message commands
const (
	CommandStoreEvent = "StoreFinancialEvent"
)

// BusMessage is the common inbound message structure
type BusMessage struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// Processor turns inbound bus messages into event-store appends
type Processor struct {
	store eventstore.Store
}

func NewProcessor(store eventstore.Store) *Processor {
	return &Processor{store: store}
}

func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var msg BusMessage
	if err := json.Unmarshal(message.Body, &msg); err != nil {
		return fmt.Errorf("error unmarshalling message: %w", err)
	}

	log.Info().Str("eventType", msg.EventType).Msg("Processing message")

	switch msg.EventType {
	case CommandStoreEvent:
		var input eventstore.StoreEventInput
		if err := json.Unmarshal(msg.Data, &input); err != nil {
			return err
		}
		_, err := p.store.StoreEvent(ctx, input)
		return err

	default:
		// Bare event payloads arrive without the command wrapper from
		// legacy producers.
		return p.handleBareEvent(ctx, message)
	}
}

func (p *Processor) handleBareEvent(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var input eventstore.StoreEventInput
	if err := json.Unmarshal(message.Body, &input); err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}
	if input.EventType == "" || input.AggregateID == "" {
		return fmt.Errorf("unsupported message shape")
	}

	_, err := p.store.StoreEvent(ctx, input)
	return err
}
