package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"
)

// AzureClient wraps a service bus connection for both publishing
// notifications and consuming inbound event commands.
type AzureClient struct {
	client *azservicebus.Client

	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewAzureClient connects to the service bus
func NewAzureClient(connectionString string) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, err
	}

	return &AzureClient{
		client:  client,
		senders: make(map[string]*azservicebus.Sender),
	}, nil
}

// Publish sends an envelope to a topic, caching senders per topic
func (a *AzureClient) Publish(ctx context.Context, topic string, envelope Envelope) error {
	sender, err := a.senderFor(topic)
	if err != nil {
		return err
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	return sender.SendMessage(ctx, &azservicebus.Message{
		Body:          body,
		CorrelationID: optional(envelope.CorrelationID),
		Subject:       optional(envelope.EventType),
	}, nil)
}

func (a *AzureClient) senderFor(topic string) (*azservicebus.Sender, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sender, ok := a.senders[topic]; ok {
		return sender, nil
	}
	sender, err := a.client.NewSender(topic, nil)
	if err != nil {
		return nil, err
	}
	a.senders[topic] = sender
	return sender, nil
}

// Close closes all senders and the underlying connection
func (a *AzureClient) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for topic, sender := range a.senders {
		if err := sender.Close(ctx); err != nil {
			log.Error().Err(err).Msgf("Error closing sender for topic %s", topic)
		}
	}
	return a.client.Close(ctx)
}

// StartConsumers receives inbound event commands from a session queue
// and hands them to the processor.
func (a *AzureClient) StartConsumers(queueName string, processor MessageProcessor) error {
	log.Info().Msgf("Starting consumers for queue %s", queueName)

	// Loop continuously to handle reconnections
	for {
		sessionReceiver, err := a.client.AcceptNextSessionForQueue(context.TODO(), queueName, nil)
		if err != nil {
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Info().Msg("No session available, waiting...")
				time.Sleep(2 * time.Second)
				continue
			}
			return err
		}

		log.Info().Msgf("Session '%s' received", sessionReceiver.SessionID())

		go a.handleSession(sessionReceiver, processor)
	}
}

func (a *AzureClient) handleSession(receiver *azservicebus.SessionReceiver, processor MessageProcessor) {
	defer func() {
		log.Info().Msgf("Closing session '%s'", receiver.SessionID())
		err := receiver.Close(context.TODO())
		if err != nil {
			log.Error().Err(err).Msgf("Error closing session '%s'", receiver.SessionID())
		}
	}()

	// Process messages in batches
	for {
		messages, err := receiver.ReceiveMessages(context.TODO(), 10, nil)

		if err != nil {
			log.Error().Err(err).Msgf("Error receiving messages from session '%s'", receiver.SessionID())
			return
		}

		if len(messages) == 0 {
			// No more messages in this session
			return
		}

		log.Info().Msgf("Received %d messages from session '%s'", len(messages), receiver.SessionID())

		for _, message := range messages {
			err := processor.ProcessMessage(context.Background(), message)
			if err != nil {
				log.Error().Err(err).Msgf("Error processing message '%s'", message.MessageID)
				// Return the message to the queue
				err = receiver.AbandonMessage(context.Background(), message, nil)
				if err != nil {
					log.Error().Err(err).Msgf("(AbandonMessage) err: %v", err)
				}
				continue
			}

			err = receiver.CompleteMessage(context.Background(), message, nil)
			if err != nil {
				log.Error().Err(err).Msgf("(CompleteMessage) err: %v", err)
			}
		}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
