package messaging

import (
	"context"
	"sync"
)

// Topics for outbound notifications
const (
	TopicFinancialNotifications = "financial-notifications"
	TopicCommissionTriggers     = "commission-triggers"
	TopicBookingUpdates         = "booking-updates"
	TopicComplianceAlerts       = "compliance-alerts"
	TopicDeadLetterAlerts       = "dead-letter-alerts"
)

// Envelope is the common outbound message structure
type Envelope struct {
	EventType     string                 `json:"eventType"`
	AggregateID   string                 `json:"aggregateId,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Data          map[string]interface{} `json:"data"`
}

// Publisher sends notifications to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, topic string, envelope Envelope) error
	Close(ctx context.Context) error
}

// MemoryPublisher collects published envelopes in memory. Used by tests
// and by deployments without a message bus.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages map[string][]Envelope
}

// NewMemoryPublisher creates an empty in-memory publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{messages: make(map[string][]Envelope)}
}

// Publish records the envelope under its topic
func (p *MemoryPublisher) Publish(ctx context.Context, topic string, envelope Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[topic] = append(p.messages[topic], envelope)
	return nil
}

// Close is a no-op
func (p *MemoryPublisher) Close(ctx context.Context) error {
	return nil
}

// Published returns the envelopes published to a topic
func (p *MemoryPublisher) Published(topic string) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Envelope, len(p.messages[topic]))
	copy(out, p.messages[topic])
	return out
}
