package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/messaging"
	"example.com/backoffice/services/ledger/models"
)

// Handler processes the side effects of one stored event
type Handler interface {
	Handle(ctx context.Context, event *models.Event) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, event *models.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event *models.Event) error {
	return f(ctx, event)
}

// Config tunes the dispatcher
type Config struct {
	Workers          int
	QueueSize        int
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	BreakerThreshold int
	BreakerCoolDown  time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		QueueSize:        1024,
		MaxAttempts:      3,
		BaseBackoff:      time.Second,
		MaxBackoff:       30 * time.Second,
		BreakerThreshold: 5,
		BreakerCoolDown:  60 * time.Second,
	}
}

// Dispatcher consumes stored-event notifications and runs their side
// effects with retry, circuit breaking and a dead letter queue. It
// implements eventstore.Notifier.
type Dispatcher struct {
	store    eventstore.Store
	handler  Handler
	config   Config
	breakers *BreakerRegistry
	dlq      *DeadLetterQueue
	metrics  *Metrics
	alerts   messaging.Publisher

	queue chan eventstore.Notification
	wg    sync.WaitGroup
	stop  chan struct{}
	once  sync.Once

	// sleep is swapped out in tests
	sleep func(time.Duration)
}

// NewDispatcher creates a dispatcher over the given store and handler
func NewDispatcher(store eventstore.Store, handler Handler, config Config) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	return &Dispatcher{
		store:    store,
		handler:  handler,
		config:   config,
		breakers: NewBreakerRegistry(config.BreakerThreshold, config.BreakerCoolDown),
		dlq:      NewDeadLetterQueue(),
		metrics:  NewMetrics(),
		queue:    make(chan eventstore.Notification, config.QueueSize),
		stop:     make(chan struct{}),
		sleep:    time.Sleep,
	}
}

// SetAlertPublisher makes every dead-lettered event also publish an
// operator alert. Optional; without it dead letters are API-only.
func (d *Dispatcher) SetAlertPublisher(p messaging.Publisher) {
	d.alerts = p
}

// DeadLetters exposes the dead letter queue
func (d *Dispatcher) DeadLetters() *DeadLetterQueue {
	return d.dlq
}

// Metrics exposes the dispatcher counters
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// BreakerStates snapshots the circuit breakers
func (d *Dispatcher) BreakerStates() map[string]BreakerState {
	return d.breakers.States()
}

// EventStored enqueues a stored event for processing. The queue is
// bounded; overflow dead-letters the event rather than blocking the
// write path.
func (d *Dispatcher) EventStored(ctx context.Context, n eventstore.Notification) {
	select {
	case d.queue <- n:
	default:
		log.Error().
			Str("eventID", n.Event.ID).
			Str("eventType", n.Event.EventType).
			Msg("Dispatch queue full, dead-lettering event")
		entry := d.dlq.Add(n.Event, "dispatch queue overflow", 0, false)
		d.metrics.RecordDeadLetter()
		d.alertDeadLetter(ctx, entry)
	}
}

// Start launches the worker pool
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-d.stop:
					return
				case n := <-d.queue:
					d.Process(ctx, n.Event)
				}
			}
		}()
	}

	log.Info().Int("workers", d.config.Workers).Msg("Dispatcher started")
}

// Stop halts the workers after in-flight events finish
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// Process runs one event's side effects through validation, the circuit
// breaker and the retry loop. Terminal failures land in the dead letter
// queue.
func (d *Dispatcher) Process(ctx context.Context, event *models.Event) {
	start := time.Now()

	if err := validateForProcessing(event); err != nil {
		d.failTerminally(ctx, event, err, 1, true)
		return
	}

	if !d.breakers.Allow(event.EventType) {
		log.Warn().
			Str("eventID", event.ID).
			Str("eventType", event.EventType).
			Msg("Circuit breaker open, dead-lettering event")
		entry := d.dlq.Add(event, "circuit breaker open", 0, false)
		d.metrics.RecordDeadLetter()
		d.alertDeadLetter(ctx, entry)
		return
	}

	var err error
	attempts := 0
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		attempts = attempt
		err = d.handler.Handle(ctx, event)
		if err == nil {
			d.breakers.Success(event.EventType)
			if markErr := d.store.MarkEventProcessed(ctx, event.ID); markErr != nil {
				log.Error().Err(markErr).Str("eventID", event.ID).Msg("Failed to mark event processed")
			}
			d.metrics.RecordSuccess(event.EventType, time.Since(start))
			return
		}

		if !IsRetryable(err) {
			d.breakers.Failure(event.EventType)
			d.failTerminally(ctx, event, err, 1, isValidation(err))
			return
		}

		d.metrics.RecordRetry()
		if attempt < d.config.MaxAttempts {
			d.sleep(d.backoff(attempt))
		}
	}

	d.breakers.Failure(event.EventType)
	d.failTerminally(ctx, event, err, attempts, false)
}

// backoff returns the exponential delay after the given attempt
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.config.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.config.MaxBackoff {
			return d.config.MaxBackoff
		}
	}
	if delay > d.config.MaxBackoff {
		delay = d.config.MaxBackoff
	}
	return delay
}

func (d *Dispatcher) failTerminally(ctx context.Context, event *models.Event, err error, attempts int, validation bool) {
	log.Error().
		Err(err).
		Str("eventID", event.ID).
		Str("eventType", event.EventType).
		Int("attempts", attempts).
		Msg("Event processing failed terminally")

	if markErr := d.store.MarkEventFailed(ctx, event.ID, err.Error(), attempts); markErr != nil {
		log.Error().Err(markErr).Str("eventID", event.ID).Msg("Failed to mark event failed")
	}

	entry := d.dlq.Add(event, err.Error(), attempts, validation)
	d.metrics.RecordFailure(event.EventType)
	d.metrics.RecordDeadLetter()
	d.alertDeadLetter(ctx, entry)
}

// alertDeadLetter publishes an operator alert for a dead-lettered event
func (d *Dispatcher) alertDeadLetter(ctx context.Context, entry *DeadLetterEntry) {
	if d.alerts == nil {
		return
	}

	err := d.alerts.Publish(ctx, messaging.TopicDeadLetterAlerts, messaging.Envelope{
		EventType:     entry.Event.EventType,
		AggregateID:   entry.Event.AggregateID,
		CorrelationID: entry.Event.CorrelationID,
		Data: map[string]interface{}{
			"event_id": entry.Event.ID,
			"priority": string(entry.Priority),
			"reason":   entry.Reason,
			"attempts": entry.Attempts,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("eventID", entry.Event.ID).Msg("Failed to publish dead letter alert")
	}
}

// RetryDeadLetter reruns one dead-lettered event's side effects. Success
// removes the entry and marks the event processed.
func (d *Dispatcher) RetryDeadLetter(ctx context.Context, eventID string) error {
	entry, ok := d.dlq.Get(eventID)
	if !ok {
		return fmt.Errorf("no dead letter entry for event %s", eventID)
	}

	if err := d.handler.Handle(ctx, entry.Event); err != nil {
		d.dlq.Add(entry.Event, err.Error(), 1, isValidation(err))
		return err
	}

	d.dlq.Remove(eventID)
	d.breakers.Success(entry.Event.EventType)
	if err := d.store.MarkEventProcessed(ctx, eventID); err != nil {
		return err
	}

	log.Info().Str("eventID", eventID).Msg("Dead letter retry succeeded")
	return nil
}

// validateForProcessing enforces the per-type context required by side
// effects. Store-level validation has already run; these checks cover
// what downstream consumers need.
func validateForProcessing(event *models.Event) error {
	switch {
	case strings.HasPrefix(event.EventType, "wallet."):
		if event.UserID == "" {
			return NonRetryable(&validationError{msg: fmt.Sprintf("%s requires a user id", event.EventType)})
		}
	case strings.HasPrefix(event.EventType, "commission."):
		if event.PartnerID == "" {
			return NonRetryable(&validationError{msg: fmt.Sprintf("%s requires a partner id", event.EventType)})
		}
	case strings.HasPrefix(event.EventType, "payment."):
		if event.EventType != "payment.failed" && (event.Amount == nil || event.Currency == "") {
			return NonRetryable(&validationError{msg: fmt.Sprintf("%s requires amount and currency", event.EventType)})
		}
	}
	return nil
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

func isValidation(err error) bool {
	var verr *validationError
	return errors.As(err, &verr)
}
