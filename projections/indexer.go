package projections

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/config"
	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/models"
)

// Indexer mirrors processed events into Elasticsearch so audit and
// compliance searches run off the search cluster, not the ledger
// database. Documents are keyed by event id, so reindexing is idempotent.
type Indexer struct {
	store     eventstore.Store
	client    *elasticsearch.Client
	index     string
	batchSize int
	interval  time.Duration
	cursor    time.Time
	running   bool
	mutex     sync.Mutex
	stopChan  chan struct{}
}

// NewIndexer creates an event indexer
func NewIndexer(store eventstore.Store, client *elasticsearch.Client, cfg config.Config) *Indexer {
	return &Indexer{
		store:     store,
		client:    client,
		index:     FormatIndex("financial-events", cfg),
		batchSize: 100,
		interval:  5 * time.Second,
		stopChan:  make(chan struct{}),
	}
}

// Start starts the indexing loop
func (p *Indexer) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return
	}

	p.running = true
	go p.indexEvents()
}

// Stop stops the indexing loop
func (p *Indexer) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.running {
		return
	}

	p.running = false
	p.stopChan <- struct{}{}
}

// indexEvents indexes batches in a loop
func (p *Indexer) indexEvents() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.indexBatch(); err != nil {
				log.Error().Err(err).Msg("Failed to index event batch")
			}
		case <-p.stopChan:
			return
		}
	}
}

// indexBatch indexes processed events created since the cursor. The
// cursor overlaps one interval to absorb clock skew; document ids keep
// the overlap idempotent.
func (p *Indexer) indexBatch() error {
	ctx := context.Background()

	var from *time.Time
	if !p.cursor.IsZero() {
		f := p.cursor.Add(-p.interval)
		from = &f
	}

	events, err := p.collectSince(ctx, from)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	log.Info().Msgf("Indexing %d events", len(events))

	for i := range events {
		if err := p.indexEvent(ctx, &events[i]); err != nil {
			log.Error().Err(err).Str("event_id", events[i].ID).Msg("Failed to index event")
			continue
		}
		if events[i].CreatedAt.After(p.cursor) {
			p.cursor = events[i].CreatedAt
		}
	}

	return nil
}

// collectSince returns processed events created at or after the window
// start, oldest first, paging through the store until a short page so a
// busy interval never drops events past the batch size.
func (p *Indexer) collectSince(ctx context.Context, from *time.Time) ([]models.Event, error) {
	var out []models.Event
	offset := 0
	for {
		events, _, err := p.store.GetEventsByCriteria(ctx, eventstore.Criteria{
			Status:      models.EventStatusProcessed,
			FromDate:    from,
			OldestFirst: true,
			Limit:       p.batchSize,
			Offset:      offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
		if len(events) < p.batchSize {
			return out, nil
		}
		offset += len(events)
	}
}

// indexEvent writes one event document
func (p *Indexer) indexEvent(ctx context.Context, event *models.Event) error {
	doc, err := json.Marshal(map[string]interface{}{
		"aggregate_id":   event.AggregateID,
		"aggregate_type": event.AggregateType,
		"event_type":     event.EventType,
		"version":        event.Version,
		"schema_version": event.SchemaVersion,
		"event_data":     map[string]interface{}(event.EventData),
		"user_id":        event.UserID,
		"partner_id":     event.PartnerID,
		"amount":         event.Amount,
		"currency":       event.Currency,
		"correlation_id": event.CorrelationID,
		"status":         event.Status,
		"created_at":     event.CreatedAt,
	})
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      p.index,
		DocumentID: event.ID,
		Body:       bytes.NewReader(doc),
	}

	res, err := req.Do(ctx, p.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing event %s: %s", event.ID, res.String())
	}
	return nil
}
