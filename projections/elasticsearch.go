package projections

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/config"
)

// Index mappings. Identifier fields are keywords so audit filters match
// exactly; event_data stays a free object.
var indexMappings = map[string]string{
	"financial-events": `{
		"mappings": {
			"properties": {
				"aggregate_id":   {"type": "keyword"},
				"aggregate_type": {"type": "keyword"},
				"event_type":     {"type": "keyword"},
				"version":        {"type": "integer"},
				"schema_version": {"type": "integer"},
				"event_data":     {"type": "object", "enabled": true},
				"user_id":        {"type": "keyword"},
				"partner_id":     {"type": "keyword"},
				"amount":         {"type": "double"},
				"currency":       {"type": "keyword"},
				"correlation_id": {"type": "keyword"},
				"status":         {"type": "keyword"},
				"created_at":     {"type": "date"}
			}
		}
	}`,
	"financial-aggregates": `{
		"mappings": {
			"properties": {
				"aggregate_type":     {"type": "keyword"},
				"current_state":      {"type": "object", "enabled": true},
				"last_event_version": {"type": "integer"},
				"status":             {"type": "keyword"},
				"user_id":            {"type": "keyword"},
				"updated_at":         {"type": "date"}
			}
		}
	}`,
	"audit-trail": `{
		"mappings": {
			"properties": {
				"aggregate_id": {"type": "keyword"},
				"event_type":   {"type": "keyword"},
				"user_id":      {"type": "keyword"},
				"impact":       {"type": "keyword"},
				"severity":     {"type": "keyword"},
				"tags":         {"type": "keyword"},
				"timestamp":    {"type": "date"}
			}
		}
	}`,
}

// NewElasticsearchClient creates a new Elasticsearch client
func NewElasticsearchClient(cfg config.Config) (*elasticsearch.Client, error) {
	elasticCfg := elasticsearch.Config{
		Addresses: []string{cfg.ElasticSearchURL},
		Username:  cfg.ElasticSearchUsername,
		Password:  cfg.ElasticSearchPassword,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	}

	client, err := elasticsearch.NewClient(elasticCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	// Check the connection
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("error connecting to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch returned error: %s", res.String())
	}

	log.Info().Msg("Successfully connected to Elasticsearch")
	return client, nil
}

// FormatIndex adds the prefix to the index name
func FormatIndex(indexName string, cfg config.Config) string {
	return cfg.ElasticSearchPrefix + "-" + indexName
}

// EnsureIndices creates any missing indices with their mappings
func EnsureIndices(client *elasticsearch.Client, cfg config.Config) error {
	for index, mapping := range indexMappings {
		formattedIndex := FormatIndex(index, cfg)

		exists, err := indexExists(client, formattedIndex)
		if err != nil {
			return err
		}

		if !exists {
			log.Info().Msgf("Creating index %s", formattedIndex)
			if err := createIndex(client, formattedIndex, mapping); err != nil {
				return err
			}
		}
	}

	return nil
}

// indexExists checks if an index exists
func indexExists(client *elasticsearch.Client, index string) (bool, error) {
	res, err := client.Indices.Exists([]string{index})
	if err != nil {
		return false, fmt.Errorf("error checking if index %s exists: %w", index, err)
	}
	defer res.Body.Close()

	return res.StatusCode == 200, nil
}

// createIndex creates an index with the given mapping
func createIndex(client *elasticsearch.Client, index, mapping string) error {
	res, err := client.Indices.Create(
		index,
		client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("error creating index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index %s: %s", index, res.String())
	}

	return nil
}
