package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ticketing/internal/config"
	"ticketing/internal/models"
)

// ElasticsearchClient представляет клиент для работы с Elasticsearch
type ElasticsearchClient struct {
	client *elasticsearch.Client
	config config.ElasticsearchConfig
}

// NewElasticsearchClient создает новый клиент Elasticsearch
func NewElasticsearchClient(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	client := &ElasticsearchClient{
		client: es,
		config: cfg,
	}

	if err := client.ensureIndex(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure index exists: %w", err)
	}

	return client, nil
}

// indexMapping описывает документ события в индексе
var indexMapping = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 0,
		"analysis": map[string]interface{}{
			"analyzer": map[string]interface{}{
				"event_text": map[string]interface{}{
					"type":      "custom",
					"tokenizer": "standard",
					"filter":    []string{"lowercase", "asciifolding", "english_stemmer"},
				},
			},
			"filter": map[string]interface{}{
				"english_stemmer": map[string]interface{}{
					"type":     "stemmer",
					"language": "english",
				},
			},
			"normalizer": map[string]interface{}{
				"lowercase": map[string]interface{}{
					"type":   "custom",
					"filter": []string{"lowercase"},
				},
			},
		},
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id": map[string]interface{}{"type": "long"},
			"title": map[string]interface{}{
				"type":     "text",
				"analyzer": "event_text",
				"fields": map[string]interface{}{
					"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256},
				},
			},
			"description": map[string]interface{}{"type": "text", "analyzer": "event_text"},
			"category":    map[string]interface{}{"type": "keyword", "normalizer": "lowercase"},
			"location": map[string]interface{}{
				"type":     "text",
				"analyzer": "event_text",
			},
			"starts_at":    map[string]interface{}{"type": "date"},
			"status":       map[string]interface{}{"type": "keyword"},
			"owner_id":     map[string]interface{}{"type": "long"},
			"ticket_types": map[string]interface{}{"type": "object", "enabled": false},
			"created_at":   map[string]interface{}{"type": "date"},
			"updated_at":   map[string]interface{}{"type": "date"},
		},
	},
}

// ensureIndex создает индекс если он не существует
func (c *ElasticsearchClient) ensureIndex(ctx context.Context) error {
	req := esapi.IndicesExistsRequest{
		Index: []string{c.config.Index},
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		slog.Info("Elasticsearch index already exists", "index", c.config.Index)
		return nil
	}

	mappingJSON, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	createReq := esapi.IndicesCreateRequest{
		Index: c.config.Index,
		Body:  bytes.NewReader(mappingJSON),
	}

	createRes, err := createReq.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("failed to create index: %s", createRes.String())
	}

	slog.Info("Created Elasticsearch index", "index", c.config.Index)
	return nil
}

// Search выполняет полнотекстовый поиск одобренных событий
func (c *ElasticsearchClient) Search(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	searchRequest := map[string]interface{}{
		"query":            buildSearchQuery(filter),
		"sort":             buildSortQuery(filter.Keyword),
		"from":             filter.Offset(),
		"size":             filter.Limit,
		"track_total_hits": true,
	}

	searchJSON, err := json.Marshal(searchRequest)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal search query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{c.config.Index},
		Body:  bytes.NewReader(searchJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, 0, fmt.Errorf("search error: %s", res.String())
	}

	var response struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, 0, fmt.Errorf("failed to decode search response: %w", err)
	}

	events := make([]models.Event, len(response.Hits.Hits))
	for i, hit := range response.Hits.Hits {
		events[i] = hit.Source
	}

	return events, response.Hits.Total.Value, nil
}

// buildSearchQuery строит поисковый запрос
func buildSearchQuery(filter models.EventFilter) map[string]interface{} {
	must := []map[string]interface{}{}
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"status": string(models.EventApproved)}},
	}

	if filter.Keyword != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     filter.Keyword,
				"fields":    []string{"title^2", "description", "location"},
				"fuzziness": "AUTO",
			},
		})
	}

	if filter.Category != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"category": strings.ToLower(filter.Category)},
		})
	}

	if filter.Location != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{"location": filter.Location},
		})
	}

	if filter.From != nil || filter.To != nil {
		rng := map[string]interface{}{}
		if filter.From != nil {
			rng["gte"] = filter.From.Format(time.RFC3339)
		}
		if filter.To != nil {
			rng["lte"] = filter.To.Format(time.RFC3339)
		}
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"starts_at": rng},
		})
	}

	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must":   must,
			"filter": filters,
		},
	}
}

// buildSortQuery строит сортировку
func buildSortQuery(keyword string) []map[string]interface{} {
	if keyword != "" {
		return []map[string]interface{}{
			{"_score": map[string]interface{}{"order": "desc"}},
			{"starts_at": map[string]interface{}{"order": "asc"}},
		}
	}

	return []map[string]interface{}{
		{"starts_at": map[string]interface{}{"order": "asc"}},
		{"id": map[string]interface{}{"order": "asc"}},
	}
}

// IndexEvent индексирует событие
func (c *ElasticsearchClient) IndexEvent(ctx context.Context, event *models.Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.config.Index,
		DocumentID: strconv.FormatInt(event.ID, 10),
		Body:       bytes.NewReader(eventJSON),
		Refresh:    "wait_for",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing error: %s", res.String())
	}

	return nil
}

// DeleteEvent удаляет событие
func (c *ElasticsearchClient) DeleteEvent(ctx context.Context, id int64) error {
	req := esapi.DeleteRequest{
		Index:      c.config.Index,
		DocumentID: strconv.FormatInt(id, 10),
		Refresh:    "wait_for",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete error: %s", res.String())
	}

	return nil
}

// HealthCheck проверяет состояние Elasticsearch
func (c *ElasticsearchClient) HealthCheck(ctx context.Context) error {
	req := esapi.ClusterHealthRequest{
		WaitForStatus: "yellow",
		Timeout:       10 * time.Second,
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("health check error: %s", res.String())
	}

	return nil
}
