package search

import (
	"bytes"
	"context"
	"encoding/json"

	"example.com/ricechain/config"
	"example.com/ricechain/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Index names, combined with the configured prefix at request time.
const (
	indexSupplies = "supplies"
	indexOrders   = "orders"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexSupply indexes a paddy supply so admins can search intake history by
// farmer, operator, quality or payment status.
func (c *ElasticClient) IndexSupply(ctx context.Context, supply *models.PaddySupply) error {
	doc := map[string]interface{}{
		"id":               supply.ID.String(),
		"farmer_id":        supply.FarmerID.String(),
		"mill_operator_id": supply.MillOperatorID.String(),
		"quantity":         supply.Quantity,
		"quality_rating":   supply.QualityRating,
		"moisture_pct":     supply.MoisturePct,
		"status":           supply.Status,
		"total_amount":     supply.TotalAmount,
		"payment_status":   supply.PaymentStatus,
		"created_at":       supply.CreatedAt,
	}
	return c.index(ctx, indexSupplies, supply.ID.String(), doc)
}

// IndexOrder indexes an order after a status change.
func (c *ElasticClient) IndexOrder(ctx context.Context, order *models.Order) error {
	doc := map[string]interface{}{
		"id":           order.ID.String(),
		"customer_id":  order.CustomerID.String(),
		"status":       order.Status,
		"total_kg":     order.TotalKg,
		"total_amount": order.TotalAmount,
		"created_at":   order.CreatedAt,
	}
	return c.index(ctx, indexOrders, order.ID.String(), doc)
}

func (c *ElasticClient) index(ctx context.Context, index, docID string, doc map[string]interface{}) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	req := esapi.IndexRequest{
		Index:      config.FormatIndex(c.config, index),
		DocumentID: docID,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("index", index).Str("doc_id", docID).Msg("document indexed")
	return nil
}

// SearchSupplies runs a free-text query over the indexed supplies, matching
// farmer, operator, intake status and payment status.
func (c *ElasticClient) SearchSupplies(ctx context.Context, term string) ([]map[string]interface{}, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  term,
				"fields": []string{"farmer_id", "mill_operator_id", "status", "payment_status"},
			},
		},
	}
	return c.Search(ctx, indexSupplies, query)
}

// Search runs a raw query against one of the prefixed indices and returns
// the matching documents.
func (c *ElasticClient) Search(ctx context.Context, index string, query map[string]interface{}) ([]map[string]interface{}, error) {
	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{config.FormatIndex(c.config, index)},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unexpected search result format")
	}
	hitsArray, ok := hits["hits"].([]interface{})
	if !ok {
		return nil, errors.New("unexpected hits format")
	}

	var docs []map[string]interface{}
	for _, hit := range hitsArray {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}
		docs = append(docs, source)
	}

	return docs, nil
}
