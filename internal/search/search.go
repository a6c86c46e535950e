// Package search filters the product grid. With Elasticsearch
// configured the fetched catalog is indexed and queried fuzzily;
// without it the original in-memory substring filter applies.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/greenharvest/storefront/internal/models"
)

const productIndex = "storefront_products"

// NewESClient connects to Elasticsearch, or returns nil when no URL is
// configured.
func NewESClient(esURL, user, password string, log *slog.Logger) (*elasticsearch.Client, error) {
	if esURL == "" {
		log.Info("elasticsearch not configured, using in-memory product filter")
		return nil, nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esURL},
		Username:  user,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("elasticsearch info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch error: %s", res.Status())
	}
	return client, nil
}

// Searcher answers product-page queries. ES is optional; a nil client
// means every call takes the fallback path.
type Searcher struct {
	ES  *elasticsearch.Client
	Log *slog.Logger
}

// Index refreshes the product index after a catalog fetch. Best
// effort: indexing failures degrade to the fallback filter.
func (s *Searcher) Index(ctx context.Context, products []models.Product) {
	if s.ES == nil {
		return
	}
	for _, p := range products {
		body, err := json.Marshal(p)
		if err != nil {
			continue
		}
		res, err := s.ES.Index(
			productIndex,
			bytes.NewReader(body),
			s.ES.Index.WithContext(ctx),
			s.ES.Index.WithDocumentID(strconv.Itoa(p.ID)),
		)
		if err != nil {
			s.Log.Warn("product index failed", "product_id", p.ID, "error", err)
			continue
		}
		res.Body.Close()
	}
}

// Filter narrows products by free-text query and category. The
// category filter always applies locally; the text match goes through
// ES when available.
func (s *Searcher) Filter(ctx context.Context, products []models.Product, query, category string) []models.Product {
	matched := products
	if q := strings.TrimSpace(query); q != "" {
		if s.ES != nil {
			if hits, err := s.esQuery(ctx, q); err == nil {
				matched = intersect(products, hits)
			} else {
				s.Log.Warn("elasticsearch query failed, falling back", "error", err)
				matched = substringFilter(products, q)
			}
		} else {
			matched = substringFilter(products, q)
		}
	}

	if category == "" || category == "All" {
		return matched
	}
	out := make([]models.Product, 0, len(matched))
	for _, p := range matched {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

func (s *Searcher) esQuery(ctx context.Context, query string) ([]int, error) {
	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     query,
				"fields":    []string{"title^2", "description"},
				"fuzziness": "AUTO",
			},
		},
		"size": 100,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := s.ES.Search(
		s.ES.Search.WithContext(ctx),
		s.ES.Search.WithIndex(productIndex),
		s.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.Status())
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source models.Product `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	ids := make([]int, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		ids = append(ids, h.Source.ID)
	}
	return ids, nil
}

func substringFilter(products []models.Product, query string) []models.Product {
	q := strings.ToLower(query)
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Title), q) ||
			strings.Contains(strings.ToLower(p.Description), q) {
			out = append(out, p)
		}
	}
	return out
}

func intersect(products []models.Product, ids []int) []models.Product {
	keep := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	out := make([]models.Product, 0, len(ids))
	for _, p := range products {
		if _, ok := keep[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Categories lists the distinct categories in catalog order, with the
// "All" pseudo-category first.
func Categories(products []models.Product) []string {
	out := []string{"All"}
	seen := map[string]struct{}{}
	for _, p := range products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	return out
}
