package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Sternrassler/activity-export/pkg/cache"
)

// Category is one entry of the category catalogue.
type Category struct {
	ID    int    `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

// ListCategories returns the category catalogue, served from the cache when
// one is configured. Cache failures are logged and never fail the call.
func (c *Client) ListCategories(ctx context.Context, token string) ([]Category, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	load := func(ctx context.Context) ([]byte, error) {
		return c.fetchCategories(ctx, token)
	}

	var (
		body []byte
		err  error
	)
	if c.config.Cache != nil {
		key := cache.Key{Endpoint: CategoriesPath, Scope: c.config.CacheScope}
		var cacheErr error
		body, cacheErr, err = c.config.Cache.GetOrLoad(ctx, key, c.config.CategoriesTTL, load)
		if cacheErr != nil {
			c.logger.Warn().Err(cacheErr).Str("endpoint", CategoriesPath).Msg("Category cache error")
		}
	} else {
		body, err = load(ctx)
	}
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []Category `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Message:    "decode categories",
			Err:        err,
		}
	}
	return envelope.Data, nil
}

func (c *Client) fetchCategories(ctx context.Context, token string) ([]byte, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + CategoriesPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	body, status, err := c.do(req, token, "categories")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &APIError{
			StatusCode: status,
			ErrorClass: ClassifyStatus(status),
			Message:    truncate(body, maxBodySnippet),
		}
	}
	return body, nil
}

// MatchCategories resolves labels to categories, case-insensitively and
// ignoring surrounding whitespace. Labels with no match are returned in
// missing, in input order.
func MatchCategories(categories []Category, labels []string) (matched []Category, missing []string) {
	byLabel := make(map[string][]Category, len(categories))
	for _, cat := range categories {
		key := strings.ToLower(strings.TrimSpace(cat.Label))
		byLabel[key] = append(byLabel[key], cat)
	}

	seen := make(map[int]bool)
	for _, label := range labels {
		found, ok := byLabel[strings.ToLower(strings.TrimSpace(label))]
		if !ok {
			missing = append(missing, label)
			continue
		}
		for _, cat := range found {
			if !seen[cat.ID] {
				seen[cat.ID] = true
				matched = append(matched, cat)
			}
		}
	}
	return matched, missing
}

// CategoryIDs returns the ids of the given categories in ascending order.
func CategoryIDs(categories []Category) []int {
	ids := make([]int, 0, len(categories))
	for _, cat := range categories {
		ids = append(ids, cat.ID)
	}
	sort.Ints(ids)
	return ids
}
