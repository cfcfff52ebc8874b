// Package search provides web search for the analysis agents through the
// Serper API, with results cached in redis.
package search

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nikhilbhutani/financial-analyzer/internal/cache"
	"github.com/nikhilbhutani/financial-analyzer/internal/config"
)

// UnavailableMessage is returned in place of results when no credential is
// configured.
const UnavailableMessage = "Web search is unavailable: no SERPER_API_KEY is configured. " +
	"Continue the analysis using the document contents only."

const noResultsMessage = "No search results found."

// Searcher runs a web search and renders the results as plain text.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type Client struct {
	apiKey     string
	baseURL    string
	results    int
	httpClient *http.Client
	cache      *cache.Cache
	ttl        time.Duration
	limiter    *rate.Limiter
}

// NewClient builds a Serper client. c may be nil to disable caching.
func NewClient(cfg config.SearchConfig, c *cache.Cache) *Client {
	return &Client{
		apiKey:     cfg.SerperKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		results:    cfg.Results,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		cache:      c,
		ttl:        cfg.CacheTTL,
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
	}
}

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
}

type organicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

type searchResponse struct {
	AnswerBox *struct {
		Title   string `json:"title"`
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answerBox,omitempty"`
	KnowledgeGraph *struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"knowledgeGraph,omitempty"`
	Organic []organicResult `json:"organic"`
}

func (c *Client) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("search query is empty")
	}
	if c.apiKey == "" {
		return UnavailableMessage, nil
	}

	key := cacheKey(query, c.results)
	if c.cache != nil {
		var cached string
		err := c.cache.Get(ctx, key, &cached)
		if err == nil {
			slog.Debug("search cache hit", "query", query)
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("search cache read failed", "error", err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.do(ctx, query)
	if err != nil {
		return "", err
	}
	text := format(resp)

	if c.cache != nil && c.ttl > 0 {
		if err := c.cache.Set(ctx, key, text, c.ttl); err != nil {
			slog.Warn("search cache write failed", "error", err)
		}
	}
	return text, nil
}

func (c *Client) do(ctx context.Context, query string) (*searchResponse, error) {
	body, err := json.Marshal(searchRequest{Q: query, Num: c.results})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}

func format(r *searchResponse) string {
	var sb strings.Builder
	if r.AnswerBox != nil {
		answer := r.AnswerBox.Answer
		if answer == "" {
			answer = r.AnswerBox.Snippet
		}
		if answer != "" {
			fmt.Fprintf(&sb, "Answer: %s\n\n", answer)
		}
	}
	if r.KnowledgeGraph != nil && r.KnowledgeGraph.Description != "" {
		fmt.Fprintf(&sb, "%s: %s\n\n", r.KnowledgeGraph.Title, r.KnowledgeGraph.Description)
	}
	for i, o := range r.Organic {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, o.Title)
		if o.Date != "" {
			fmt.Fprintf(&sb, "   Date: %s\n", o.Date)
		}
		fmt.Fprintf(&sb, "   Link: %s\n", o.Link)
		if o.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", o.Snippet)
		}
		sb.WriteString("\n")
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return noResultsMessage
	}
	return out
}

func cacheKey(query string, n int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", n, strings.ToLower(query))))
	return hex.EncodeToString(sum[:16])
}
