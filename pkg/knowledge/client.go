// Package knowledge is the retrieval client for the RAGFlow-style knowledge
// service. Calls are timeout-bounded, make exactly one round trip and never
// retry; the pipeline absorbs failures into an empty passage list.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kkhouse/wecopilot/pkg/logger"
)

type Passage struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity,omitempty"`
}

type Client struct {
	baseURL string
	apiKey  string
	dataset string
	http    *http.Client
}

func NewClient(baseURL, apiKey, dataset string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		dataset: dataset,
		http:    &http.Client{Timeout: timeout},
	}
}

type retrievalRequest struct {
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
	Dataset string `json:"dataset,omitempty"`
}

type retrievalResponse struct {
	Data []Passage `json:"data"`
}

// Search returns up to topK ranked passages for the query. Transport errors,
// non-200 statuses and malformed bodies all surface as an error with no
// partial results; callers treat any error as "no enrichment available".
func (c *Client) Search(ctx context.Context, query string, topK int) ([]Passage, error) {
	body, err := json.Marshal(retrievalRequest{Query: query, TopK: topK, Dataset: c.dataset})
	if err != nil {
		return nil, fmt.Errorf("knowledge: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/retrieval", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("knowledge: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: retrieval call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("knowledge: retrieval status %d: %s", resp.StatusCode, snippet)
	}

	var parsed retrievalResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("knowledge: decode response: %w", err)
	}

	logger.DebugCF("knowledge", "Retrieval completed",
		map[string]interface{}{"passages": len(parsed.Data), "top_k": topK})
	if parsed.Data == nil {
		return []Passage{}, nil
	}
	return parsed.Data, nil
}
