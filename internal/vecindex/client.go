package vecindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client speaks the REST protocol of the managed vector index. Namespaces
// are logical partitions of a single index of fixed dimension; the engine
// keeps admitted-but-unminted assets in "pending" and minted assets in
// "registered", and never dual-lists an id.
type Client struct {
	endpoint string
	apiKey   string
	index    string
	client   *http.Client
}

// Metadata carried alongside each vector entry.
type Metadata struct {
	ContentHash    string `json:"contentHash"`
	AssetType      string `json:"assetType"`
	CreatorAddress string `json:"creatorAddress"`
	StoryIPID      string `json:"storyIpId,omitempty"`
	IPMetadataURI  string `json:"ipMetadataUri"`
	NFTMetadataURI string `json:"nftMetadataUri"`
	Timestamp      string `json:"timestamp"`
}

// Entry is one vector to upsert.
type Entry struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

// Match is one query hit. Score is cosine similarity in [-1, 1], returned
// by the index in descending order; ties keep insertion order.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Stats summarizes index occupancy per namespace.
type Stats struct {
	Dimension        int            `json:"dimension"`
	TotalVectorCount int            `json:"totalVectorCount"`
	Namespaces       map[string]int `json:"namespaces"`
}

type Config struct {
	Endpoint  string
	APIKey    string
	IndexName string
	Timeout   time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		index:    cfg.IndexName,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Upsert inserts or replaces entries by id within a namespace.
func (c *Client) Upsert(ctx context.Context, namespace string, entries []Entry) error {
	body := map[string]any{
		"vectors":   entries,
		"namespace": namespace,
	}
	return c.post(ctx, "/vectors/upsert", body, nil)
}

// Query returns the topK nearest entries by cosine similarity, descending.
func (c *Client) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	body := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"namespace":       namespace,
		"includeMetadata": true,
	}
	if filter != nil {
		body["filter"] = filter
	}
	var out struct {
		Matches []Match `json:"matches"`
	}
	if err := c.post(ctx, "/query", body, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// DeleteOne removes a single id from a namespace. Deleting an id that is
// not present is not an error.
func (c *Client) DeleteOne(ctx context.Context, namespace, id string) error {
	body := map[string]any{
		"ids":       []string{id},
		"namespace": namespace,
	}
	return c.post(ctx, "/vectors/delete", body, nil)
}

// DescribeStats reports per-namespace vector counts.
func (c *Client) DescribeStats(ctx context.Context) (*Stats, error) {
	var raw struct {
		Dimension        int `json:"dimension"`
		TotalVectorCount int `json:"totalVectorCount"`
		Namespaces       map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
	}
	if err := c.post(ctx, "/describe_index_stats", map[string]any{}, &raw); err != nil {
		return nil, err
	}
	stats := &Stats{
		Dimension:        raw.Dimension,
		TotalVectorCount: raw.TotalVectorCount,
		Namespaces:       make(map[string]int, len(raw.Namespaces)),
	}
	for ns, v := range raw.Namespaces {
		stats.Namespaces[ns] = v.VectorCount
	}
	return stats, nil
}

// WaitReady polls the stats endpoint until the index answers, giving the
// read-your-write guarantee a caller sequence needs right after index
// creation.
func (c *Client) WaitReady(ctx context.Context, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if _, lastErr = c.DescribeStats(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("vector index not ready after %d attempts: %w", attempts, lastErr)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("vector index: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("vector index: %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("vector index: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vector index: %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("vector index: decode %s: %w", path, err)
		}
	}
	return nil
}
