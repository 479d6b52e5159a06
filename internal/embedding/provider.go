package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderError wraps every failure mode of the embedding pipeline
// (network, decode, model) so callers can classify it as an upstream error.
type ProviderError struct {
	Stage string // fetch | decode | frames | model
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider: %s: %v", e.Stage, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Config for the multimodal embedding backend.
type Config struct {
	Endpoint       string
	APIKey         string
	Model          string
	Dimension      int
	MaxVideoFrames int // frames sampled at 1 fps, capped
	IPFSGateway    string
	Timeout        time.Duration
}

// Provider turns a content URI into a fixed-dimension embedding vector.
// The backing model is multimodal image/text; video is reduced to the
// arithmetic mean of per-frame image embeddings, and audio URIs are
// embedded as text until an audio-capable model is wired in.
type Provider struct {
	cfg    Config
	client *http.Client
}

func NewProvider(cfg Config) *Provider {
	if cfg.MaxVideoFrames <= 0 {
		cfg.MaxVideoFrames = 300
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured embedding model identifier.
func (p *Provider) Model() string { return p.cfg.Model }

// Dimension returns the vector dimension the backend produces.
func (p *Provider) Dimension() int { return p.cfg.Dimension }

// Embed generates the embedding for one asset. framesExtracted is non-zero
// only for video input.
func (p *Provider) Embed(ctx context.Context, uri, assetType string) (vector []float32, framesExtracted int, err error) {
	switch assetType {
	case "text":
		v, err := p.embedText(ctx, uri)
		return v, 0, err
	case "image":
		v, err := p.embedImage(ctx, uri)
		return v, 0, err
	case "video":
		return p.embedVideo(ctx, uri)
	case "audio":
		// Placeholder: the backing model is image/text, so the URI itself
		// is embedded as text input.
		vecs, err := p.requestEmbeddings(ctx, []inputItem{{Text: uri}})
		if err != nil {
			return nil, 0, err
		}
		return vecs[0], 0, nil
	default:
		return nil, 0, &ProviderError{Stage: "decode", Err: fmt.Errorf("unsupported asset type %q", assetType)}
	}
}

func (p *Provider) embedText(ctx context.Context, uri string) ([]float32, error) {
	data, err := p.fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	vecs, err := p.requestEmbeddings(ctx, []inputItem{{Text: string(data)}})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *Provider) embedImage(ctx context.Context, uri string) ([]float32, error) {
	data, err := p.fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	vecs, err := p.requestEmbeddings(ctx, []inputItem{{Image: toDataURI(data)}})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// embedVideo samples one frame per second (up to MaxVideoFrames), embeds
// each frame as an image, and returns the arithmetic mean of the per-frame
// vectors. All temporary files live in a unique scratch directory that is
// removed unconditionally, success or failure.
func (p *Provider) embedVideo(ctx context.Context, uri string) ([]float32, int, error) {
	scratch, err := os.MkdirTemp("", "vembed-"+uuid.NewString())
	if err != nil {
		return nil, 0, &ProviderError{Stage: "frames", Err: err}
	}
	defer os.RemoveAll(scratch)

	data, err := p.fetch(ctx, uri)
	if err != nil {
		return nil, 0, err
	}
	videoPath := filepath.Join(scratch, "input")
	if err := os.WriteFile(videoPath, data, 0o600); err != nil {
		return nil, 0, &ProviderError{Stage: "frames", Err: err}
	}

	frames, err := extractFrames(ctx, videoPath, scratch, p.cfg.MaxVideoFrames)
	if err != nil {
		return nil, 0, err
	}
	if len(frames) == 0 {
		return nil, 0, &ProviderError{Stage: "frames", Err: fmt.Errorf("no frames extracted from %s", uri)}
	}

	// Embed frames in batches to keep request bodies bounded.
	const batchSize = 16
	sum := make([]float64, 0)
	for start := 0; start < len(frames); start += batchSize {
		end := start + batchSize
		if end > len(frames) {
			end = len(frames)
		}
		items := make([]inputItem, 0, end-start)
		for _, f := range frames[start:end] {
			img, err := os.ReadFile(f)
			if err != nil {
				return nil, 0, &ProviderError{Stage: "frames", Err: err}
			}
			items = append(items, inputItem{Image: toDataURI(img)})
		}
		vecs, err := p.requestEmbeddings(ctx, items)
		if err != nil {
			return nil, 0, err
		}
		for _, v := range vecs {
			if len(sum) == 0 {
				sum = make([]float64, len(v))
			}
			for i, x := range v {
				sum[i] += float64(x)
			}
		}
	}

	mean := make([]float32, len(sum))
	for i := range sum {
		mean[i] = float32(sum[i] / float64(len(frames)))
	}
	log.Printf("[Embedding] Video pooled: %d frames → %d-dim mean vector", len(frames), len(mean))
	return mean, len(frames), nil
}

// extractFrames shells out to ffmpeg sampling at 1 fps.
func extractFrames(ctx context.Context, videoPath, scratch string, maxFrames int) ([]string, error) {
	pattern := filepath.Join(scratch, "frame-%05d.jpg")
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-vf", "fps=1",
		"-frames:v", fmt.Sprint(maxFrames),
		"-q:v", "3",
		pattern,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &ProviderError{Stage: "frames", Err: fmt.Errorf("ffmpeg: %v: %s", err, truncate(stderr.String(), 400))}
	}

	matches, err := filepath.Glob(filepath.Join(scratch, "frame-*.jpg"))
	if err != nil {
		return nil, &ProviderError{Stage: "frames", Err: err}
	}
	sort.Strings(matches)
	if len(matches) > maxFrames {
		matches = matches[:maxFrames]
	}
	return matches, nil
}

// fetch retrieves the asset bytes, rewriting ipfs:// URIs to the configured
// HTTP gateway.
func (p *Provider) fetch(ctx context.Context, uri string) ([]byte, error) {
	httpURI := p.RewriteIPFS(uri)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURI, nil)
	if err != nil {
		return nil, &ProviderError{Stage: "fetch", Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Stage: "fetch", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Stage: "fetch", Err: fmt.Errorf("GET %s: status %d", httpURI, resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Stage: "fetch", Err: err}
	}
	return data, nil
}

// RewriteIPFS maps ipfs://CID[/path] to the configured HTTP gateway.
func (p *Provider) RewriteIPFS(uri string) string {
	if strings.HasPrefix(uri, "ipfs://") {
		return p.cfg.IPFSGateway + strings.TrimPrefix(uri, "ipfs://")
	}
	return uri
}

// ─── Embedding API client ───────────────────────────────────────────

type inputItem struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"` // data URI
}

type embedRequest struct {
	Model string      `json:"model"`
	Input []inputItem `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *Provider) requestEmbeddings(ctx context.Context, items []inputItem) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.cfg.Model, Input: items})
	if err != nil {
		return nil, &ProviderError{Stage: "model", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Stage: "model", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Stage: "model", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ProviderError{Stage: "model", Err: fmt.Errorf("embedding API status %d: %s", resp.StatusCode, msg)}
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Stage: "model", Err: err}
	}
	if len(parsed.Data) != len(items) {
		return nil, &ProviderError{Stage: "model", Err: fmt.Errorf("expected %d embeddings, got %d", len(items), len(parsed.Data))}
	}

	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if p.cfg.Dimension > 0 && len(d.Embedding) != p.cfg.Dimension {
			return nil, &ProviderError{Stage: "model", Err: fmt.Errorf("embedding dimension %d, expected %d", len(d.Embedding), p.cfg.Dimension)}
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func toDataURI(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
