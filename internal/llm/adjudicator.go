package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/storymint/verification-engine/pkg/models"
)

// Asset describes one side of a similarity comparison for the adjudicator
// prompt.
type Asset struct {
	ContentHash    string `json:"contentHash"`
	AssetType      string `json:"assetType"`
	IPMetadataURI  string `json:"ipMetadataUri"`
	CreatorAddress string `json:"creatorAddress,omitempty"`
	StoryIPID      string `json:"storyIpId,omitempty"`
}

// Adjudicator asks a language model for a semantic second opinion on the
// top vector match. It is strictly advisory: the engine never fails because
// the adjudicator failed, and the threshold verdict is never overridden.
type Adjudicator struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

func NewAdjudicator(cfg Config) *Adjudicator {
	if cfg.Timeout == 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Adjudicator{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

const systemPrompt = `You are an intellectual-property similarity adjudicator.
Given a candidate asset, its closest registered match, and their cosine
similarity percentage, decide whether the candidate is derivative.
Respond with STRICT JSON, no markdown fences, exactly these keys:
{"summary": string, "similarity_reasoning": string, "is_derivative": bool,
"confidence_score": int 0-100, "recommendation": "approve"|"warn"|"block",
"detailed_comparison": string}`

// Analyze returns the model's structured verdict, or the deterministic
// fallback derived from the numeric score on any failure.
func (a *Adjudicator) Analyze(ctx context.Context, query, match Asset, similarityPercent int) *models.LLMAnalysis {
	analysis, err := a.analyze(ctx, query, match, similarityPercent)
	if err != nil {
		log.Printf("[LLM] Adjudication failed, using score fallback: %v", err)
		return Fallback(similarityPercent)
	}
	return analysis
}

func (a *Adjudicator) analyze(ctx context.Context, query, match Asset, similarityPercent int) (*models.LLMAnalysis, error) {
	queryJSON, _ := json.Marshal(query)
	matchJSON, _ := json.Marshal(match)
	userPrompt := fmt.Sprintf(
		"Candidate asset: %s\nClosest registered match: %s\nCosine similarity: %d%%",
		queryJSON, matchJSON, similarityPercent)

	body, err := json.Marshal(map[string]any{
		"model": a.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature":     0.1,
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("LLM API status %d: %s", resp.StatusCode, msg)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	return ParseAnalysis(completion.Choices[0].Message.Content)
}

// ParseAnalysis decodes the model's strict-JSON verdict and validates the
// enum/range fields.
func ParseAnalysis(content string) (*models.LLMAnalysis, error) {
	// Some models wrap JSON in code fences despite instructions.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var analysis models.LLMAnalysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("LLM response is not valid JSON: %w", err)
	}
	switch analysis.Recommendation {
	case "approve", "warn", "block":
	default:
		return nil, fmt.Errorf("LLM returned invalid recommendation %q", analysis.Recommendation)
	}
	if analysis.ConfidenceScore < 0 || analysis.ConfidenceScore > 100 {
		return nil, fmt.Errorf("LLM confidence score out of range: %d", analysis.ConfidenceScore)
	}
	return &analysis, nil
}

// Fallback derives a deterministic verdict from the numeric score alone:
// block at ≥75, warn at ≥40, approve below, always with confidence 50.
func Fallback(similarityPercent int) *models.LLMAnalysis {
	rec := "approve"
	switch {
	case similarityPercent >= 75:
		rec = "block"
	case similarityPercent >= 40:
		rec = "warn"
	}
	return &models.LLMAnalysis{
		Summary:             fmt.Sprintf("Automated verdict from %d%% vector similarity (adjudicator unavailable)", similarityPercent),
		SimilarityReasoning: "Derived from cosine similarity thresholds without semantic review.",
		IsDerivative:        similarityPercent >= 75,
		ConfidenceScore:     50,
		Recommendation:      rec,
		DetailedComparison:  "",
		Fallback:            true,
	}
}
