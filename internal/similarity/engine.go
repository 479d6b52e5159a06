package similarity

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/storymint/verification-engine/internal/llm"
	"github.com/storymint/verification-engine/internal/signer"
	"github.com/storymint/verification-engine/internal/vecindex"
	"github.com/storymint/verification-engine/pkg/models"
)

// Store is the slice of the persistence layer the engine owns: embedding
// records and their lifecycle.
type Store interface {
	GetEmbeddingByContentHash(ctx context.Context, contentHash string) (*models.EmbeddingRecord, error)
	CreateEmbeddingRecord(ctx context.Context, r *models.EmbeddingRecord) error
	PromoteEmbedding(ctx context.Context, contentHash, storyIPID string) (bool, error)
	EmbeddingStatusCounts(ctx context.Context) (map[string]int, error)
	RecentBlocked(ctx context.Context, limit int) ([]models.EmbeddingRecord, error)
}

// Embedder generates the multimodal vector for one asset.
type Embedder interface {
	Embed(ctx context.Context, uri, assetType string) ([]float32, int, error)
	Model() string
}

// Index is the namespaced approximate-nearest-neighbor store.
type Index interface {
	Upsert(ctx context.Context, namespace string, entries []vecindex.Entry) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]vecindex.Match, error)
	DeleteOne(ctx context.Context, namespace, id string) error
}

// Adjudicator is the optional LLM second opinion. A nil Adjudicator (or
// EnableLLM=false) disables it; it is advisory either way.
type Adjudicator interface {
	Analyze(ctx context.Context, query, match llm.Asset, similarityPercent int) *models.LLMAnalysis
}

// BlockedAlert is emitted through the alert callback whenever an admission
// is rejected, so moderation dashboards see rejections in real time.
type BlockedAlert struct {
	ContentHash     string `json:"contentHash"`
	CreatorAddress  string `json:"creatorAddress"`
	AssetType       string `json:"assetType"`
	SimilarityScore int    `json:"similarityScore"`
	TopMatchIPID    string `json:"topMatchIpId,omitempty"`
	Timestamp       string `json:"timestamp"`
}

type Config struct {
	ThresholdClean      int // score <= clean → CLEAN
	ThresholdWarn       int // clean < score <= warn → WARNING, above → BLOCKED
	TopK                int
	NamespacePending    string
	NamespaceRegistered string
	EnableLLM           bool
}

// Engine orchestrates embedding, vector search, threshold classification,
// and namespace promotion. It exclusively owns EmbeddingRecord rows and
// VectorEntry placements.
type Engine struct {
	cfg       Config
	store     Store
	embedder  Embedder
	index     Index
	adjudic   Adjudicator
	alertFunc func(BlockedAlert) // optional broadcast callback
}

func NewEngine(cfg Config, store Store, embedder Embedder, index Index, adjudic Adjudicator, alertFunc func(BlockedAlert)) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		embedder:  embedder,
		index:     index,
		adjudic:   adjudic,
		alertFunc: alertFunc,
	}
}

// LLMEnabled reports whether admissions can receive an adjudicator second
// opinion, for the health surface.
func (e *Engine) LLMEnabled() bool {
	return e.cfg.EnableLLM && e.adjudic != nil
}

// AdmitRequest describes one asset submitted for admission.
type AdmitRequest struct {
	IPMetadataURI  string
	NFTMetadataURI string
	AssetType      string
	CreatorAddress string
}

// ScoreToPercent projects cosine similarity s ∈ [-1, 1] into the integer
// percent scale every downstream consumer uses.
func ScoreToPercent(s float64) int {
	return int(math.Round(s * 100))
}

// Classify maps an integer percent to a verdict. Pure function of the two
// thresholds; the boundary scores belong to the lower class.
func Classify(percent, clean, warn int) string {
	switch {
	case percent <= clean:
		return models.SimilarityClean
	case percent <= warn:
		return models.SimilarityWarning
	default:
		return models.SimilarityBlocked
	}
}

// VectorID derives the index id for a content hash. Deterministic so a
// re-admission attempt always targets the same entry.
func VectorID(contentHash string) string {
	return "ip-" + strings.TrimPrefix(contentHash, "0x")
}

// CheckAndAdmit runs the full admission pipeline for one asset:
// dedup by content hash, embed, query the registered corpus, classify
// against the thresholds, optionally adjudicate, persist the embedding
// record, and stage the vector in the pending namespace.
//
// The database write is ordered before the index upsert, so the only
// possible partial state is "record exists, not yet indexed", which the
// dedup check makes self-healing on the next attempt.
func (e *Engine) CheckAndAdmit(ctx context.Context, req AdmitRequest) (*models.SimilarityResult, error) {
	contentHash := signer.ContentHash(req.IPMetadataURI, req.NFTMetadataURI).Hex()

	// Short-circuit: this exact content has already been admitted.
	existing, err := e.store.GetEmbeddingByContentHash(ctx, contentHash)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if existing != nil {
		return &models.SimilarityResult{
			Status:          models.SimilarityBlocked,
			SimilarityScore: 100,
			Matches:         []models.VectorMatch{},
			Message:         "already registered",
		}, nil
	}

	vector, frames, err := e.embedder.Embed(ctx, req.IPMetadataURI, req.AssetType)
	if err != nil {
		return nil, err
	}

	hits, err := e.index.Query(ctx, e.cfg.NamespaceRegistered, vector, e.cfg.TopK, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	matches := make([]models.VectorMatch, 0, len(hits))
	for _, h := range hits {
		matches = append(matches, models.VectorMatch{
			VectorID:       h.ID,
			Score:          ScoreToPercent(h.Score),
			ContentHash:    h.Metadata.ContentHash,
			AssetType:      h.Metadata.AssetType,
			CreatorAddress: h.Metadata.CreatorAddress,
			StoryIPID:      h.Metadata.StoryIPID,
			IPMetadataURI:  h.Metadata.IPMetadataURI,
		})
	}

	// The index returns descending scores; the first hit is authoritative.
	percent := 0
	var topMatch *models.VectorMatch
	if len(matches) > 0 {
		topMatch = &matches[0]
		percent = topMatch.Score
	}
	status := Classify(percent, e.cfg.ThresholdClean, e.cfg.ThresholdWarn)

	var analysis *models.LLMAnalysis
	if e.cfg.EnableLLM && e.adjudic != nil && topMatch != nil && percent > e.cfg.ThresholdClean {
		analysis = e.adjudic.Analyze(ctx,
			llm.Asset{ContentHash: contentHash, AssetType: req.AssetType, IPMetadataURI: req.IPMetadataURI, CreatorAddress: req.CreatorAddress},
			llm.Asset{ContentHash: topMatch.ContentHash, AssetType: topMatch.AssetType, IPMetadataURI: topMatch.IPMetadataURI, StoryIPID: topMatch.StoryIPID},
			percent)
	}

	record := &models.EmbeddingRecord{
		ContentHash:      contentHash,
		VectorID:         VectorID(contentHash),
		EmbeddingVector:  vector,
		AssetType:        req.AssetType,
		CreatorAddress:   req.CreatorAddress,
		IPMetadataURI:    req.IPMetadataURI,
		NFTMetadataURI:   req.NFTMetadataURI,
		EmbeddingModel:   e.embedder.Model(),
		FramesExtracted:  frames,
		SimilarityStatus: strings.ToLower(status),
		TopMatchScore:    percent,
	}
	if topMatch != nil {
		record.TopMatchContentHash = topMatch.ContentHash
	}
	if err := e.store.CreateEmbeddingRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist embedding record: %w", err)
	}

	if status != models.SimilarityBlocked {
		entry := vecindex.Entry{
			ID:     record.VectorID,
			Values: vector,
			Metadata: vecindex.Metadata{
				ContentHash:    contentHash,
				AssetType:      req.AssetType,
				CreatorAddress: req.CreatorAddress,
				IPMetadataURI:  req.IPMetadataURI,
				NFTMetadataURI: req.NFTMetadataURI,
				Timestamp:      time.Now().UTC().Format(time.RFC3339),
			},
		}
		if err := e.index.Upsert(ctx, e.cfg.NamespacePending, []vecindex.Entry{entry}); err != nil {
			return nil, fmt.Errorf("pending namespace upsert failed: %w", err)
		}
	} else if e.alertFunc != nil {
		alert := BlockedAlert{
			ContentHash:     contentHash,
			CreatorAddress:  req.CreatorAddress,
			AssetType:       req.AssetType,
			SimilarityScore: percent,
			Timestamp:       time.Now().UTC().Format(time.RFC3339),
		}
		if topMatch != nil {
			alert.TopMatchIPID = topMatch.StoryIPID
		}
		e.alertFunc(alert)
	}

	return &models.SimilarityResult{
		Status:          status,
		SimilarityScore: percent,
		TopMatch:        topMatch,
		Matches:         matches,
		Message:         statusMessage(status, percent),
		LLMAnalysis:     analysis,
	}, nil
}

func statusMessage(status string, percent int) string {
	switch status {
	case models.SimilarityBlocked:
		return fmt.Sprintf("Content is %d%% similar to a registered asset and cannot be minted", percent)
	case models.SimilarityWarning:
		return fmt.Sprintf("Content is %d%% similar to a registered asset; review before minting", percent)
	default:
		return "Content is sufficiently original"
	}
}

// Promote moves an admitted asset into the registered corpus after its
// on-chain mint succeeds: the embedding record gets the story IP id and a
// clean status, the vector leaves the pending namespace (best-effort) and
// is upserted into registered with updated metadata.
func (e *Engine) Promote(ctx context.Context, contentHash, storyIPID string) error {
	record, err := e.store.GetEmbeddingByContentHash(ctx, contentHash)
	if err != nil {
		return fmt.Errorf("promote: lookup failed: %w", err)
	}
	if record == nil {
		return fmt.Errorf("promote: no embedding record for %s", contentHash)
	}

	if _, err := e.store.PromoteEmbedding(ctx, contentHash, storyIPID); err != nil {
		return fmt.Errorf("promote: record update failed: %w", err)
	}

	// A missing pending entry is not an error: the record may have been
	// admitted before the index write landed, or promoted twice.
	if err := e.index.DeleteOne(ctx, e.cfg.NamespacePending, record.VectorID); err != nil {
		log.Printf("[Similarity] Pending delete for %s failed (continuing): %v", record.VectorID, err)
	}

	entry := vecindex.Entry{
		ID:     record.VectorID,
		Values: record.EmbeddingVector,
		Metadata: vecindex.Metadata{
			ContentHash:    record.ContentHash,
			AssetType:      record.AssetType,
			CreatorAddress: record.CreatorAddress,
			StoryIPID:      storyIPID,
			IPMetadataURI:  record.IPMetadataURI,
			NFTMetadataURI: record.NFTMetadataURI,
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := e.index.Upsert(ctx, e.cfg.NamespaceRegistered, []vecindex.Entry{entry}); err != nil {
		return fmt.Errorf("promote: registered upsert failed: %w", err)
	}
	return nil
}

// Statistics returns admission counts by status plus the most recent
// blocked records for the moderation surface.
func (e *Engine) Statistics(ctx context.Context) (*models.SimilarityStats, error) {
	counts, err := e.store.EmbeddingStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	blocked, err := e.store.RecentBlocked(ctx, 10)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return &models.SimilarityStats{
		Total:         total,
		ByStatus:      counts,
		RecentBlocked: blocked,
	}, nil
}
