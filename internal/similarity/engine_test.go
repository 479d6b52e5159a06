package similarity

import (
	"context"
	"testing"

	"github.com/storymint/verification-engine/internal/llm"
	"github.com/storymint/verification-engine/internal/signer"
	"github.com/storymint/verification-engine/internal/vecindex"
	"github.com/storymint/verification-engine/pkg/models"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeStore struct {
	records  map[string]*models.EmbeddingRecord
	promoted map[string]string
	counts   map[string]int
	blocked  []models.EmbeddingRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string]*models.EmbeddingRecord),
		promoted: make(map[string]string),
	}
}

func (f *fakeStore) GetEmbeddingByContentHash(_ context.Context, contentHash string) (*models.EmbeddingRecord, error) {
	return f.records[contentHash], nil
}

func (f *fakeStore) CreateEmbeddingRecord(_ context.Context, r *models.EmbeddingRecord) error {
	f.records[r.ContentHash] = r
	return nil
}

func (f *fakeStore) PromoteEmbedding(_ context.Context, contentHash, storyIPID string) (bool, error) {
	f.promoted[contentHash] = storyIPID
	return true, nil
}

func (f *fakeStore) EmbeddingStatusCounts(_ context.Context) (map[string]int, error) {
	return f.counts, nil
}

func (f *fakeStore) RecentBlocked(_ context.Context, _ int) ([]models.EmbeddingRecord, error) {
	return f.blocked, nil
}

type fakeEmbedder struct {
	vector []float32
	frames int
}

func (f *fakeEmbedder) Embed(_ context.Context, _, _ string) ([]float32, int, error) {
	return f.vector, f.frames, nil
}

func (f *fakeEmbedder) Model() string { return "fake-clip" }

type fakeIndex struct {
	hits      []vecindex.Match
	upserts   map[string][]vecindex.Entry // namespace → entries
	deleted   map[string][]string         // namespace → ids
	queriedNS []string
}

func newFakeIndex(hits []vecindex.Match) *fakeIndex {
	return &fakeIndex{
		hits:    hits,
		upserts: make(map[string][]vecindex.Entry),
		deleted: make(map[string][]string),
	}
}

func (f *fakeIndex) Upsert(_ context.Context, namespace string, entries []vecindex.Entry) error {
	f.upserts[namespace] = append(f.upserts[namespace], entries...)
	return nil
}

func (f *fakeIndex) Query(_ context.Context, namespace string, _ []float32, _ int, _ map[string]any) ([]vecindex.Match, error) {
	f.queriedNS = append(f.queriedNS, namespace)
	return f.hits, nil
}

func (f *fakeIndex) DeleteOne(_ context.Context, namespace, id string) error {
	f.deleted[namespace] = append(f.deleted[namespace], id)
	return nil
}

type fakeAdjudicator struct {
	calls int
}

func (f *fakeAdjudicator) Analyze(_ context.Context, _, _ llm.Asset, percent int) *models.LLMAnalysis {
	f.calls++
	return llm.Fallback(percent)
}

func testConfig() Config {
	return Config{
		ThresholdClean:      40,
		ThresholdWarn:       75,
		TopK:                10,
		NamespacePending:    "pending",
		NamespaceRegistered: "registered",
	}
}

func testRequest() AdmitRequest {
	return AdmitRequest{
		IPMetadataURI:  "ipfs://ip-meta",
		NFTMetadataURI: "ipfs://nft-meta",
		AssetType:      "image",
		CreatorAddress: "0x8ba1f109551bD432803012645Ac136ddd64DBA72",
	}
}

// ─── Pure functions ─────────────────────────────────────────────────

func TestScoreToPercent_Rounds(t *testing.T) {
	cases := []struct {
		score float64
		want  int
	}{
		{0.0, 0},
		{0.304, 30},
		{0.75, 75},
		{0.999, 100},
		{1.0, 100},
		{-0.25, -25},
	}
	for _, c := range cases {
		if got := ScoreToPercent(c.score); got != c.want {
			t.Errorf("ScoreToPercent(%v) = %d, want %d", c.score, got, c.want)
		}
	}
}

func TestClassify_BoundariesBelongToLowerClass(t *testing.T) {
	cases := []struct {
		percent int
		want    string
	}{
		{0, models.SimilarityClean},
		{40, models.SimilarityClean},
		{41, models.SimilarityWarning},
		{75, models.SimilarityWarning},
		{76, models.SimilarityBlocked},
		{100, models.SimilarityBlocked},
	}
	for _, c := range cases {
		if got := Classify(c.percent, 40, 75); got != c.want {
			t.Errorf("Classify(%d) = %s, want %s", c.percent, got, c.want)
		}
	}
}

func TestVectorID_StripsHexPrefix(t *testing.T) {
	if got := VectorID("0xabc123"); got != "ip-abc123" {
		t.Fatalf("VectorID = %q, want ip-abc123", got)
	}
	if VectorID("0xabc123") != VectorID("0xabc123") {
		t.Fatalf("VectorID not deterministic")
	}
}

// ─── CheckAndAdmit ──────────────────────────────────────────────────

func TestCheckAndAdmit_CleanAssetStagedInPendingNamespace(t *testing.T) {
	store := newFakeStore()
	index := newFakeIndex([]vecindex.Match{
		{ID: "ip-other", Score: 0.30, Metadata: vecindex.Metadata{ContentHash: "0xother"}},
	})
	engine := NewEngine(testConfig(), store, &fakeEmbedder{vector: []float32{0.1, 0.2}}, index, nil, nil)

	result, err := engine.CheckAndAdmit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CheckAndAdmit failed: %v", err)
	}
	if result.Status != models.SimilarityClean {
		t.Fatalf("expected CLEAN, got %s", result.Status)
	}
	if result.SimilarityScore != 30 {
		t.Fatalf("expected score 30, got %d", result.SimilarityScore)
	}
	if len(index.queriedNS) != 1 || index.queriedNS[0] != "registered" {
		t.Fatalf("expected one query against registered, got %v", index.queriedNS)
	}
	if len(index.upserts["pending"]) != 1 {
		t.Fatalf("expected one pending upsert, got %d", len(index.upserts["pending"]))
	}
	if len(index.upserts["registered"]) != 0 {
		t.Fatalf("admission must never write to the registered namespace")
	}

	contentHash := signer.ContentHash("ipfs://ip-meta", "ipfs://nft-meta").Hex()
	record := store.records[contentHash]
	if record == nil {
		t.Fatalf("expected embedding record for %s", contentHash)
	}
	if record.SimilarityStatus != "clean" {
		t.Fatalf("expected lowercase status clean, got %q", record.SimilarityStatus)
	}
	if record.VectorID != VectorID(contentHash) {
		t.Fatalf("record vector id %q does not match VectorID(%s)", record.VectorID, contentHash)
	}
	if index.upserts["pending"][0].ID != record.VectorID {
		t.Fatalf("pending entry id %q != record vector id %q", index.upserts["pending"][0].ID, record.VectorID)
	}
}

func TestCheckAndAdmit_WarningAtExactWarnThreshold(t *testing.T) {
	store := newFakeStore()
	index := newFakeIndex([]vecindex.Match{{ID: "ip-other", Score: 0.75}})
	engine := NewEngine(testConfig(), store, &fakeEmbedder{vector: []float32{0.1}}, index, nil, nil)

	result, err := engine.CheckAndAdmit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CheckAndAdmit failed: %v", err)
	}
	if result.Status != models.SimilarityWarning {
		t.Fatalf("expected WARNING at 75%%, got %s", result.Status)
	}
	if len(index.upserts["pending"]) != 1 {
		t.Fatalf("WARNING assets must still be staged in pending")
	}
}

func TestCheckAndAdmit_BlockedAboveWarnThreshold(t *testing.T) {
	store := newFakeStore()
	index := newFakeIndex([]vecindex.Match{
		{ID: "ip-other", Score: 0.76, Metadata: vecindex.Metadata{StoryIPID: "0xipid"}},
	})
	var alert *BlockedAlert
	engine := NewEngine(testConfig(), store, &fakeEmbedder{vector: []float32{0.1}}, index, nil,
		func(a BlockedAlert) { alert = &a })

	result, err := engine.CheckAndAdmit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CheckAndAdmit failed: %v", err)
	}
	if result.Status != models.SimilarityBlocked {
		t.Fatalf("expected BLOCKED at 76%%, got %s", result.Status)
	}
	if len(index.upserts["pending"]) != 0 {
		t.Fatalf("blocked assets must not enter the pending namespace")
	}

	// The record is still persisted for the moderation surface.
	contentHash := signer.ContentHash("ipfs://ip-meta", "ipfs://nft-meta").Hex()
	record := store.records[contentHash]
	if record == nil {
		t.Fatalf("blocked admissions must still persist their record")
	}
	if record.SimilarityStatus != "blocked" {
		t.Fatalf("expected status blocked, got %q", record.SimilarityStatus)
	}

	if alert == nil {
		t.Fatalf("expected blocked alert to fire")
	}
	if alert.SimilarityScore != 76 || alert.TopMatchIPID != "0xipid" {
		t.Fatalf("alert payload wrong: %+v", alert)
	}
}

func TestCheckAndAdmit_DedupShortCircuitsAsBlocked(t *testing.T) {
	store := newFakeStore()
	contentHash := signer.ContentHash("ipfs://ip-meta", "ipfs://nft-meta").Hex()
	store.records[contentHash] = &models.EmbeddingRecord{ContentHash: contentHash}

	index := newFakeIndex(nil)
	engine := NewEngine(testConfig(), store, &fakeEmbedder{vector: []float32{0.1}}, index, nil, nil)

	result, err := engine.CheckAndAdmit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CheckAndAdmit failed: %v", err)
	}
	if result.Status != models.SimilarityBlocked || result.SimilarityScore != 100 {
		t.Fatalf("expected BLOCKED/100 for duplicate content, got %s/%d", result.Status, result.SimilarityScore)
	}
	if len(index.queriedNS) != 0 {
		t.Fatalf("dedup hit must not reach the vector index")
	}
}

func TestCheckAndAdmit_EmptyCorpusIsClean(t *testing.T) {
	store := newFakeStore()
	index := newFakeIndex(nil)
	engine := NewEngine(testConfig(), store, &fakeEmbedder{vector: []float32{0.1}}, index, nil, nil)

	result, err := engine.CheckAndAdmit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CheckAndAdmit failed: %v", err)
	}
	if result.Status != models.SimilarityClean || result.SimilarityScore != 0 {
		t.Fatalf("expected CLEAN/0 with empty corpus, got %s/%d", result.Status, result.SimilarityScore)
	}
	if result.TopMatch != nil {
		t.Fatalf("expected no top match with empty corpus")
	}
}

func TestCheckAndAdmit_AdjudicatorOnlyAboveCleanThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.EnableLLM = true

	// At exactly the clean threshold no adjudication happens.
	adjudic := &fakeAdjudicator{}
	engine := NewEngine(cfg, newFakeStore(), &fakeEmbedder{vector: []float32{0.1}},
		newFakeIndex([]vecindex.Match{{ID: "a", Score: 0.40}}), adjudic, nil)
	result, err := engine.CheckAndAdmit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CheckAndAdmit failed: %v", err)
	}
	if adjudic.calls != 0 {
		t.Fatalf("adjudicator must not run at clean threshold")
	}
	if result.LLMAnalysis != nil {
		t.Fatalf("expected no analysis at clean threshold")
	}

	// One percent above, it does.
	adjudic = &fakeAdjudicator{}
	engine = NewEngine(cfg, newFakeStore(), &fakeEmbedder{vector: []float32{0.1}},
		newFakeIndex([]vecindex.Match{{ID: "a", Score: 0.41}}), adjudic, nil)
	result, err = engine.CheckAndAdmit(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CheckAndAdmit failed: %v", err)
	}
	if adjudic.calls != 1 {
		t.Fatalf("adjudicator should run above clean threshold, ran %d times", adjudic.calls)
	}
	if result.LLMAnalysis == nil {
		t.Fatalf("expected analysis above clean threshold")
	}
	// Advisory: a warn-range score stays WARNING regardless of the verdict.
	if result.Status != models.SimilarityWarning {
		t.Fatalf("adjudicator must not change the threshold verdict, got %s", result.Status)
	}
}

func TestLLMEnabled_RequiresFlagAndAdjudicator(t *testing.T) {
	cfg := testConfig()

	engine := NewEngine(cfg, newFakeStore(), &fakeEmbedder{}, newFakeIndex(nil), nil, nil)
	if engine.LLMEnabled() {
		t.Fatalf("LLMEnabled must be false when the flag is off")
	}

	cfg.EnableLLM = true
	engine = NewEngine(cfg, newFakeStore(), &fakeEmbedder{}, newFakeIndex(nil), nil, nil)
	if engine.LLMEnabled() {
		t.Fatalf("LLMEnabled must be false without an adjudicator")
	}

	engine = NewEngine(cfg, newFakeStore(), &fakeEmbedder{}, newFakeIndex(nil), &fakeAdjudicator{}, nil)
	if !engine.LLMEnabled() {
		t.Fatalf("LLMEnabled must be true with flag and adjudicator")
	}
}

// ─── Promote ────────────────────────────────────────────────────────

func TestPromote_MovesVectorToRegisteredNamespace(t *testing.T) {
	store := newFakeStore()
	contentHash := "0xfeed"
	store.records[contentHash] = &models.EmbeddingRecord{
		ContentHash:     contentHash,
		VectorID:        VectorID(contentHash),
		EmbeddingVector: []float32{0.5, 0.6},
		AssetType:       "image",
	}
	index := newFakeIndex(nil)
	engine := NewEngine(testConfig(), store, &fakeEmbedder{}, index, nil, nil)

	if err := engine.Promote(context.Background(), contentHash, "0xipid"); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if store.promoted[contentHash] != "0xipid" {
		t.Fatalf("embedding record not promoted")
	}
	if got := index.deleted["pending"]; len(got) != 1 || got[0] != "ip-feed" {
		t.Fatalf("expected pending delete of ip-feed, got %v", got)
	}
	entries := index.upserts["registered"]
	if len(entries) != 1 {
		t.Fatalf("expected one registered upsert, got %d", len(entries))
	}
	if entries[0].Metadata.StoryIPID != "0xipid" {
		t.Fatalf("registered metadata missing story IP id: %+v", entries[0].Metadata)
	}
}

func TestPromote_UnknownContentHashFails(t *testing.T) {
	engine := NewEngine(testConfig(), newFakeStore(), &fakeEmbedder{}, newFakeIndex(nil), nil, nil)
	if err := engine.Promote(context.Background(), "0xmissing", "0xipid"); err == nil {
		t.Fatalf("expected error for unknown content hash")
	}
}

// ─── Statistics ─────────────────────────────────────────────────────

func TestStatistics_TotalsAcrossStatuses(t *testing.T) {
	store := newFakeStore()
	store.counts = map[string]int{"clean": 3, "warning": 2, "blocked": 1}
	store.blocked = []models.EmbeddingRecord{{ContentHash: "0xbad"}}
	engine := NewEngine(testConfig(), store, &fakeEmbedder{}, newFakeIndex(nil), nil, nil)

	stats, err := engine.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Total != 6 {
		t.Fatalf("expected total 6, got %d", stats.Total)
	}
	if len(stats.RecentBlocked) != 1 {
		t.Fatalf("expected one recent blocked record")
	}
}
