package models

import "time"

// Mint authorization lifecycle states. A record is created as pending and
// only ever moves forward: pending → used → registered, or pending →
// expired / revoked. No other edges exist.
const (
	StatusPending    = "pending"
	StatusUsed       = "used"
	StatusRegistered = "registered"
	StatusExpired    = "expired"
	StatusRevoked    = "revoked"
)

// Similarity verdicts returned by the admission pipeline.
const (
	SimilarityClean   = "CLEAN"
	SimilarityWarning = "WARNING"
	SimilarityBlocked = "BLOCKED"
)

// Supported asset types for embedding generation.
var AssetTypes = map[string]bool{
	"video": true,
	"image": true,
	"audio": true,
	"text":  true,
}

// License types accepted by the finalize step and the license-terms cache.
const (
	LicenseCommercialRemix = "commercial_remix"
	LicenseNonCommercial   = "non_commercial"
)

// MintAuthorization is the central record of the verification engine: a
// short-lived, single-use signed permission that the on-chain contract
// verifies before minting.
type MintAuthorization struct {
	Nonce          uint64 `json:"nonce"`
	CreatorAddress string `json:"creatorAddress"` // 0x-prefixed 20-byte hex
	ContentHash    string `json:"contentHash"`    // 0x-prefixed 32-byte hex
	IPMetadataURI  string `json:"ipMetadataUri"`
	NFTMetadataURI string `json:"nftMetadataUri"`
	AssetType      string `json:"assetType"`

	Message   string `json:"message"`   // 32-byte digest, hex
	Signature string `json:"signature"` // 65-byte ECDSA, hex

	SessionID     string `json:"sessionId"`
	FingerprintID string `json:"fingerprintId"`

	Status    string    `json:"status"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	// Set when the record transitions to used.
	IPID    string     `json:"ipId,omitempty"`
	TokenID string     `json:"tokenId,omitempty"`
	TxHash  string     `json:"txHash,omitempty"`
	UsedAt  *time.Time `json:"usedAt,omitempty"`

	// Set when the record transitions to registered.
	LicenseTermsID    string     `json:"licenseTermsId,omitempty"`
	LicenseType       string     `json:"licenseType,omitempty"`
	RoyaltyPercent    *int       `json:"royaltyPercent,omitempty"`
	AllowDerivatives  *bool      `json:"allowDerivatives,omitempty"`
	CommercialUse     *bool      `json:"commercialUse,omitempty"`
	LicenseTxHash     string     `json:"licenseTxHash,omitempty"`
	LicenseAttachedAt *time.Time `json:"licenseAttachedAt,omitempty"`

	// Set when the record transitions to revoked.
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	RevokedReason string     `json:"revokedReason,omitempty"`
}

// MintDetails is the post-mint snapshot returned by status/update conflicts.
type MintDetails struct {
	IPID    string     `json:"ipId"`
	TokenID string     `json:"tokenId"`
	TxHash  string     `json:"txHash"`
	UsedAt  *time.Time `json:"usedAt,omitempty"`
}

// LicenseSnapshot is the finalized license payload attached to a registered
// authorization.
type LicenseSnapshot struct {
	LicenseTermsID   string `json:"licenseTermsId"`
	LicenseType      string `json:"licenseType"`
	RoyaltyPercent   int    `json:"royaltyPercent"`
	AllowDerivatives bool   `json:"allowDerivatives"`
	CommercialUse    bool   `json:"commercialUse"`
	LicenseTxHash    string `json:"licenseTxHash,omitempty"`
}

// EmbeddingRecord is the durable fingerprint of one admitted asset.
type EmbeddingRecord struct {
	ContentHash         string    `json:"contentHash"`
	VectorID            string    `json:"vectorId"`
	EmbeddingVector     []float32 `json:"-"` // not serialized on the API surface
	AssetType           string    `json:"assetType"`
	CreatorAddress      string    `json:"creatorAddress"`
	IPMetadataURI       string    `json:"ipMetadataUri"`
	NFTMetadataURI      string    `json:"nftMetadataUri"`
	EmbeddingModel      string    `json:"embeddingModel"`
	FramesExtracted     int       `json:"framesExtracted,omitempty"`
	SimilarityStatus    string    `json:"similarityStatus"` // clean | warning | blocked | pending-review
	TopMatchScore       int       `json:"topMatchScore"`
	TopMatchContentHash string    `json:"topMatchContentHash,omitempty"`
	StoryIPID           string    `json:"storyIpId,omitempty"`
	ReviewNotes         string    `json:"reviewNotes,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// VectorMatch is one approximate-nearest-neighbor hit from the index,
// already projected into the integer percent scale used everywhere
// downstream.
type VectorMatch struct {
	VectorID       string `json:"vectorId"`
	Score          int    `json:"score"` // round(100 * cosine)
	ContentHash    string `json:"contentHash"`
	AssetType      string `json:"assetType,omitempty"`
	CreatorAddress string `json:"creatorAddress,omitempty"`
	StoryIPID      string `json:"storyIpId,omitempty"`
	IPMetadataURI  string `json:"ipMetadataUri,omitempty"`
}

// LLMAnalysis is the adjudicator's structured second opinion on the top
// match. It is advisory: it never overrides the threshold verdict.
type LLMAnalysis struct {
	Summary             string `json:"summary"`
	SimilarityReasoning string `json:"similarity_reasoning"`
	IsDerivative        bool   `json:"is_derivative"`
	ConfidenceScore     int    `json:"confidence_score"` // 0..100
	Recommendation      string `json:"recommendation"`   // approve | warn | block
	DetailedComparison  string `json:"detailed_comparison"`
	Fallback            bool   `json:"fallback,omitempty"`
}

// SimilarityResult is the admission pipeline output for one asset.
type SimilarityResult struct {
	Status          string        `json:"status"` // CLEAN | WARNING | BLOCKED
	SimilarityScore int           `json:"similarityScore"`
	TopMatch        *VectorMatch  `json:"topMatch,omitempty"`
	Matches         []VectorMatch `json:"matches"`
	Message         string        `json:"message"`
	LLMAnalysis     *LLMAnalysis  `json:"llmAnalysis,omitempty"`
}

// SimilarityStats is the moderation snapshot served by the stats endpoint.
type SimilarityStats struct {
	Total         int               `json:"total"`
	ByStatus      map[string]int    `json:"byStatus"`
	RecentBlocked []EmbeddingRecord `json:"recentBlocked"`
}
