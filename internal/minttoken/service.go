package minttoken

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/storymint/verification-engine/internal/signer"
	"github.com/storymint/verification-engine/internal/similarity"
	"github.com/storymint/verification-engine/pkg/models"
)

// TokenTTL is the validity window of a mint authorization.
const TokenTTL = 900 * time.Second

// Store is the slice of the persistence layer the state machine owns.
// Every conditional method performs its transition atomically and reports
// whether this caller won it; lookups return (nil, nil) when no row exists.
type Store interface {
	NextNonce(ctx context.Context) (uint64, error)
	CreateMintAuthorization(ctx context.Context, a *models.MintAuthorization) error
	GetMintAuthorization(ctx context.Context, nonce uint64) (*models.MintAuthorization, error)
	FindMintedByContentHash(ctx context.Context, contentHash string) (*models.MintAuthorization, error)
	MarkUsed(ctx context.Context, nonce uint64, ipID, tokenID, txHash string, usedAt time.Time) (bool, error)
	MarkExpired(ctx context.Context, nonce uint64, now time.Time) (bool, error)
	FinalizeLicense(ctx context.Context, nonce uint64, lic models.LicenseSnapshot, attachedAt time.Time) (bool, error)
	RevokeMintAuthorization(ctx context.Context, nonce uint64, reason string, at time.Time) (bool, error)
}

// AdmissionChecker is the similarity engine as the state machine sees it.
type AdmissionChecker interface {
	CheckAndAdmit(ctx context.Context, req similarity.AdmitRequest) (*models.SimilarityResult, error)
	Promote(ctx context.Context, contentHash, storyIPID string) error
}

// Service is the mint-authorization state machine. All mutating operations
// are safe under concurrent invocation for the same nonce: the store's
// conditional updates linearize transitions, and losers observe the new
// state via a re-read.
type Service struct {
	store  Store
	signer *signer.Signer
	engine AdmissionChecker

	// now is a hook for tests; production uses time.Now.
	now func() time.Time
}

func NewService(store Store, sig *signer.Signer, engine AdmissionChecker) *Service {
	return &Service{
		store:  store,
		signer: sig,
		engine: engine,
		now:    time.Now,
	}
}

// ─── Issue ──────────────────────────────────────────────────────────

type IssueRequest struct {
	CreatorAddress string
	ContentHash    string
	IPMetadataURI  string
	NFTMetadataURI string
	AssetType      string
	SessionID      string
	FingerprintID  string
}

type IssueResult struct {
	Signature  string                   `json:"signature"`
	Nonce      uint64                   `json:"nonce"`
	ExpiresAt  time.Time                `json:"expiresAt"`
	ExpiresIn  int                      `json:"expiresIn"`
	Similarity *models.SimilarityResult `json:"similarity,omitempty"`
}

// Issue runs the admission pipeline and, if the content is not blocked,
// allocates a nonce, signs the packed message, and persists a new pending
// authorization.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if req.CreatorAddress == "" || req.ContentHash == "" || req.IPMetadataURI == "" ||
		req.NFTMetadataURI == "" || req.AssetType == "" {
		return nil, &ValidationError{Code: CodeInvalidInput,
			Message: "creatorAddress, contentHash, ipMetadataURI, nftMetadataURI and assetType are required"}
	}
	if !models.AssetTypes[req.AssetType] {
		return nil, &ValidationError{Code: CodeValidationError,
			Message: fmt.Sprintf("assetType must be one of video, image, audio, text; got %q", req.AssetType)}
	}
	creator, err := signer.ParseAddress(req.CreatorAddress)
	if err != nil {
		return nil, &ValidationError{Code: CodeValidationError, Message: err.Error()}
	}
	contentHash, err := signer.ParseHash(req.ContentHash)
	if err != nil {
		return nil, &ValidationError{Code: CodeValidationError, Message: err.Error()}
	}
	// The content hash is the identity key of the whole system: the dedup
	// guard, the embedding record and post-mint promotion are all keyed by
	// it. A client-supplied hash that does not match the URIs would sign
	// one identity and admit another.
	if contentHash != signer.ContentHash(req.IPMetadataURI, req.NFTMetadataURI) {
		return nil, &ValidationError{Code: CodeValidationError,
			Message: "contentHash does not match keccak256 of ipMetadataURI and nftMetadataURI"}
	}

	// Duplicate-content guard: a hash that already minted can never be
	// re-authorized. The prior mint details ride on the error so the
	// client can surface the existing asset.
	if prior, err := s.store.FindMintedByContentHash(ctx, contentHash.Hex()); err != nil {
		return nil, fmt.Errorf("duplicate-content lookup failed: %w", err)
	} else if prior != nil {
		return nil, &StateConflictError{
			Code:    CodeDuplicateContent,
			Status:  prior.Status,
			Message: "this content has already been minted",
			MintDetails: &models.MintDetails{
				IPID: prior.IPID, TokenID: prior.TokenID, TxHash: prior.TxHash, UsedAt: prior.UsedAt,
			},
		}
	}

	simResult, err := s.engine.CheckAndAdmit(ctx, similarity.AdmitRequest{
		IPMetadataURI:  req.IPMetadataURI,
		NFTMetadataURI: req.NFTMetadataURI,
		AssetType:      req.AssetType,
		CreatorAddress: creator.Hex(),
	})
	if err != nil {
		return nil, err
	}
	if simResult.Status == models.SimilarityBlocked {
		return nil, &BlockedError{Result: simResult}
	}

	nonce, err := s.store.NextNonce(ctx)
	if err != nil {
		return nil, err
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(TokenTTL)

	message, sig, err := s.signer.Sign(creator, contentHash, req.IPMetadataURI, req.NFTMetadataURI, nonce, expiresAt.Unix())
	if err != nil {
		return nil, err
	}

	auth := &models.MintAuthorization{
		Nonce:          nonce,
		CreatorAddress: creator.Hex(),
		ContentHash:    contentHash.Hex(),
		IPMetadataURI:  req.IPMetadataURI,
		NFTMetadataURI: req.NFTMetadataURI,
		AssetType:      req.AssetType,
		Message:        message.Hex(),
		Signature:      hexutil.Encode(sig),
		SessionID:      orPlaceholder(req.SessionID, "session"),
		FingerprintID:  orPlaceholder(req.FingerprintID, "fingerprint"),
		Status:         models.StatusPending,
		IssuedAt:       issuedAt,
		ExpiresAt:      expiresAt,
	}
	if err := s.store.CreateMintAuthorization(ctx, auth); err != nil {
		return nil, err
	}

	log.Printf("[MintToken] Issued nonce %d for %s (similarity %d%%, %s)",
		nonce, creator.Hex(), simResult.SimilarityScore, simResult.Status)

	return &IssueResult{
		Signature:  auth.Signature,
		Nonce:      nonce,
		ExpiresAt:  expiresAt,
		ExpiresIn:  int(TokenTTL.Seconds()),
		Similarity: simResult,
	}, nil
}

func orPlaceholder(v, kind string) string {
	if v != "" {
		return v
	}
	return kind + "-" + uuid.NewString()
}

// ─── Status ─────────────────────────────────────────────────────────

type StatusResult struct {
	Nonce            uint64              `json:"nonce"`
	Status           string              `json:"status"`
	IsExpired        bool                `json:"isExpired"`
	ExpiresAt        time.Time           `json:"expiresAt"`
	CreatedAt        time.Time           `json:"createdAt"`
	RemainingSeconds *int                `json:"remainingSeconds,omitempty"`
	MintDetails      *models.MintDetails `json:"mintDetails,omitempty"`
}

// Status reports the current state of an authorization, lazily expiring an
// overdue pending record before responding. The transition is idempotent
// against the background sweep.
func (s *Service) Status(ctx context.Context, nonce uint64) (*StatusResult, error) {
	auth, err := s.lazyExpire(ctx, nonce)
	if err != nil {
		return nil, err
	}

	res := &StatusResult{
		Nonce:     auth.Nonce,
		Status:    auth.Status,
		IsExpired: auth.Status == models.StatusExpired,
		ExpiresAt: auth.ExpiresAt,
		CreatedAt: auth.IssuedAt,
	}
	switch auth.Status {
	case models.StatusPending:
		remaining := int(auth.ExpiresAt.Sub(s.now()).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		res.RemainingSeconds = &remaining
	case models.StatusUsed, models.StatusRegistered:
		res.MintDetails = &models.MintDetails{
			IPID: auth.IPID, TokenID: auth.TokenID, TxHash: auth.TxHash, UsedAt: auth.UsedAt,
		}
	}
	return res, nil
}

// lazyExpire loads the record and applies the pending → expired transition
// when the deadline has passed (now == expiresAt counts as expired).
func (s *Service) lazyExpire(ctx context.Context, nonce uint64) (*models.MintAuthorization, error) {
	auth, err := s.store.GetMintAuthorization(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, &NotFoundError{Nonce: nonce}
	}
	now := s.now()
	if auth.Status == models.StatusPending && !now.Before(auth.ExpiresAt) {
		if _, err := s.store.MarkExpired(ctx, nonce, now); err != nil {
			return nil, err
		}
		auth.Status = models.StatusExpired
	}
	return auth, nil
}

// ─── Update (record the on-chain mint) ──────────────────────────────

type UpdateResult struct {
	Nonce  uint64    `json:"nonce"`
	Status string    `json:"status"`
	UsedAt time.Time `json:"usedAt"`
}

// Update transitions pending → used, recording the on-chain mint result.
// Exactly one concurrent caller wins; losers receive TOKEN_ALREADY_USED
// carrying the winner's fields. Promotion of the embedding into the
// registered corpus is best-effort: the on-chain mint has already
// happened, so a promotion failure never reverses the transition.
func (s *Service) Update(ctx context.Context, nonce uint64, ipID, tokenID, txHash string) (*UpdateResult, error) {
	if ipID == "" || tokenID == "" || txHash == "" {
		return nil, &ValidationError{Code: CodeInvalidInput, Message: "ipId, tokenId and txHash are required"}
	}

	// Lazy expiry first so an overdue pending token cannot be consumed.
	auth, err := s.lazyExpire(ctx, nonce)
	if err != nil {
		return nil, err
	}

	usedAt := s.now()
	ok, err := s.store.MarkUsed(ctx, nonce, ipID, tokenID, txHash, usedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.usedConflict(ctx, nonce)
	}

	if err := s.engine.Promote(ctx, auth.ContentHash, ipID); err != nil {
		log.Printf("[MintToken] Promotion after mint failed for nonce %d (non-critical): %v", nonce, err)
	}

	log.Printf("[MintToken] Nonce %d used: ipId=%s tokenId=%s", nonce, ipID, tokenID)
	return &UpdateResult{Nonce: nonce, Status: models.StatusUsed, UsedAt: usedAt}, nil
}

// usedConflict re-reads a record after a lost MarkUsed race and shapes the
// appropriate conflict error.
func (s *Service) usedConflict(ctx context.Context, nonce uint64) error {
	auth, err := s.store.GetMintAuthorization(ctx, nonce)
	if err != nil {
		return err
	}
	if auth == nil {
		return &NotFoundError{Nonce: nonce}
	}
	switch auth.Status {
	case models.StatusUsed, models.StatusRegistered:
		return &StateConflictError{
			Code:    CodeTokenAlreadyUsed,
			Status:  auth.Status,
			Message: "this mint token has already been used",
			MintDetails: &models.MintDetails{
				IPID: auth.IPID, TokenID: auth.TokenID, TxHash: auth.TxHash, UsedAt: auth.UsedAt,
			},
		}
	default:
		return &StateConflictError{
			Code:    CodeInvalidStatus,
			Status:  auth.Status,
			Message: fmt.Sprintf("mint token is %s and cannot be used", auth.Status),
		}
	}
}

// ─── Finalize (attach license terms) ────────────────────────────────

type FinalizeRequest struct {
	LicenseTermsID   string
	LicenseType      string
	RoyaltyPercent   int
	AllowDerivatives bool
	CommercialUse    bool
	LicenseTxHash    string
}

type FinalizeResult struct {
	Nonce   uint64                 `json:"nonce"`
	Status  string                 `json:"status"`
	IPID    string                 `json:"ipId"`
	License models.LicenseSnapshot `json:"license"`
}

// Finalize transitions used → registered, attaching the license terms that
// were registered on-chain.
func (s *Service) Finalize(ctx context.Context, nonce uint64, req FinalizeRequest) (*FinalizeResult, error) {
	if req.LicenseTermsID == "" {
		return nil, &ValidationError{Code: CodeInvalidInput, Message: "licenseTermsId is required"}
	}
	if req.LicenseType != models.LicenseCommercialRemix && req.LicenseType != models.LicenseNonCommercial {
		return nil, &ValidationError{Code: CodeValidationError,
			Message: fmt.Sprintf("licenseType must be commercial_remix or non_commercial; got %q", req.LicenseType)}
	}
	if req.RoyaltyPercent < 0 || req.RoyaltyPercent > 100 {
		return nil, &ValidationError{Code: CodeValidationError,
			Message: fmt.Sprintf("royaltyPercent must be within 0..100; got %d", req.RoyaltyPercent)}
	}
	if req.LicenseType == models.LicenseNonCommercial && req.RoyaltyPercent != 0 {
		return nil, &ValidationError{Code: CodeValidationError,
			Message: "non_commercial license must have royaltyPercent 0"}
	}

	lic := models.LicenseSnapshot{
		LicenseTermsID:   req.LicenseTermsID,
		LicenseType:      req.LicenseType,
		RoyaltyPercent:   req.RoyaltyPercent,
		AllowDerivatives: req.AllowDerivatives,
		CommercialUse:    req.CommercialUse,
		LicenseTxHash:    req.LicenseTxHash,
	}
	ok, err := s.store.FinalizeLicense(ctx, nonce, lic, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.finalizeConflict(ctx, nonce)
	}

	auth, err := s.store.GetMintAuthorization(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, &NotFoundError{Nonce: nonce}
	}

	log.Printf("[MintToken] Nonce %d registered with license %s (%s, %d%%)",
		nonce, req.LicenseTermsID, req.LicenseType, req.RoyaltyPercent)
	return &FinalizeResult{Nonce: nonce, Status: models.StatusRegistered, IPID: auth.IPID, License: lic}, nil
}

func (s *Service) finalizeConflict(ctx context.Context, nonce uint64) error {
	auth, err := s.store.GetMintAuthorization(ctx, nonce)
	if err != nil {
		return err
	}
	if auth == nil {
		return &NotFoundError{Nonce: nonce}
	}
	if auth.Status == models.StatusRegistered {
		royalty := 0
		if auth.RoyaltyPercent != nil {
			royalty = *auth.RoyaltyPercent
		}
		return &StateConflictError{
			Code:    CodeAlreadyFinalized,
			Status:  auth.Status,
			Message: "license terms have already been attached",
			IPID:    auth.IPID,
			License: &models.LicenseSnapshot{
				LicenseTermsID:   auth.LicenseTermsID,
				LicenseType:      auth.LicenseType,
				RoyaltyPercent:   royalty,
				AllowDerivatives: auth.AllowDerivatives != nil && *auth.AllowDerivatives,
				CommercialUse:    auth.CommercialUse != nil && *auth.CommercialUse,
				LicenseTxHash:    auth.LicenseTxHash,
			},
		}
	}
	return &StateConflictError{
		Code:    CodeInvalidStatus,
		Status:  auth.Status,
		Message: fmt.Sprintf("mint token is %s; only used tokens can be finalized", auth.Status),
	}
}

// ─── Revoke ─────────────────────────────────────────────────────────

type RevokeResult struct {
	Nonce     uint64    `json:"nonce"`
	RevokedAt time.Time `json:"revokedAt"`
	Reason    string    `json:"reason"`
}

// Revoke transitions pending → revoked.
func (s *Service) Revoke(ctx context.Context, nonce uint64, reason string) (*RevokeResult, error) {
	if reason == "" {
		reason = "No reason provided."
	}

	if _, err := s.lazyExpire(ctx, nonce); err != nil {
		return nil, err
	}

	revokedAt := s.now()
	ok, err := s.store.RevokeMintAuthorization(ctx, nonce, reason, revokedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		auth, err := s.store.GetMintAuthorization(ctx, nonce)
		if err != nil {
			return nil, err
		}
		if auth == nil {
			return nil, &NotFoundError{Nonce: nonce}
		}
		return nil, &StateConflictError{
			Code:    CodeInvalidStatus,
			Status:  auth.Status,
			Message: fmt.Sprintf("mint token is %s; only pending tokens can be revoked", auth.Status),
		}
	}

	log.Printf("[MintToken] Nonce %d revoked: %s", nonce, reason)
	return &RevokeResult{Nonce: nonce, RevokedAt: revokedAt, Reason: reason}, nil
}
