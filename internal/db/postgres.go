package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/storymint/verification-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside the runtime image without shipping the .sql file alongside it.
//
//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// nonceCounterID is the single keyed counter row backing nonce allocation.
const nonceCounterID = "mint_token_nonce"

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Verification Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Verification Engine schema initialized")
	return nil
}

// Ping reports database reachability for the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ─── Nonce allocation ───────────────────────────────────────────────

// NextNonce atomically increments the counter row and returns the
// post-increment value. The upsert-returning statement is the single
// linearization point for nonce allocation; callers never observe gaps.
func (s *PostgresStore) NextNonce(ctx context.Context) (uint64, error) {
	sql := `
		INSERT INTO nonce_counter (id, seq) VALUES ($1, 1)
		ON CONFLICT (id) DO UPDATE SET seq = nonce_counter.seq + 1
		RETURNING seq;
	`
	var seq int64
	if err := s.pool.QueryRow(ctx, sql, nonceCounterID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to allocate nonce: %v", err)
	}
	return uint64(seq), nil
}

// ─── Mint authorizations ────────────────────────────────────────────

const mintAuthColumns = `
	nonce, creator_address, content_hash, ip_metadata_uri, nft_metadata_uri,
	asset_type, message, signature, session_id, fingerprint_id, status,
	issued_at, expires_at, ip_id, token_id, tx_hash, used_at,
	license_terms_id, license_type, royalty_percent, allow_derivatives,
	commercial_use, license_tx_hash, license_attached_at,
	revoked_at, revoked_reason`

func scanMintAuth(row pgx.Row) (*models.MintAuthorization, error) {
	var (
		a         models.MintAuthorization
		nonce     int64
		ipID      *string
		tokenID   *string
		txHash    *string
		termsID   *string
		licType   *string
		licTxHash *string
		reason    *string
	)
	err := row.Scan(
		&nonce, &a.CreatorAddress, &a.ContentHash, &a.IPMetadataURI, &a.NFTMetadataURI,
		&a.AssetType, &a.Message, &a.Signature, &a.SessionID, &a.FingerprintID, &a.Status,
		&a.IssuedAt, &a.ExpiresAt, &ipID, &tokenID, &txHash, &a.UsedAt,
		&termsID, &licType, &a.RoyaltyPercent, &a.AllowDerivatives,
		&a.CommercialUse, &licTxHash, &a.LicenseAttachedAt,
		&a.RevokedAt, &reason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Nonce = uint64(nonce)
	a.IPID = deref(ipID)
	a.TokenID = deref(tokenID)
	a.TxHash = deref(txHash)
	a.LicenseTermsID = deref(termsID)
	a.LicenseType = deref(licType)
	a.LicenseTxHash = deref(licTxHash)
	a.RevokedReason = deref(reason)
	return &a, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateMintAuthorization inserts a freshly issued pending record.
func (s *PostgresStore) CreateMintAuthorization(ctx context.Context, a *models.MintAuthorization) error {
	sql := `
		INSERT INTO mint_authorizations
			(nonce, creator_address, content_hash, ip_metadata_uri, nft_metadata_uri,
			 asset_type, message, signature, session_id, fingerprint_id, status,
			 issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
	`
	_, err := s.pool.Exec(ctx, sql,
		int64(a.Nonce), a.CreatorAddress, a.ContentHash, a.IPMetadataURI, a.NFTMetadataURI,
		a.AssetType, a.Message, a.Signature, a.SessionID, a.FingerprintID, a.Status,
		a.IssuedAt, a.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert mint authorization: %v", err)
	}
	return nil
}

// GetMintAuthorization loads a record by nonce, or (nil, nil) when absent.
func (s *PostgresStore) GetMintAuthorization(ctx context.Context, nonce uint64) (*models.MintAuthorization, error) {
	sql := `SELECT ` + mintAuthColumns + ` FROM mint_authorizations WHERE nonce = $1;`
	a, err := scanMintAuth(s.pool.QueryRow(ctx, sql, int64(nonce)))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// FindMintedByContentHash returns the used|registered record for a content
// hash, or (nil, nil) when the content has not been minted.
func (s *PostgresStore) FindMintedByContentHash(ctx context.Context, contentHash string) (*models.MintAuthorization, error) {
	sql := `SELECT ` + mintAuthColumns + `
		FROM mint_authorizations
		WHERE content_hash = $1 AND status IN ('used', 'registered')
		LIMIT 1;`
	a, err := scanMintAuth(s.pool.QueryRow(ctx, sql, contentHash))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// MarkUsed transitions pending → used, recording the mint details. The
// WHERE clause makes the transition conditional: a false return means the
// record was not pending, so the caller lost the race or the transition was
// illegal, and must re-read the row to see the winner's state.
func (s *PostgresStore) MarkUsed(ctx context.Context, nonce uint64, ipID, tokenID, txHash string, usedAt time.Time) (bool, error) {
	sql := `
		UPDATE mint_authorizations
		SET status = 'used', ip_id = $2, token_id = $3, tx_hash = $4, used_at = $5
		WHERE nonce = $1 AND status = 'pending';
	`
	tag, err := s.pool.Exec(ctx, sql, int64(nonce), ipID, tokenID, txHash, usedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkExpired lazily transitions a single overdue pending record to expired.
// Idempotent: a record already expired by the sweep is simply not matched.
func (s *PostgresStore) MarkExpired(ctx context.Context, nonce uint64, now time.Time) (bool, error) {
	sql := `
		UPDATE mint_authorizations
		SET status = 'expired'
		WHERE nonce = $1 AND status = 'pending' AND expires_at <= $2;
	`
	tag, err := s.pool.Exec(ctx, sql, int64(nonce), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeLicense transitions used → registered, attaching the license
// snapshot. Conditional on status = used.
func (s *PostgresStore) FinalizeLicense(ctx context.Context, nonce uint64, lic models.LicenseSnapshot, attachedAt time.Time) (bool, error) {
	sql := `
		UPDATE mint_authorizations
		SET status = 'registered',
		    license_terms_id = $2, license_type = $3, royalty_percent = $4,
		    allow_derivatives = $5, commercial_use = $6, license_tx_hash = $7,
		    license_attached_at = $8
		WHERE nonce = $1 AND status = 'used';
	`
	tag, err := s.pool.Exec(ctx, sql, int64(nonce),
		lic.LicenseTermsID, lic.LicenseType, lic.RoyaltyPercent,
		lic.AllowDerivatives, lic.CommercialUse, nullable(lic.LicenseTxHash), attachedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeMintAuthorization transitions pending → revoked.
func (s *PostgresStore) RevokeMintAuthorization(ctx context.Context, nonce uint64, reason string, at time.Time) (bool, error) {
	sql := `
		UPDATE mint_authorizations
		SET status = 'revoked', revoked_at = $2, revoked_reason = $3
		WHERE nonce = $1 AND status = 'pending';
	`
	tag, err := s.pool.Exec(ctx, sql, int64(nonce), at, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireStale bulk-transitions every overdue pending record to expired and
// returns the number of rows touched. Re-running the sweep is a no-op.
func (s *PostgresStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	sql := `
		UPDATE mint_authorizations
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1;
	`
	tag, err := s.pool.Exec(ctx, sql, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ─── Embedding records ──────────────────────────────────────────────

// CreateEmbeddingRecord persists the fingerprint of a newly admitted asset.
// The content_hash primary key makes double-admission impossible.
func (s *PostgresStore) CreateEmbeddingRecord(ctx context.Context, r *models.EmbeddingRecord) error {
	sql := `
		INSERT INTO embedding_records
			(content_hash, vector_id, embedding_vector, asset_type, creator_address,
			 ip_metadata_uri, nft_metadata_uri, embedding_model, frames_extracted,
			 similarity_status, top_match_score, top_match_content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`
	_, err := s.pool.Exec(ctx, sql,
		r.ContentHash, r.VectorID, r.EmbeddingVector, r.AssetType, r.CreatorAddress,
		r.IPMetadataURI, r.NFTMetadataURI, r.EmbeddingModel, r.FramesExtracted,
		r.SimilarityStatus, r.TopMatchScore, nullable(r.TopMatchContentHash),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding record: %v", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetEmbeddingByContentHash returns the record, or (nil, nil) when absent.
func (s *PostgresStore) GetEmbeddingByContentHash(ctx context.Context, contentHash string) (*models.EmbeddingRecord, error) {
	sql := `
		SELECT content_hash, vector_id, embedding_vector, asset_type, creator_address,
		       ip_metadata_uri, nft_metadata_uri, embedding_model, frames_extracted,
		       similarity_status, top_match_score, top_match_content_hash,
		       story_ip_id, review_notes, created_at
		FROM embedding_records WHERE content_hash = $1;
	`
	r, err := scanEmbedding(s.pool.QueryRow(ctx, sql, contentHash))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func scanEmbedding(row pgx.Row) (*models.EmbeddingRecord, error) {
	var (
		r        models.EmbeddingRecord
		topMatch *string
		storyID  *string
		notes    *string
	)
	err := row.Scan(
		&r.ContentHash, &r.VectorID, &r.EmbeddingVector, &r.AssetType, &r.CreatorAddress,
		&r.IPMetadataURI, &r.NFTMetadataURI, &r.EmbeddingModel, &r.FramesExtracted,
		&r.SimilarityStatus, &r.TopMatchScore, &topMatch,
		&storyID, &notes, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.TopMatchContentHash = deref(topMatch)
	r.StoryIPID = deref(storyID)
	r.ReviewNotes = deref(notes)
	return &r, nil
}

// PromoteEmbedding records the on-chain IP id and clears the similarity
// status after a successful mint.
func (s *PostgresStore) PromoteEmbedding(ctx context.Context, contentHash, storyIPID string) (bool, error) {
	sql := `
		UPDATE embedding_records
		SET story_ip_id = $2, similarity_status = 'clean'
		WHERE content_hash = $1;
	`
	tag, err := s.pool.Exec(ctx, sql, contentHash, storyIPID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// EmbeddingStatusCounts returns admission counts grouped by status.
func (s *PostgresStore) EmbeddingStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT similarity_status, COUNT(*) FROM embedding_records GROUP BY similarity_status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RecentBlocked returns the most recent blocked admissions, newest first.
func (s *PostgresStore) RecentBlocked(ctx context.Context, limit int) ([]models.EmbeddingRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	sql := `
		SELECT content_hash, vector_id, embedding_vector, asset_type, creator_address,
		       ip_metadata_uri, nft_metadata_uri, embedding_model, frames_extracted,
		       similarity_status, top_match_score, top_match_content_hash,
		       story_ip_id, review_notes, created_at
		FROM embedding_records
		WHERE similarity_status = 'blocked'
		ORDER BY created_at DESC
		LIMIT $1;
	`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.EmbeddingRecord, 0)
	for rows.Next() {
		r, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// ─── License-terms cache ────────────────────────────────────────────

// FindLicenseTerms looks up a cached termsId by its composite key.
func (s *PostgresStore) FindLicenseTerms(ctx context.Context, licenseType string, royaltyPercent int) (string, bool, error) {
	var termsID string
	err := s.pool.QueryRow(ctx,
		`SELECT license_terms_id FROM license_terms_cache WHERE license_type = $1 AND royalty_percent = $2;`,
		licenseType, royaltyPercent).Scan(&termsID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return termsID, true, nil
}

// UpsertLicenseTerms records a (type, royalty) → termsId mapping, updating
// it atomically on conflict. The xmax trick distinguishes a fresh insert
// from an update of an existing row.
func (s *PostgresStore) UpsertLicenseTerms(ctx context.Context, licenseType string, royaltyPercent int, termsID, txHash string) (bool, error) {
	sql := `
		INSERT INTO license_terms_cache (license_type, royalty_percent, license_terms_id, transaction_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (license_type, royalty_percent) DO UPDATE SET
			license_terms_id = EXCLUDED.license_terms_id,
			transaction_hash = COALESCE(EXCLUDED.transaction_hash, license_terms_cache.transaction_hash),
			updated_at = NOW()
		RETURNING (xmax = 0) AS created;
	`
	var created bool
	if err := s.pool.QueryRow(ctx, sql, licenseType, royaltyPercent, termsID, nullable(txHash)).Scan(&created); err != nil {
		return false, fmt.Errorf("failed to upsert license terms: %v", err)
	}
	return created, nil
}
