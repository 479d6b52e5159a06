package license

import (
	"context"
	"fmt"
	"log"

	"github.com/storymint/verification-engine/pkg/models"
)

// ValidationError rejects bad inputs before any database I/O.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Store is the slice of the persistence layer the cache owns.
type Store interface {
	FindLicenseTerms(ctx context.Context, licenseType string, royaltyPercent int) (string, bool, error)
	UpsertLicenseTerms(ctx context.Context, licenseType string, royaltyPercent int, termsID, txHash string) (bool, error)
}

// Cache deduplicates on-chain license-terms registrations. Registering
// terms on-chain is expensive and a (type, royalty) pair always resolves
// to the same termsId, so the first registration is recorded and every
// later request for the same pair is served from the table.
type Cache struct {
	store Store
}

func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

func validate(licenseType string, royaltyPercent int) error {
	if licenseType != models.LicenseCommercialRemix && licenseType != models.LicenseNonCommercial {
		return &ValidationError{Message: fmt.Sprintf("licenseType must be commercial_remix or non_commercial; got %q", licenseType)}
	}
	if royaltyPercent < 0 || royaltyPercent > 100 {
		return &ValidationError{Message: fmt.Sprintf("royaltyPercent must be within 0..100; got %d", royaltyPercent)}
	}
	return nil
}

// Find looks up a cached termsId by its composite key.
func (c *Cache) Find(ctx context.Context, licenseType string, royaltyPercent int) (termsID string, cached bool, err error) {
	if err := validate(licenseType, royaltyPercent); err != nil {
		return "", false, err
	}
	return c.store.FindLicenseTerms(ctx, licenseType, royaltyPercent)
}

// Put records a (type, royalty) → termsId mapping, updating the termsId
// and transaction hash atomically on conflict. Returns whether a new row
// was created.
func (c *Cache) Put(ctx context.Context, licenseType string, royaltyPercent int, termsID, txHash string) (created bool, err error) {
	if err := validate(licenseType, royaltyPercent); err != nil {
		return false, err
	}
	if termsID == "" {
		return false, &ValidationError{Message: "licenseTermsId is required"}
	}
	created, err = c.store.UpsertLicenseTerms(ctx, licenseType, royaltyPercent, termsID, txHash)
	if err != nil {
		return false, err
	}
	if created {
		log.Printf("[LicenseCache] Cached terms %s for (%s, %d%%)", termsID, licenseType, royaltyPercent)
	}
	return created, nil
}
