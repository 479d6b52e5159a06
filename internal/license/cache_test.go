package license

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/storymint/verification-engine/pkg/models"
)

type fakeStore struct {
	entries map[string]string // "type/royalty" → termsId
	finds   int
	upserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]string)}
}

func key(licenseType string, royalty int) string {
	return fmt.Sprintf("%s/%d", licenseType, royalty)
}

func (f *fakeStore) FindLicenseTerms(_ context.Context, licenseType string, royaltyPercent int) (string, bool, error) {
	f.finds++
	id, ok := f.entries[key(licenseType, royaltyPercent)]
	return id, ok, nil
}

func (f *fakeStore) UpsertLicenseTerms(_ context.Context, licenseType string, royaltyPercent int, termsID, _ string) (bool, error) {
	f.upserts++
	k := key(licenseType, royaltyPercent)
	_, existed := f.entries[k]
	f.entries[k] = termsID
	return !existed, nil
}

func TestFind_ValidatesBeforeIO(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)

	cases := []struct {
		licenseType string
		royalty     int
	}{
		{"public_domain", 0},
		{models.LicenseCommercialRemix, -1},
		{models.LicenseCommercialRemix, 101},
	}
	for _, c := range cases {
		_, _, err := cache.Find(context.Background(), c.licenseType, c.royalty)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("(%s, %d): expected ValidationError, got %v", c.licenseType, c.royalty, err)
		}
	}
	if store.finds != 0 {
		t.Fatalf("invalid input must not reach the store")
	}
}

func TestFind_MissThenHit(t *testing.T) {
	store := newFakeStore()
	cache := NewCache(store)

	_, cached, err := cache.Find(context.Background(), models.LicenseCommercialRemix, 10)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if cached {
		t.Fatalf("expected miss on empty cache")
	}

	if _, err := cache.Put(context.Background(), models.LicenseCommercialRemix, 10, "terms-1", "0xtx"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	termsID, cached, err := cache.Find(context.Background(), models.LicenseCommercialRemix, 10)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !cached || termsID != "terms-1" {
		t.Fatalf("expected hit with terms-1, got cached=%v id=%q", cached, termsID)
	}
}

func TestPut_RequiresTermsID(t *testing.T) {
	cache := NewCache(newFakeStore())
	_, err := cache.Put(context.Background(), models.LicenseNonCommercial, 0, "", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for empty termsId, got %v", err)
	}
}

func TestPut_CreatedOnlyOnFirstWrite(t *testing.T) {
	cache := NewCache(newFakeStore())

	created, err := cache.Put(context.Background(), models.LicenseNonCommercial, 0, "terms-nc", "0xtx1")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !created {
		t.Fatalf("first write must report created")
	}

	created, err = cache.Put(context.Background(), models.LicenseNonCommercial, 0, "terms-nc2", "0xtx2")
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if created {
		t.Fatalf("second write must report updated, not created")
	}
}
