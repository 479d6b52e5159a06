package signer

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Throwaway key for tests only.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("failed to load test key: %v", err)
	}
	return s
}

func TestNew_RejectsEmptyAndMalformedKeys(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := New("not-hex"); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}

func TestNew_AcceptsKeyWithHexPrefix(t *testing.T) {
	plain := newTestSigner(t)
	prefixed, err := New("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("failed to load 0x-prefixed key: %v", err)
	}
	if plain.Address() != prefixed.Address() {
		t.Fatalf("prefix handling changed derived address: %s vs %s",
			plain.Address().Hex(), prefixed.Address().Hex())
	}
}

func TestMessageDigest_Deterministic(t *testing.T) {
	creator := common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	contentHash := ContentHash("ipfs://ip-meta", "ipfs://nft-meta")

	a := MessageDigest(creator, contentHash, "ipfs://ip-meta", "ipfs://nft-meta", 7, 1700000900)
	b := MessageDigest(creator, contentHash, "ipfs://ip-meta", "ipfs://nft-meta", 7, 1700000900)
	if a != b {
		t.Fatalf("digest not deterministic: %s vs %s", a.Hex(), b.Hex())
	}

	// Every field must perturb the digest.
	if MessageDigest(creator, contentHash, "ipfs://ip-meta", "ipfs://nft-meta", 8, 1700000900) == a {
		t.Fatalf("nonce change did not change digest")
	}
	if MessageDigest(creator, contentHash, "ipfs://ip-meta", "ipfs://nft-meta", 7, 1700000901) == a {
		t.Fatalf("expiry change did not change digest")
	}
	if MessageDigest(creator, contentHash, "ipfs://other", "ipfs://nft-meta", 7, 1700000900) == a {
		t.Fatalf("ipURI change did not change digest")
	}
}

func TestSign_ProducesRecoverableSignature(t *testing.T) {
	s := newTestSigner(t)
	creator := common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	contentHash := ContentHash("ipfs://ip-meta", "ipfs://nft-meta")

	message, sig, err := s.Sign(creator, contentHash, "ipfs://ip-meta", "ipfs://nft-meta", 42, 1700000900)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Fatalf("expected V in {27,28}, got %d", v)
	}

	// Undo the on-chain V offset and recover the signer.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	recSig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(message.Bytes()), recSig)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != s.Address() {
		t.Fatalf("recovered %s, want verifier %s", got.Hex(), s.Address().Hex())
	}
}

func TestContentHash_DependsOnBothURIs(t *testing.T) {
	a := ContentHash("ipfs://ip", "ipfs://nft")
	if a != ContentHash("ipfs://ip", "ipfs://nft") {
		t.Fatalf("content hash not deterministic")
	}
	if a == ContentHash("ipfs://ip2", "ipfs://nft") {
		t.Fatalf("ip URI change did not change content hash")
	}
	if a == ContentHash("ipfs://ip", "ipfs://nft2") {
		t.Fatalf("nft URI change did not change content hash")
	}
}

func TestParseAddress_Validation(t *testing.T) {
	if _, err := ParseAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72"); err != nil {
		t.Fatalf("valid address rejected: %v", err)
	}
	for _, bad := range []string{"", "0x1234", "8ba1f109551bD432803012645Ac136ddd64DBA72zz"} {
		if _, err := ParseAddress(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseHash_Validation(t *testing.T) {
	valid := ContentHash("a", "b").Hex()
	if _, err := ParseHash(valid); err != nil {
		t.Fatalf("valid hash rejected: %v", err)
	}
	for _, bad := range []string{"", "0x12", valid + "00", valid[2:]} {
		if _, err := ParseHash(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
