package signer

import (
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces the mint-authorization signature the on-chain verifier
// contract checks before minting. The message layout is bit-exact with the
// contract: keccak256 of the packed tuple
//
//	(address creator, bytes32 contentHash, bytes32 keccak(ipURI),
//	 bytes32 keccak(nftURI), uint256 nonce, uint256 expiresAt)
//
// signed over the standard Ethereum personal-message prefix. The key is
// loaded once at startup and held immutable; Signer is safe for concurrent
// use.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// New loads the backend verifier key from its hex encoding. An absent or
// malformed key is fatal for the caller: the engine must not start without
// the ability to authorize mints.
func New(privateKeyHex string) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("backend verifier private key is not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend verifier private key: %w", err)
	}
	s := &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
	log.Printf("[Signer] Verifier address: %s", s.address.Hex())
	return s, nil
}

// Address returns the verifier address derived from the backend key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign computes the packed digest and its personal-sign ECDSA signature.
// Callers pass the raw metadata URIs; Sign hashes them itself so unhashed
// strings never enter the packed tuple.
func (s *Signer) Sign(creator common.Address, contentHash common.Hash, ipURI, nftURI string, nonce uint64, expiresAt int64) (message common.Hash, signature []byte, err error) {
	message = MessageDigest(creator, contentHash, ipURI, nftURI, nonce, expiresAt)

	// The contract verifies via ECDSA.recover over the prefixed digest, so
	// the prefix is applied here rather than by the transport layer.
	sig, err := crypto.Sign(accounts.TextHash(message.Bytes()), s.privateKey)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to sign mint authorization: %w", err)
	}

	// crypto.Sign returns V in {0,1}; on-chain ecrecover expects {27,28}.
	sig[64] += 27
	return message, sig, nil
}

// MessageDigest computes keccak256 over the abi.encodePacked layout used by
// the verifier contract: 20-byte address, three 32-byte hashes, and two
// left-padded uint256 values.
func MessageDigest(creator common.Address, contentHash common.Hash, ipURI, nftURI string, nonce uint64, expiresAt int64) common.Hash {
	packed := make([]byte, 0, 20+32*5)
	packed = append(packed, creator.Bytes()...)
	packed = append(packed, contentHash.Bytes()...)
	packed = append(packed, crypto.Keccak256([]byte(ipURI))...)
	packed = append(packed, crypto.Keccak256([]byte(nftURI))...)
	packed = append(packed, common.LeftPadBytes(new(big.Int).SetUint64(nonce).Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(new(big.Int).SetInt64(expiresAt).Bytes(), 32)...)
	return crypto.Keccak256Hash(packed)
}

// ContentHash derives the content-identity key of an asset: keccak256 of
// the concatenated UTF-8 bytes of the IP and NFT metadata URIs.
func ContentHash(ipURI, nftURI string) common.Hash {
	return crypto.Keccak256Hash([]byte(ipURI), []byte(nftURI))
}

// ParseAddress validates and normalizes a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash validates a 0x-prefixed 32-byte hex string.
func ParseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != 32 {
		return common.Hash{}, fmt.Errorf("invalid 32-byte hash: %q", s)
	}
	return common.BytesToHash(b), nil
}
