// Package attest signs published recommendation sets so downstream
// consumers can verify that a set really came from this engine and was not
// altered in transit.
package attest

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/strategy-advisor/internal/model"
)

// SignedSet wraps a recommendation set with its signature envelope.
type SignedSet struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	PublicKey string          `json:"public_key"`
	SignedAt  int64           `json:"signed_at"`
}

// Signer produces keccak256+secp256k1 signatures over recommendation sets.
type Signer struct {
	key              *ecdsa.PrivateKey
	publicKeyEncoded string
}

// NewSigner generates a fresh signing key for this process lifetime.
func NewSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	pub := hex.EncodeToString(crypto.FromECDSAPub(&key.PublicKey))
	logrus.WithField("public_key", pub[:16]+"...").Info("recommendation signer initialized")
	return &Signer{key: key, publicKeyEncoded: pub}, nil
}

// PublicKey returns the hex-encoded public key for out-of-band distribution.
func (s *Signer) PublicKey() string {
	return s.publicKeyEncoded
}

// Sign serializes the set and signs its keccak256 digest.
func (s *Signer) Sign(set model.RecommendationSet) (SignedSet, error) {
	payload, err := json.Marshal(set)
	if err != nil {
		return SignedSet{}, fmt.Errorf("encode set %s: %w", set.SetID, err)
	}

	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return SignedSet{}, fmt.Errorf("sign set %s: %w", set.SetID, err)
	}

	return SignedSet{
		Payload:   payload,
		Signature: hex.EncodeToString(sig),
		PublicKey: s.publicKeyEncoded,
		SignedAt:  time.Now().Unix(),
	}, nil
}

// Verify checks a signed set against its embedded public key.
func Verify(signed SignedSet) (bool, error) {
	sig, err := hex.DecodeString(signed.Signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	pub, err := hex.DecodeString(signed.PublicKey)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("signature has unexpected length %d", len(sig))
	}

	digest := crypto.Keccak256(signed.Payload)
	// Drop the recovery byte; VerifySignature expects a 64-byte signature.
	return crypto.VerifySignature(pub, digest, sig[:64]), nil
}
