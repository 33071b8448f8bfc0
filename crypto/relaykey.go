package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a relay signature does not recover to the
// expected operator.
var ErrBadSignature = errors.New("crypto: bad relay signature")

// RelayKey signs outbound payloads so the broadcaster can authenticate the
// daemon that produced them.
type RelayKey struct {
	key *ecdsa.PrivateKey
}

// GenerateRelayKey creates a fresh secp256k1 key.
func GenerateRelayKey() (*RelayKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &RelayKey{key: key}, nil
}

// RelayKeyFromBytes parses a raw 32-byte secp256k1 scalar.
func RelayKeyFromBytes(b []byte) (*RelayKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &RelayKey{key: key}, nil
}

// Bytes returns the raw private scalar.
func (k *RelayKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.key)
}

// Address is the hex operator address derived from the public key.
func (k *RelayKey) Address() string {
	return ethcrypto.PubkeyToAddress(k.key.PublicKey).Hex()
}

// Sign returns the hex recoverable signature over keccak256(payload).
func (k *RelayKey) Sign(payload []byte) (string, error) {
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256(payload), k.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign payload: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// VerifyRelaySignature checks that signature over payload was produced by
// the operator at address.
func VerifyRelaySignature(payload []byte, signature, address string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	pub, err := ethcrypto.SigToPub(ethcrypto.Keccak256(payload), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !strings.EqualFold(ethcrypto.PubkeyToAddress(*pub).Hex(), address) {
		return fmt.Errorf("%w: signer is not %s", ErrBadSignature, address)
	}
	return nil
}
