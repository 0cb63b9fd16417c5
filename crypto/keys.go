// Package crypto holds the chain's ed25519 keys, signatures, content hashes
// and the signed-randomness scheme lottery draws are built on.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidKey is returned for keys of the wrong encoding or size.
var ErrInvalidKey = errors.New("invalid key")

// addressLen is the byte length of the short display address.
const addressLen = 20

// PrivateKey is an ed25519 private key. Accounts on chain are identified by
// the hex of the matching PublicKey.
type PrivateKey []byte

// PublicKey is an ed25519 public key.
type PublicKey []byte

// GenerateKeyPair generates a new ed25519 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// NewPrivateKey checks that b has the size of an ed25519 private key.
func NewPrivateKey(b []byte) (PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes, want %d", ErrInvalidKey, len(b), ed25519.PrivateKeySize)
	}
	return PrivateKey(b), nil
}

// Public derives the public key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// Hex is the account identifier used in transactions, balances and lottery
// authority fields.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub)
}

// Address is a short form for display in keystores and the CLI: the first
// 20 bytes of SHA-256(pubkey).
func (pub PublicKey) Address() string {
	h := sha256.Sum256(pub)
	return hex.EncodeToString(h[:addressLen])
}

// PubKeyFromHex decodes an account identifier.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := decodeHex(s, ed25519.PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: pubkey %v", ErrInvalidKey, err)
	}
	return PublicKey(b), nil
}

// decodeHex decodes s and checks it is exactly size bytes.
func decodeHex(s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("is %d bytes, want %d", len(b), size)
	}
	return b, nil
}
