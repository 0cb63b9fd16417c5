package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned when a signature is malformed or does not
// verify.
var ErrInvalidSignature = errors.New("invalid signature")

// Sign signs data and returns the hex-encoded signature carried by
// transactions and blocks.
func Sign(priv PrivateKey, data []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), data))
}

// Verify checks a hex-encoded signature over data.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	_, err := verify(pub, data, sigHex)
	return err
}

// verify checks sigHex and returns the decoded signature.
func verify(pub PublicKey, data []byte, sigHex string) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: pubkey is %d bytes", ErrInvalidKey, len(pub))
	}
	sig, err := decodeHex(sigHex, ed25519.SignatureSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return nil, fmt.Errorf("%w: verification failed", ErrInvalidSignature)
	}
	return sig, nil
}
