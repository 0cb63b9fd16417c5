package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignedRandomness derives 32 bytes of randomness from an ed25519 signature
// over msg. Ed25519 signing is deterministic, so the same key and message
// always yield the same value, and anyone holding the public key and the
// signature can check it with VerifyRandomness.
func SignedRandomness(priv PrivateKey, msg []byte) (value [32]byte, sigHex string) {
	sig := ed25519.Sign(ed25519.PrivateKey(priv), msg)
	return sha256.Sum256(sig), hex.EncodeToString(sig)
}

// VerifyRandomness checks that value was produced by SignedRandomness for
// pub and msg with the given signature.
func VerifyRandomness(pub PublicKey, msg []byte, sigHex string, value [32]byte) error {
	sig, err := verify(pub, msg, sigHex)
	if err != nil {
		return err
	}
	if sha256.Sum256(sig) != value {
		return fmt.Errorf("%w: randomness does not match signature", ErrInvalidSignature)
	}
	return nil
}

// DrawMessage is what a lottery authority signs to draw one round.
func DrawMessage(lotteryID string, round uint64) []byte {
	return []byte(fmt.Sprintf("lottochain-draw:%s:%d", lotteryID, round))
}

// DrawRandomness signs the draw message of a round.
func DrawRandomness(priv PrivateKey, lotteryID string, round uint64) (value [32]byte, sigHex string) {
	return SignedRandomness(priv, DrawMessage(lotteryID, round))
}

// VerifyDraw checks randomness published by pub for a round.
func VerifyDraw(pub PublicKey, lotteryID string, round uint64, sigHex string, value [32]byte) error {
	if err := VerifyRandomness(pub, DrawMessage(lotteryID, round), sigHex, value); err != nil {
		return fmt.Errorf("draw %s/%d: %w", lotteryID, round, err)
	}
	return nil
}
