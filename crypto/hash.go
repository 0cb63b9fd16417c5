package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domains for DeriveID. Each kind of derived identifier gets its own, so a
// vault address can never equal a lottery ID.
const (
	DomainVault   = "vault"
	DomainLottery = "lottery"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// DeriveID returns the deterministic identifier of name within domain.
func DeriveID(domain, name string) string {
	return Hash([]byte(domain + ":" + name))
}
