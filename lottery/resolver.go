package lottery

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RandomnessSize is the length of the externally supplied randomness value.
const RandomnessSize = 32

// Randomness is an opaque value submitted by the randomness provider.
// It is encoded as 64 lowercase hex characters in JSON.
type Randomness [RandomnessSize]byte

// ParseRandomness decodes a hex-encoded 32-byte randomness value.
func ParseRandomness(s string) (Randomness, error) {
	var r Randomness
	b, err := hex.DecodeString(s)
	if err != nil {
		return r, fmt.Errorf("invalid randomness hex: %w", err)
	}
	if len(b) != RandomnessSize {
		return r, fmt.Errorf("randomness must be %d bytes, got %d", RandomnessSize, len(b))
	}
	copy(r[:], b)
	return r, nil
}

// String returns the hex encoding of r.
func (r Randomness) String() string {
	return hex.EncodeToString(r[:])
}

func (r Randomness) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Randomness) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRandomness(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ResolveWinner maps randomness onto a ticket number in [0, ticketsSold).
//
// The first 8 bytes are read as a little-endian uint64 and reduced modulo
// ticketsSold; the remaining 24 bytes are ignored. Reduction by modulo
// favours lower ticket numbers whenever ticketsSold does not divide 2^64.
// The bias is below ticketsSold/2^64 and is accepted as is, so that any
// party can reproduce the outcome from the stored randomness alone.
func ResolveWinner(r Randomness, ticketsSold uint32) (uint32, error) {
	if ticketsSold == 0 {
		return 0, ErrNoTicketsSold
	}
	n := binary.LittleEndian.Uint64(r[:8])
	return uint32(n % uint64(ticketsSold)), nil
}
