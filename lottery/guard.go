package lottery

import "fmt"

// Signer names who may invoke an operation.
type Signer int

const (
	// AnySigner accepts any verified caller; funding is enforced by the Bank.
	AnySigner Signer = iota
	// AuthoritySigner requires the caller to be the lottery authority.
	AuthoritySigner
)

// authorize is the single identity check run at the top of every operation.
// caller must already be verified by the host (a signed transaction sender).
func authorize(l *Lottery, caller string, required Signer) error {
	if caller == "" {
		return fmt.Errorf("%w: missing caller", ErrUnauthorized)
	}
	switch required {
	case AnySigner:
		return nil
	case AuthoritySigner:
		if caller != l.Authority {
			return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
		}
		return nil
	default:
		return fmt.Errorf("unknown signer requirement %d", required)
	}
}
