package lottery

import (
	"fmt"
	"math"

	"github.com/tolelom/lottochain/crypto"
)

// Vault is the custody ledger of one lottery. The escrow account at Address
// holds the actual funds; the vault records what flowed in and out of it.
// TotalWithdrawals never exceeds TotalDeposits.
type Vault struct {
	LotteryID        string `json:"lottery_id"`
	Authority        string `json:"authority"`
	Address          string `json:"address"` // escrow account
	TotalDeposits    uint64 `json:"total_deposits"`
	TotalWithdrawals uint64 `json:"total_withdrawals"`
}

// VaultAddress returns the deterministic escrow account of a lottery.
func VaultAddress(lotteryID string) string {
	return crypto.DeriveID(crypto.DomainVault, lotteryID)
}

// NewVault returns an empty vault for the lottery.
func NewVault(lotteryID, authority string) *Vault {
	return &Vault{
		LotteryID: lotteryID,
		Authority: authority,
		Address:   VaultAddress(lotteryID),
	}
}

// Deposit records incoming funds. The counter saturates at MaxUint64
// instead of wrapping.
func (v *Vault) Deposit(amount uint64) {
	if amount > math.MaxUint64-v.TotalDeposits {
		v.TotalDeposits = math.MaxUint64
		return
	}
	v.TotalDeposits += amount
}

// Withdraw records outgoing funds. It fails without modifying the vault
// when the available balance cannot cover amount.
func (v *Vault) Withdraw(amount uint64) error {
	if avail := v.Available(); amount > avail {
		return fmt.Errorf("%w: vault %s has %d, need %d", ErrInsufficientFunds, v.LotteryID, avail, amount)
	}
	v.TotalWithdrawals += amount
	return nil
}

// Available returns deposits minus withdrawals.
func (v *Vault) Available() uint64 {
	if v.TotalWithdrawals > v.TotalDeposits {
		return 0
	}
	return v.TotalDeposits - v.TotalWithdrawals
}

func (v *Vault) clone() *Vault {
	cp := *v
	return &cp
}
