package wallet

import (
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/lottery"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. chainID must match the target network.
// nonce should match the account's current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed transfer transaction.
func (w *Wallet) Transfer(chainID, to string, amount, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransfer, nonce, core.TransferPayload{
		To:     to,
		Amount: amount,
	})
}

// InitializeLottery creates a lottery owned by this wallet.
func (w *Wallet) InitializeLottery(chainID, lotteryID string, price uint64, maxTickets uint32, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxInitializeLottery, nonce, core.InitializeLotteryPayload{
		LotteryID:   lotteryID,
		TicketPrice: price,
		MaxTickets:  maxTickets,
	})
}

// SetLotteryActive enables or pauses a lottery.
func (w *Wallet) SetLotteryActive(chainID, lotteryID string, active bool, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxSetLotteryActive, nonce, core.SetLotteryActivePayload{
		LotteryID: lotteryID,
		Active:    active,
	})
}

// StartRound opens the next round.
func (w *Wallet) StartRound(chainID, lotteryID string, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxStartRound, nonce, core.RoundPayload{LotteryID: lotteryID})
}

// BuyTicket buys one ticket in the current round.
func (w *Wallet) BuyTicket(chainID, lotteryID string, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxBuyTicket, nonce, core.BuyTicketPayload{LotteryID: lotteryID})
}

// CloseRound stops sales on the current round.
func (w *Wallet) CloseRound(chainID, lotteryID string, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxCloseRound, nonce, core.RoundPayload{LotteryID: lotteryID})
}

// FulfillRandomness draws the given round with this wallet's signed
// randomness. Only the lottery authority's draw is accepted on chain.
func (w *Wallet) FulfillRandomness(chainID, lotteryID string, round uint64, nonce uint64) (*core.Transaction, error) {
	r, sig := w.DrawRandomness(lotteryID, round)
	return w.NewTx(chainID, core.TxFulfillRandomness, nonce, core.FulfillRandomnessPayload{
		LotteryID:  lotteryID,
		Round:      &round,
		Randomness: r,
		Signature:  sig,
	})
}

// Payout disburses a finished round. winnerTicket may be nil.
func (w *Wallet) Payout(chainID, lotteryID string, round uint64, winnerTicket *uint32, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxPayout, nonce, core.PayoutPayload{
		LotteryID:    lotteryID,
		Round:        &round,
		WinnerTicket: winnerTicket,
	})
}

// DrawRandomness derives the randomness this wallet submits for a round,
// together with the signature that proves it. The value is deterministic per
// wallet, lottery and round.
func (w *Wallet) DrawRandomness(lotteryID string, round uint64) (lottery.Randomness, string) {
	v, sig := crypto.DrawRandomness(w.priv, lotteryID, round)
	return lottery.Randomness(v), sig
}

// VerifyDraw checks randomness published by the holder of pubKey for a round.
func VerifyDraw(pubKey, lotteryID string, round uint64, sig string, r lottery.Randomness) error {
	pub, err := crypto.PubKeyFromHex(pubKey)
	if err != nil {
		return err
	}
	return crypto.VerifyDraw(pub, lotteryID, round, sig, r)
}
