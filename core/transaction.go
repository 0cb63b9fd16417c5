package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/lottery"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer          TxType = "transfer"
	TxInitializeLottery TxType = "initialize_lottery"
	TxSetLotteryActive  TxType = "set_lottery_active"
	TxStartRound        TxType = "start_round"
	TxBuyTicket         TxType = "buy_ticket"
	TxCloseRound        TxType = "close_round"
	TxFulfillRandomness TxType = "fulfill_randomness"
	TxPayout            TxType = "payout"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars) and,
// once Verify succeeds, is the caller identity every handler trusts.
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// InitializeLotteryPayload creates a lottery owned by the sender.
// An empty LotteryID is derived from the transaction ID.
type InitializeLotteryPayload struct {
	LotteryID   string `json:"lottery_id,omitempty"`
	TicketPrice uint64 `json:"ticket_price"`
	MaxTickets  uint32 `json:"max_tickets"`
}

// SetLotteryActivePayload enables or disables sales and new rounds.
type SetLotteryActivePayload struct {
	LotteryID string `json:"lottery_id"`
	Active    bool   `json:"active"`
}

// RoundPayload addresses the current round of a lottery
// (start_round, close_round).
type RoundPayload struct {
	LotteryID string `json:"lottery_id"`
}

// BuyTicketPayload buys one ticket. Amount is optional; when set it must
// equal the ticket price.
type BuyTicketPayload struct {
	LotteryID string `json:"lottery_id"`
	Amount    uint64 `json:"amount,omitempty"`
}

// FulfillRandomnessPayload submits the randomness for a drawing round.
// A nil Round selects the latest round.
type FulfillRandomnessPayload struct {
	LotteryID  string             `json:"lottery_id"`
	Round      *uint64            `json:"round,omitempty"`
	Randomness lottery.Randomness `json:"randomness"`
	Signature  string             `json:"signature"` // authority's signature over the round's draw message
}

// PayoutPayload disburses a finished round. WinnerTicket, when set, must
// match the recorded winning ticket.
type PayoutPayload struct {
	LotteryID    string  `json:"lottery_id"`
	Round        *uint64 `json:"round,omitempty"`
	WinnerTicket *uint32 `json:"winner_ticket,omitempty"`
}
