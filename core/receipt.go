package core

// Receipt records the outcome of a transaction the producer attempted.
// Failed transactions are dropped from the block, so a receipt is the only
// trace of why a lottery operation was rejected.
type Receipt struct {
	TxID        string `json:"tx_id"`
	Type        TxType `json:"type"`
	From        string `json:"from"`
	BlockHeight int64  `json:"block_height"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}
