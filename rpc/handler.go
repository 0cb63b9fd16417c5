package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/indexer"
	"github.com/tolelom/lottochain/lottery"
	"github.com/tolelom/lottochain/metrics"
	"github.com/tolelom/lottochain/storage"
	"github.com/tolelom/lottochain/vm"
	"github.com/tolelom/lottochain/vm/modules/economy"
)

// ReceiptReader looks up transaction receipts.
type ReceiptReader interface {
	GetReceipt(txID string) (*core.Receipt, error)
}

// Deps are the node components the RPC methods read from.
type Deps struct {
	Chain    *core.Blockchain
	Mempool  *core.Mempool
	DB       storage.DB // committed state; reads never see a block in progress
	Indexer  *indexer.Indexer
	Receipts ReceiptReader
	Metrics  *metrics.Metrics
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	Deps
}

// NewHandler creates an RPC Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// view returns a read-only state view over committed data.
func (h *Handler) view() (core.State, *lottery.Engine) {
	state := storage.NewStateDB(h.DB)
	return state, lottery.NewEngine(state, economy.NewBank(state))
}

type method func(h *Handler, req Request) Response

var methods = map[string]method{
	"getBlockHeight":          func(h *Handler, req Request) Response { return okResponse(req.ID, h.Chain.Height()) },
	"getBlock":                (*Handler).getBlock,
	"getBalance":              (*Handler).getBalance,
	"getMempoolSize":          func(h *Handler, req Request) Response { return okResponse(req.ID, h.Mempool.Size()) },
	"sendTx":                  (*Handler).sendTx,
	"getReceipt":              (*Handler).getReceipt,
	"getLottery":              (*Handler).getLottery,
	"getRound":                (*Handler).getRound,
	"getTicket":               (*Handler).getTicket,
	"getVault":                (*Handler).getVault,
	"verifyWinner":            (*Handler).verifyWinner,
	"getTicketsByBuyer":       (*Handler).getTicketsByBuyer,
	"getWinsByAddress":        (*Handler).getWinsByAddress,
	"getLotteriesByAuthority": (*Handler).getLotteriesByAuthority,
	"getMetrics":              (*Handler).getMetrics,
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	m, ok := methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	return m(h, req)
}

// decodeParams unmarshals params into v. Absent params decode as empty.
func decodeParams(req Request, v any) *Response {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return &resp
	}
	return nil
}

// failure maps a lookup or lottery error onto a JSON-RPC error.
func failure(id any, err error) Response {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return errResponse(id, CodeNotFound, err.Error())
	case isLotteryError(err):
		return errResponse(id, CodeLottery, err.Error())
	default:
		return errResponse(id, CodeInternalError, err.Error())
	}
}

var lotteryErrors = []error{
	lottery.ErrInvalidLotteryState,
	lottery.ErrRandomnessNotFulfilled,
	lottery.ErrInvalidWinnerTicket,
	lottery.ErrNoTicketsSold,
}

func isLotteryError(err error) bool {
	for _, target := range lotteryErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.Chain.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.Chain.GetBlockByHeight(*params.Height)
	} else {
		block = h.Chain.Tip()
	}
	if err != nil {
		return failure(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	state, _ := h.view()
	acc, err := state.GetAccount(params.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.Chain.ChainID() {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.Chain.ChainID()))
	}
	if !vm.Registered(tx.Type) {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown transaction type %q", tx.Type))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.Mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInvalidRequest, err.Error())
	}
	if h.Metrics != nil {
		h.Metrics.SetMempoolSize(h.Mempool.Size())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	if _, pending := h.Mempool.Get(params.TxID); pending {
		return okResponse(req.ID, map[string]any{"tx_id": params.TxID, "pending": true})
	}
	r, err := h.Receipts.GetReceipt(params.TxID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, r)
}

type lotteryParams struct {
	LotteryID string  `json:"lottery_id"`
	Round     *uint64 `json:"round"`
}

func (h *Handler) lotteryParams(req Request) (lotteryParams, *Response) {
	var p lotteryParams
	if resp := decodeParams(req, &p); resp != nil {
		return p, resp
	}
	if p.LotteryID == "" {
		resp := errResponse(req.ID, CodeInvalidParams, "lottery_id is required")
		return p, &resp
	}
	return p, nil
}

func (h *Handler) getLottery(req Request) Response {
	p, resp := h.lotteryParams(req)
	if resp != nil {
		return *resp
	}
	_, engine := h.view()
	l, err := engine.Lottery(p.LotteryID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, l)
}

func (h *Handler) getRound(req Request) Response {
	p, resp := h.lotteryParams(req)
	if resp != nil {
		return *resp
	}
	_, engine := h.view()
	r, err := engine.Round(p.LotteryID, p.Round)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, r)
}

func (h *Handler) getTicket(req Request) Response {
	var params struct {
		LotteryID string  `json:"lottery_id"`
		Round     uint64  `json:"round"`
		Ticket    *uint32 `json:"ticket"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.LotteryID == "" || params.Ticket == nil {
		return errResponse(req.ID, CodeInvalidParams, "lottery_id and ticket are required")
	}
	_, engine := h.view()
	t, err := engine.Ticket(params.LotteryID, params.Round, *params.Ticket)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, t)
}

func (h *Handler) getVault(req Request) Response {
	p, resp := h.lotteryParams(req)
	if resp != nil {
		return *resp
	}
	state, engine := h.view()
	v, err := engine.Vault(p.LotteryID)
	if err != nil {
		return failure(req.ID, err)
	}
	escrow, err := state.GetAccount(v.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"vault":          v,
		"available":      v.Available(),
		"escrow_balance": escrow.Balance,
	})
}

func (h *Handler) verifyWinner(req Request) Response {
	p, resp := h.lotteryParams(req)
	if resp != nil {
		return *resp
	}
	_, engine := h.view()
	r, err := engine.Round(p.LotteryID, p.Round)
	if err != nil {
		return failure(req.ID, err)
	}
	n, err := engine.VerifyWinner(p.LotteryID, r.ID)
	if err != nil {
		return failure(req.ID, err)
	}
	out := map[string]any{
		"lottery_id":    p.LotteryID,
		"round":         r.ID,
		"winner_ticket": n,
		"tickets_sold":  r.TicketsSold,
		"randomness":    r.Randomness,
	}
	if r.Winner != nil {
		out["winner"] = *r.Winner
	}
	return okResponse(req.ID, out)
}

func (h *Handler) addressParam(req Request, name string) (string, *Response) {
	var params map[string]string
	if resp := decodeParams(req, &params); resp != nil {
		return "", resp
	}
	if params[name] == "" {
		resp := errResponse(req.ID, CodeInvalidParams, name+" is required")
		return "", &resp
	}
	return params[name], nil
}

func (h *Handler) getTicketsByBuyer(req Request) Response {
	buyer, resp := h.addressParam(req, "buyer")
	if resp != nil {
		return *resp
	}
	refs, err := h.Indexer.TicketsByBuyer(buyer)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, nonNil(refs))
}

func (h *Handler) getWinsByAddress(req Request) Response {
	addr, resp := h.addressParam(req, "address")
	if resp != nil {
		return *resp
	}
	refs, err := h.Indexer.WinsByAddress(addr)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, nonNil(refs))
}

func (h *Handler) getLotteriesByAuthority(req Request) Response {
	authority, resp := h.addressParam(req, "authority")
	if resp != nil {
		return *resp
	}
	ids, err := h.Indexer.LotteriesByAuthority(authority)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, nonNil(ids))
}

func (h *Handler) getMetrics(req Request) Response {
	if h.Metrics == nil {
		return okResponse(req.ID, map[string]any{})
	}
	return okResponse(req.ID, h.Metrics.Snapshot())
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
