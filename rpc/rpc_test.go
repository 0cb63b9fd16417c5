package rpc_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/indexer"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/lottery"
	"github.com/tolelom/lottochain/metrics"
	"github.com/tolelom/lottochain/rpc"
	"github.com/tolelom/lottochain/storage"
	"github.com/tolelom/lottochain/wallet"

	_ "github.com/tolelom/lottochain/vm/modules/draw"
)

const chainID = "rpc-test"

type fixture struct {
	db      *testutil.MemDB
	state   *storage.StateDB
	bc      *core.Blockchain
	mempool *core.Mempool
	emitter *events.Emitter
	handler *rpc.Handler
	w       *wallet.Wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w, err := wallet.Generate()
	require.NoError(t, err)

	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	blocks := storage.NewBlockStore(db)
	bc := core.NewBlockchain(chainID, blocks)
	require.NoError(t, bc.Init())

	cfg := config.DefaultConfig()
	cfg.Genesis.ChainID = chainID
	cfg.Genesis.Platform = "platform"
	cfg.Genesis.Alloc = map[string]uint64{w.PubKey(): 1_000}
	genesis, err := config.CreateGenesisBlock(cfg, state, w.PrivKey())
	require.NoError(t, err)
	require.NoError(t, bc.AddBlock(genesis))

	emitter := events.NewEmitter()
	mempool := core.NewMempool(chainID)
	m := metrics.New()
	m.Attach(emitter)
	handler := rpc.NewHandler(rpc.Deps{
		Chain:    bc,
		Mempool:  mempool,
		DB:       db,
		Indexer:  indexer.New(db, emitter),
		Receipts: blocks,
		Metrics:  m,
	})
	return &fixture{db: db, state: state, bc: bc, mempool: mempool, emitter: emitter, handler: handler, w: w}
}

func dispatch(h *rpc.Handler, method string, params any) rpc.Response {
	raw, _ := json.Marshal(params)
	return h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
}

func TestGetBlockHeightAndBlock(t *testing.T) {
	f := newFixture(t)
	resp := dispatch(f.handler, "getBlockHeight", struct{}{})
	require.Nil(t, resp.Error)
	// Dispatch is called directly (no HTTP round-trip), so result is int64.
	assert.Equal(t, int64(0), resp.Result)

	resp = dispatch(f.handler, "getBlock", map[string]any{"height": 0})
	require.Nil(t, resp.Error)
	assert.Equal(t, chainID, resp.Result.(*core.Block).Header.ChainID)

	resp = dispatch(f.handler, "getBlock", map[string]any{"height": 9})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeNotFound, resp.Error.Code)
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)
	resp := dispatch(f.handler, "getBalance", map[string]string{"address": f.w.PubKey()})
	require.Nil(t, resp.Error)
	assert.Equal(t, uint64(1_000), resp.Result.(map[string]any)["balance"])

	resp = dispatch(f.handler, "getBalance", map[string]string{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	f := newFixture(t)
	resp := dispatch(f.handler, "getAsset", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}

func TestSendTx(t *testing.T) {
	f := newFixture(t)

	tx, err := f.w.InitializeLottery(chainID, "L1", 10, 5, 0)
	require.NoError(t, err)
	resp := dispatch(f.handler, "sendTx", tx)
	require.Nil(t, resp.Error)
	assert.Equal(t, tx.ID, resp.Result.(map[string]string)["tx_id"])
	assert.Equal(t, 1, f.mempool.Size())

	pending := dispatch(f.handler, "getReceipt", map[string]string{"tx_id": tx.ID})
	require.Nil(t, pending.Error)
	assert.Equal(t, true, pending.Result.(map[string]any)["pending"])

	dup := dispatch(f.handler, "sendTx", tx)
	require.NotNil(t, dup.Error)

	foreign, _ := f.w.BuyTicket("other-chain", "L1", 1)
	resp = dispatch(f.handler, "sendTx", foreign)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "chain ID mismatch")

	unknown, _ := f.w.NewTx(chainID, core.TxType("mint_asset"), 1, struct{}{})
	resp = dispatch(f.handler, "sendTx", unknown)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "unknown transaction type")
}

func TestLotteryReads(t *testing.T) {
	f := newFixture(t)
	resp := dispatch(f.handler, "getLottery", map[string]string{"lottery_id": "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeNotFound, resp.Error.Code)

	// Write a finished round directly into committed state.
	require.NoError(t, f.state.SetLottery(&lottery.Lottery{ID: "L1", Authority: "auth", TicketPrice: 10, MaxTickets: 5, CurrentRound: 0, Active: true}))
	rnd := lottery.Randomness{7}
	win, winner := uint32(1), "bob"
	require.NoError(t, f.state.SetRound(&lottery.Round{
		LotteryID: "L1", ID: 0, Status: lottery.StatusFinished, TicketsSold: 3,
		PrizeAmount: 30, Randomness: &rnd, WinnerTicket: &win, Winner: &winner,
	}))
	require.NoError(t, f.state.SetTicket(&lottery.Ticket{LotteryID: "L1", RoundID: 0, Number: 1, Buyer: "bob"}))
	v := lottery.NewVault("L1", "auth")
	v.Deposit(30)
	require.NoError(t, f.state.SetVault(v))
	require.NoError(t, f.state.Commit())

	resp = dispatch(f.handler, "getLottery", map[string]string{"lottery_id": "L1"})
	require.Nil(t, resp.Error)
	assert.Equal(t, "auth", resp.Result.(*lottery.Lottery).Authority)

	resp = dispatch(f.handler, "getRound", map[string]string{"lottery_id": "L1"})
	require.Nil(t, resp.Error)
	assert.Equal(t, lottery.StatusFinished, resp.Result.(*lottery.Round).Status)

	resp = dispatch(f.handler, "getTicket", map[string]any{"lottery_id": "L1", "round": 0, "ticket": 1})
	require.Nil(t, resp.Error)
	assert.Equal(t, "bob", resp.Result.(*lottery.Ticket).Buyer)

	resp = dispatch(f.handler, "getVault", map[string]string{"lottery_id": "L1"})
	require.Nil(t, resp.Error)
	assert.Equal(t, uint64(30), resp.Result.(map[string]any)["available"])

	resp = dispatch(f.handler, "verifyWinner", map[string]any{"lottery_id": "L1", "round": 0})
	require.Nil(t, resp.Error)
	out := resp.Result.(map[string]any)
	assert.Equal(t, uint32(7%3), out["winner_ticket"])
	assert.Equal(t, "bob", out["winner"])

	resp = dispatch(f.handler, "getRound", map[string]any{"lottery_id": "L1", "round": 4})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeLottery, resp.Error.Code)
}

func TestIndexQueriesReturnLists(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, param string }{
		{"getTicketsByBuyer", "buyer"},
		{"getWinsByAddress", "address"},
		{"getLotteriesByAuthority", "authority"},
	} {
		resp := dispatch(f.handler, tc.method, map[string]string{tc.param: "nobody"})
		require.Nil(t, resp.Error, tc.method)
		raw, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		assert.JSONEq(t, "[]", string(raw), tc.method)

		resp = dispatch(f.handler, tc.method, map[string]string{})
		require.NotNil(t, resp.Error, tc.method)
	}
}

func TestHTTPAuthAndEnvelope(t *testing.T) {
	f := newFixture(t)
	srv := rpc.NewServer(config.RPCConfig{AuthToken: "tok"}, f.handler, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	post := func(body, token string) (*http.Response, rpc.Response) {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out rpc.Response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp, out
	}

	resp, out := post(`{"jsonrpc":"2.0","id":1,"method":"getBlockHeight"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, rpc.CodeUnauthorized, out.Error.Code)

	_, out = post(`{"jsonrpc":"2.0","id":1,"method":"getBlockHeight"}`, "tok")
	require.Nil(t, out.Error)
	assert.EqualValues(t, 0, out.Result)

	_, out = post(`{"jsonrpc":"1.0","id":1,"method":"getBlockHeight"}`, "tok")
	require.NotNil(t, out.Error)
	assert.Equal(t, rpc.CodeInvalidRequest, out.Error.Code)

	_, out = post(`{not json`, "tok")
	require.NotNil(t, out.Error)
	assert.Equal(t, rpc.CodeParseError, out.Error.Code)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestWebSocketStreamsCommittedEvents(t *testing.T) {
	f := newFixture(t)
	srv := rpc.NewServer(config.RPCConfig{WebSocket: true}, f.handler, f.emitter)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Stop()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?types=ticket_purchased,block_commit"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.emitter.Emit(events.Event{Type: events.EventRoundStarted, BlockHeight: 1})
	f.emitter.Emit(events.Event{Type: events.EventTicketPurchased, BlockHeight: 1, TxID: "t1"})
	f.emitter.Emit(events.Event{Type: events.EventTicketPurchased, BlockHeight: 2, TxID: "never-committed"})
	f.emitter.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: 1})

	var got []events.Event
	for len(got) < 2 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev events.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		got = append(got, ev)
	}
	assert.Equal(t, events.EventTicketPurchased, got[0].Type)
	assert.Equal(t, "t1", got[0].TxID)
	assert.Equal(t, events.EventBlockCommit, got[1].Type)
}
