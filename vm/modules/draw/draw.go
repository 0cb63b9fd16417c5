// Package draw exposes the lottery engine as VM transaction handlers. Every
// handler takes the verified sender as the caller and the block timestamp as
// the clock, and lets the executor snapshot make the whole call atomic.
package draw

import (
	"encoding/json"
	"fmt"

	"github.com/google/logger"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/lottery"
	"github.com/tolelom/lottochain/vm"
	"github.com/tolelom/lottochain/vm/modules/economy"
)

func init() {
	vm.Register(core.TxInitializeLottery, handleInitializeLottery)
	vm.Register(core.TxSetLotteryActive, handleSetLotteryActive)
	vm.Register(core.TxStartRound, handleStartRound)
	vm.Register(core.TxBuyTicket, handleBuyTicket)
	vm.Register(core.TxCloseRound, handleCloseRound)
	vm.Register(core.TxFulfillRandomness, handleFulfillRandomness)
	vm.Register(core.TxPayout, handlePayout)
}

func engine(ctx *vm.Context) *lottery.Engine {
	return lottery.NewEngine(ctx.State, economy.NewBank(ctx.State))
}

func decode(ctx *vm.Context, payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", ctx.Tx.Type, err)
	}
	return nil
}

// LotteryID returns the id an initialize_lottery transaction creates when
// its payload leaves lottery_id empty.
func LotteryID(txID string) string {
	return crypto.DeriveID(crypto.DomainLottery, txID)
}

func handleInitializeLottery(ctx *vm.Context, payload json.RawMessage) error {
	var p core.InitializeLotteryPayload
	if err := decode(ctx, payload, &p); err != nil {
		return err
	}
	if p.LotteryID == "" {
		p.LotteryID = LotteryID(ctx.Tx.ID)
	}
	l, err := engine(ctx).InitializeLottery(ctx.Tx.From, lottery.InitParams{
		ID:          p.LotteryID,
		TicketPrice: p.TicketPrice,
		MaxTickets:  p.MaxTickets,
	}, ctx.Now())
	if err != nil {
		return err
	}
	logger.Infof("[draw] lottery %s initialized: price=%d max=%d", l.ID, l.TicketPrice, l.MaxTickets)
	ctx.Emit(events.EventLotteryInitialized, map[string]any{
		"lottery_id":   l.ID,
		"authority":    l.Authority,
		"ticket_price": l.TicketPrice,
		"max_tickets":  l.MaxTickets,
		"vault":        lottery.VaultAddress(l.ID),
	})
	return nil
}

func handleSetLotteryActive(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetLotteryActivePayload
	if err := decode(ctx, payload, &p); err != nil {
		return err
	}
	l, err := engine(ctx).SetActive(ctx.Tx.From, p.LotteryID, p.Active)
	if err != nil {
		return err
	}
	ctx.Emit(events.EventLotteryStatus, map[string]any{
		"lottery_id": l.ID,
		"active":     l.Active,
	})
	return nil
}

func handleStartRound(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RoundPayload
	if err := decode(ctx, payload, &p); err != nil {
		return err
	}
	r, err := engine(ctx).StartRound(ctx.Tx.From, p.LotteryID, ctx.Now())
	if err != nil {
		return err
	}
	logger.Infof("[draw] lottery %s round %d started", r.LotteryID, r.ID)
	ctx.Emit(events.EventRoundStarted, map[string]any{
		"lottery_id": r.LotteryID,
		"round":      r.ID,
	})
	return nil
}

func handleBuyTicket(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BuyTicketPayload
	if err := decode(ctx, payload, &p); err != nil {
		return err
	}
	t, err := engine(ctx).BuyTicket(ctx.Tx.From, p.LotteryID, p.Amount, ctx.Now())
	if err != nil {
		return err
	}
	ctx.Emit(events.EventTicketPurchased, map[string]any{
		"lottery_id": t.LotteryID,
		"round":      t.RoundID,
		"ticket":     t.Number,
		"buyer":      t.Buyer,
	})
	return nil
}

func handleCloseRound(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RoundPayload
	if err := decode(ctx, payload, &p); err != nil {
		return err
	}
	r, err := engine(ctx).CloseRound(ctx.Tx.From, p.LotteryID, ctx.Now())
	if err != nil {
		return err
	}
	logger.Infof("[draw] lottery %s round %d closed with %d tickets (%s)", r.LotteryID, r.ID, r.TicketsSold, r.Status)
	ctx.Emit(events.EventRoundClosed, map[string]any{
		"lottery_id":   r.LotteryID,
		"round":        r.ID,
		"status":       r.Status.String(),
		"tickets_sold": r.TicketsSold,
		"prize":        r.PrizeAmount,
	})
	return nil
}

// verifyDraw checks that p carries the authority's signed draw for the
// targeted round. Other callers are left for the engine to refuse.
func verifyDraw(eng *lottery.Engine, caller string, p core.FulfillRandomnessPayload) error {
	l, err := eng.Lottery(p.LotteryID)
	if err != nil {
		return err
	}
	if caller != l.Authority {
		return nil
	}
	r, err := eng.Round(p.LotteryID, p.Round)
	if err != nil {
		return err
	}
	pub, err := crypto.PubKeyFromHex(caller)
	if err != nil {
		return err
	}
	return crypto.VerifyDraw(pub, l.ID, r.ID, p.Signature, p.Randomness)
}

func handleFulfillRandomness(ctx *vm.Context, payload json.RawMessage) error {
	var p core.FulfillRandomnessPayload
	if err := decode(ctx, payload, &p); err != nil {
		return err
	}
	eng := engine(ctx)
	if err := verifyDraw(eng, ctx.Tx.From, p); err != nil {
		return err
	}
	r, err := eng.FulfillRandomness(ctx.Tx.From, p.LotteryID, p.Round, p.Randomness, ctx.Now())
	if err != nil {
		return err
	}
	logger.Infof("[draw] lottery %s round %d drew ticket %d", r.LotteryID, r.ID, *r.WinnerTicket)
	ctx.Emit(events.EventRandomnessFulfilled, map[string]any{
		"lottery_id":    r.LotteryID,
		"round":         r.ID,
		"winner_ticket": *r.WinnerTicket,
		"winner":        *r.Winner,
		"randomness":    p.Randomness.String(),
	})
	return nil
}

func handlePayout(ctx *vm.Context, payload json.RawMessage) error {
	var p core.PayoutPayload
	if err := decode(ctx, payload, &p); err != nil {
		return err
	}
	rc, err := engine(ctx).Payout(ctx.Tx.From, p.LotteryID, p.Round, p.WinnerTicket)
	if err != nil {
		return err
	}
	logger.Infof("[draw] lottery %s round %d paid out: winner=%d creator=%d platform=%d",
		rc.Round.LotteryID, rc.Round.ID, rc.Shares.Winner, rc.Shares.Creator, rc.Shares.Platform)
	ctx.Emit(events.EventPayoutCompleted, map[string]any{
		"lottery_id":      rc.Round.LotteryID,
		"round":           rc.Round.ID,
		"winner":          rc.Winner,
		"creator":         rc.Creator,
		"platform":        rc.Platform,
		"winner_amount":   rc.Shares.Winner,
		"creator_amount":  rc.Shares.Creator,
		"platform_amount": rc.Shares.Platform,
	})
	return nil
}
