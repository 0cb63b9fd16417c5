// Package metrics keeps node counters in a go-metrics registry, fed by the
// event stream and the block producer, and exposes them to the RPC layer.
package metrics

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/logger"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/tolelom/lottochain/events"
)

// Metric names.
const (
	BlocksCommitted = "chain.blocks.committed"
	BlockTxs        = "chain.block.txs"
	BlockProduction = "chain.block.production"
	TxExecuted      = "vm.tx.executed"
	TxFailed        = "vm.tx.failed"
	MempoolSize     = "mempool.size"
	Lotteries       = "lottery.created"
	RoundsStarted   = "lottery.rounds.started"
	TicketsSold     = "lottery.tickets.sold"
	RoundsDrawn     = "lottery.rounds.drawn"
	Payouts         = "lottery.payouts"
	PaidToWinners   = "lottery.paid.winners"
	PaidToCreators  = "lottery.paid.creators"
	PaidToPlatform  = "lottery.paid.platform"
)

// Metrics is a registry of named node metrics.
type Metrics struct {
	registry gometrics.Registry

	blocks     gometrics.Counter
	blockTxs   gometrics.Histogram
	production gometrics.Timer
	txOK       gometrics.Meter
	txFailed   gometrics.Meter
	mempool    gometrics.Gauge
	lotteries  gometrics.Counter
	rounds     gometrics.Counter
	tickets    gometrics.Counter
	drawn      gometrics.Counter
	payouts    gometrics.Counter
	toWinners  gometrics.Counter
	toCreators gometrics.Counter
	toPlatform gometrics.Counter

	mu      sync.Mutex
	pending []update // per-tx updates awaiting their block's commit
}

// update is a deferred counter change tied to the block that produced it.
type update struct {
	height int64
	apply  func()
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	r := gometrics.NewRegistry()
	return &Metrics{
		registry:   r,
		blocks:     gometrics.NewRegisteredCounter(BlocksCommitted, r),
		blockTxs:   gometrics.NewRegisteredHistogram(BlockTxs, r, gometrics.NewUniformSample(1028)),
		production: gometrics.NewRegisteredTimer(BlockProduction, r),
		txOK:       gometrics.NewRegisteredMeter(TxExecuted, r),
		txFailed:   gometrics.NewRegisteredMeter(TxFailed, r),
		mempool:    gometrics.NewRegisteredGauge(MempoolSize, r),
		lotteries:  gometrics.NewRegisteredCounter(Lotteries, r),
		rounds:     gometrics.NewRegisteredCounter(RoundsStarted, r),
		tickets:    gometrics.NewRegisteredCounter(TicketsSold, r),
		drawn:      gometrics.NewRegisteredCounter(RoundsDrawn, r),
		payouts:    gometrics.NewRegisteredCounter(Payouts, r),
		toWinners:  gometrics.NewRegisteredCounter(PaidToWinners, r),
		toCreators: gometrics.NewRegisteredCounter(PaidToCreators, r),
		toPlatform: gometrics.NewRegisteredCounter(PaidToPlatform, r),
	}
}

// Attach subscribes the collectors to emitter. Per-transaction events are
// held until the block_commit of their height, so a block the chain rejects
// leaves no trace in the counters.
func (m *Metrics) Attach(emitter *events.Emitter) {
	emitter.Subscribe(events.EventBlockCommit, m.onBlockCommit)
	m.deferOn(emitter, events.EventTxExecuted, func(events.Event) { m.txOK.Mark(1) })
	m.deferOn(emitter, events.EventTxFailed, func(events.Event) { m.txFailed.Mark(1) })
	m.deferOn(emitter, events.EventLotteryInitialized, func(events.Event) { m.lotteries.Inc(1) })
	m.deferOn(emitter, events.EventRoundStarted, func(events.Event) { m.rounds.Inc(1) })
	m.deferOn(emitter, events.EventTicketPurchased, func(events.Event) { m.tickets.Inc(1) })
	m.deferOn(emitter, events.EventRandomnessFulfilled, func(events.Event) { m.drawn.Inc(1) })
	m.deferOn(emitter, events.EventPayoutCompleted, m.onPayout)
}

func (m *Metrics) deferOn(emitter *events.Emitter, typ events.EventType, fn func(events.Event)) {
	emitter.Subscribe(typ, func(ev events.Event) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.pending = append(m.pending, update{height: ev.BlockHeight, apply: func() { fn(ev) }})
	})
}

func (m *Metrics) onBlockCommit(ev events.Event) {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	// Updates from any other height belong to blocks that never made it.
	for _, u := range pending {
		if u.height == ev.BlockHeight {
			u.apply()
		}
	}

	m.blocks.Inc(1)
	if n, ok := ev.Data["txs"].(int); ok {
		m.blockTxs.Update(int64(n))
	}
}

func (m *Metrics) onPayout(ev events.Event) {
	m.payouts.Inc(1)
	add := func(c gometrics.Counter, key string) {
		if v, ok := ev.Data[key].(uint64); ok {
			c.Inc(int64(v))
		}
	}
	add(m.toWinners, "winner_amount")
	add(m.toCreators, "creator_amount")
	add(m.toPlatform, "platform_amount")
}

// ObserveBlockProduction records how long producing one block took.
func (m *Metrics) ObserveBlockProduction(d time.Duration) {
	m.production.Update(d)
}

// SetMempoolSize records the number of pending transactions.
func (m *Metrics) SetMempoolSize(n int) {
	m.mempool.Update(int64(n))
}

// Snapshot returns every metric by name with its current values.
func (m *Metrics) Snapshot() map[string]map[string]any {
	return m.registry.GetAll()
}

// Counter returns the current value of a counter metric, or 0 when name is
// not a counter.
func (m *Metrics) Counter(name string) int64 {
	if c, ok := m.registry.Get(name).(gometrics.Counter); ok {
		return c.Count()
	}
	return 0
}

// LogEvery writes a one-line summary of counters and meters every interval
// until ctx is cancelled.
func (m *Metrics) LogEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Infof("[metrics] %s", m.summary())
		}
	}
}

func (m *Metrics) summary() string {
	var names []string
	values := make(map[string]int64)
	m.registry.Each(func(name string, metric any) {
		switch v := metric.(type) {
		case gometrics.Counter:
			values[name] = v.Count()
		case gometrics.Meter:
			values[name] = v.Count()
		case gometrics.Gauge:
			values[name] = v.Value()
		default:
			return
		}
		names = append(names, name)
	})
	sort.Strings(names)
	var out []byte
	for i, name := range names {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, name...)
		out = append(out, '=')
		out = strconv.AppendInt(out, values[name], 10)
	}
	return string(out)
}
