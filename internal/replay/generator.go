package replay

import (
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/histreplay/internal/types"
)

// RandomWalkTradeGenerator synthesizes ticks for a security from the passage
// of simulated time. Each processed time message may produce one trade whose
// price moves up, down or sideways by one price step.
type RandomWalkTradeGenerator struct {
	id        types.SecurityID
	startTime time.Time
	interval  time.Duration
	initial   decimal.Decimal
	step      decimal.Decimal
	maxVolume int64

	price    decimal.Decimal
	lastTime time.Time
	rng      *rand.Rand
}

// NewRandomWalkTradeGenerator creates a tick generator starting the walk at
// initialPrice and producing at most one trade per interval. Trades before
// startTime are suppressed.
func NewRandomWalkTradeGenerator(
	id types.SecurityID,
	startTime time.Time,
	interval time.Duration,
	initialPrice decimal.Decimal,
	priceStep decimal.Decimal,
	maxVolume int64,
	seed uint64,
) *RandomWalkTradeGenerator {
	return &RandomWalkTradeGenerator{
		id:        id,
		startTime: startTime,
		interval:  interval,
		initial:   initialPrice,
		step:      priceStep,
		maxVolume: maxVolume,
		price:     initialPrice,
		rng:       rand.New(rand.NewPCG(seed, seed)),
	}
}

// SecurityID implements types.MarketDataGenerator.
func (g *RandomWalkTradeGenerator) SecurityID() types.SecurityID { return g.id }

// DataType implements types.MarketDataGenerator.
func (g *RandomWalkTradeGenerator) DataType() types.DataType { return types.DataTypeTicks }

// Init resets the walk to its initial price and clears the pacing clock.
func (g *RandomWalkTradeGenerator) Init() {
	g.price = g.initial
	g.lastTime = time.Time{}
}

// Process advances the generator with one replayed message and returns the
// trades it produced, if any. Only messages that carry a server time move
// the generator forward.
func (g *RandomWalkTradeGenerator) Process(msg types.Message) []types.Message {
	st, ok := msg.(types.ServerTimed)
	if !ok {
		return nil
	}

	now := st.ServerTime()
	if now.Before(g.startTime) {
		return nil
	}

	if !g.lastTime.IsZero() && now.Sub(g.lastTime) < g.interval {
		return nil
	}

	g.lastTime = now

	switch g.rng.IntN(3) {
	case 0:
		g.price = g.price.Add(g.step)
	case 1:
		if next := g.price.Sub(g.step); next.IsPositive() {
			g.price = next
		}
	}

	side := types.SideBuy
	if g.rng.IntN(2) == 1 {
		side = types.SideSell
	}

	trade := &types.ExecutionMessage{
		SecurityID: g.id,
		ExecKind:   types.ExecKindTick,
		Server:     now,
		Price:      g.price,
		Volume:     decimal.NewFromInt(1 + g.rng.Int64N(g.maxVolume)),
		Side:       side,
	}
	trade.SetLocalTime(now)

	return []types.Message{trade}
}
