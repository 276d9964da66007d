// Package adapter exposes the replay scheduler through a message protocol: a
// request goes in through SendIn, replies and replayed market data come out
// of a single ordered channel.
package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/histreplay/internal/logger"
	"github.com/tradeforge/histreplay/internal/replay"
	"github.com/tradeforge/histreplay/internal/securities"
	"github.com/tradeforge/histreplay/internal/types"
	"github.com/tradeforge/histreplay/pkg/errors"
)

const defaultOutBuffer = 256

// HistoryAdapter drives a Scheduler through the connect, lookup, subscribe
// and emulation state protocol. Replayed messages are pushed through
// registered generators before they reach the output channel, so synthetic
// feeds ride on the simulated clock of the stored data.
type HistoryAdapter struct {
	log       *logger.Logger
	scheduler *replay.Scheduler
	provider  securities.Provider

	out chan types.Message

	mu         sync.Mutex
	connected  bool
	running    bool
	cancel     context.CancelFunc
	generators map[int64]types.MarketDataGenerator

	outCount atomic.Int64

	wg sync.WaitGroup
}

// NewHistoryAdapter wraps a scheduler and a security provider. A nil logger
// falls back to a no-op logger.
func NewHistoryAdapter(scheduler *replay.Scheduler, provider securities.Provider, log *logger.Logger) *HistoryAdapter {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &HistoryAdapter{
		log:        log,
		scheduler:  scheduler,
		provider:   provider,
		out:        make(chan types.Message, defaultOutBuffer),
		generators: make(map[int64]types.MarketDataGenerator),
	}
}

// Out returns the output channel. Protocol replies and replayed market data
// share it in order.
func (a *HistoryAdapter) Out() <-chan types.Message {
	return a.out
}

// SentMessageCount returns the number of messages pushed to the output
// channel, protocol replies included.
func (a *HistoryAdapter) SentMessageCount() int64 {
	return a.outCount.Load()
}

// CurrentTime mirrors the scheduler's simulated clock.
func (a *HistoryAdapter) CurrentTime() time.Time {
	return a.scheduler.CurrentTime()
}

// SendIn dispatches one inbound message. Protocol violations (connecting
// twice, resetting a running adapter) are returned as errors; subscription
// failures are not, they travel out as replies carrying the error.
func (a *HistoryAdapter) SendIn(msg types.Message) error {
	switch m := msg.(type) {
	case *types.ResetMessage:
		return a.handleReset()
	case *types.ConnectMessage:
		return a.handleConnect()
	case *types.DisconnectMessage:
		return a.handleDisconnect()
	case *types.SecurityLookupMessage:
		return a.handleSecurityLookup(m)
	case *types.MarketDataMessage:
		return a.handleMarketData(m)
	case *types.GeneratorMessage:
		return a.handleGenerator(m)
	case *types.EmulationStateMessage:
		return a.handleEmulationState(m)
	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "unsupported inbound message type %s", msg.Type())
	}
}

func (a *HistoryAdapter) handleReset() error {
	a.stopRun()

	a.mu.Lock()
	a.connected = false
	a.generators = make(map[int64]types.MarketDataGenerator)
	a.mu.Unlock()

	if err := a.scheduler.Reset(); err != nil {
		return err
	}

	a.emit(&types.ResetMessage{})

	return nil
}

func (a *HistoryAdapter) handleConnect() error {
	a.mu.Lock()

	if a.connected {
		a.mu.Unlock()

		return errors.New(errors.ErrCodeAlreadyConnected, "already connected")
	}

	a.connected = true
	a.mu.Unlock()

	reply := &types.ConnectMessage{}
	reply.SetLocalTime(a.scheduler.StartDate())
	a.emit(reply)

	return nil
}

func (a *HistoryAdapter) handleDisconnect() error {
	a.mu.Lock()

	if !a.connected {
		a.mu.Unlock()

		return errors.New(errors.ErrCodeNotStarted, "not connected")
	}

	a.connected = false
	a.mu.Unlock()

	a.stopRun()

	reply := &types.DisconnectMessage{}
	reply.SetLocalTime(a.scheduler.StopDate())
	a.emit(reply)

	return nil
}

func (a *HistoryAdapter) handleSecurityLookup(msg *types.SecurityLookupMessage) error {
	if msg.TransactionID == 0 {
		return errors.New(errors.ErrCodeInvalidTransactionID, "invalid transaction id")
	}

	matches := a.provider.Lookup(msg.Symbol)

	if msg.Symbol == "" {
		for _, board := range a.provider.Boards() {
			a.emit(&types.BoardMessage{Board: board})
		}
	}

	for _, sec := range matches {
		a.emit(&types.SecurityMessage{
			SecurityID:            sec.ID,
			Name:                  sec.Name,
			OriginalTransactionID: msg.TransactionID,
		})
	}

	a.emit(&types.SecurityLookupResultMessage{OriginalTransactionID: msg.TransactionID})

	return nil
}

func (a *HistoryAdapter) handleMarketData(msg *types.MarketDataMessage) error {
	var err error

	if msg.IsSubscribe {
		if len(a.provider.Lookup(msg.SecurityID.Symbol)) == 0 {
			err = errors.Newf(errors.ErrCodeSecurityNotFound, "unknown security %s", msg.SecurityID)
		} else {
			err = a.scheduler.Subscribe(msg)
		}
	} else {
		err = a.scheduler.Unsubscribe(msg.OriginalTransactionID)
	}

	a.emit(msg.Reply(err))

	if err == nil && msg.IsSubscribe {
		a.emit(&types.SubscriptionOnlineMessage{OriginalTransactionID: msg.TransactionID})
	}

	return nil
}

func (a *HistoryAdapter) handleGenerator(msg *types.GeneratorMessage) error {
	if !msg.IsSubscribe {
		a.scheduler.UnregisterGenerator(msg.OriginalTransactionID)

		a.mu.Lock()
		delete(a.generators, msg.OriginalTransactionID)
		a.mu.Unlock()

		return nil
	}

	if msg.Generator == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "nil generator")
	}

	if err := a.scheduler.RegisterGenerator(msg.SecurityID, msg.DataType, msg.Generator, msg.TransactionID); err != nil {
		return err
	}

	msg.Generator.Init()

	a.mu.Lock()
	a.generators[msg.TransactionID] = msg.Generator
	a.mu.Unlock()

	return nil
}

// handleEmulationState echoes the control message back whatever the
// transition outcome, rejected transitions included.
func (a *HistoryAdapter) handleEmulationState(msg *types.EmulationStateMessage) error {
	switch msg.State {
	case types.EmulationStateStarting:
		if err := a.startRun(msg); err != nil {
			a.emit(msg)

			return err
		}

		return nil
	case types.EmulationStateStopping:
		a.stopRun()
		a.emit(msg)

		return nil
	default:
		a.emit(msg)

		return errors.Newf(errors.ErrCodeInvalidParameter, "unsupported emulation state %s", msg.State)
	}
}

func (a *HistoryAdapter) startRun(ack *types.EmulationStateMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return errors.New(errors.ErrCodeNotStarted, "connect before starting a run")
	}

	if a.running {
		return errors.New(errors.ErrCodeAlreadyStarted, "run already active")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.running = true
	a.cancel = cancel

	seq := a.scheduler.Start(ctx, a.provider.Boards())

	// The echo must be on the wire before the run goroutine can outpace it.
	a.emit(ack)

	a.wg.Add(1)

	go a.run(ctx, seq)

	a.log.Debug("Replay run started",
		zap.Time("start_date", a.scheduler.StartDate()),
		zap.Time("stop_date", a.scheduler.StopDate()),
	)

	return nil
}

func (a *HistoryAdapter) run(ctx context.Context, seq func(yield func(types.Message, error) bool)) {
	defer a.wg.Done()

	var runErr error

	seq(func(msg types.Message, err error) bool {
		if err != nil {
			runErr = err

			return false
		}

		if !a.send(ctx, msg) {
			return false
		}

		for _, gen := range a.snapshotGenerators() {
			for _, produced := range gen.Process(msg) {
				if !a.send(ctx, produced) {
					return false
				}
			}
		}

		return true
	})

	if runErr != nil {
		a.log.Error("Replay run failed", zap.Error(runErr))
		a.send(ctx, types.NewEmulationStateMessage(types.EmulationStateStopping,
			a.scheduler.CurrentTime(), errors.Wrap(errors.ErrCodeReplayFailed, "replay run failed", runErr)))
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// stopRun cancels the active run and waits for its goroutine to drain.
// Safe to call when no run is active.
func (a *HistoryAdapter) stopRun() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		a.scheduler.Stop()
		cancel()
	}

	a.wg.Wait()
}

// Close stops any active run and closes the output channel.
func (a *HistoryAdapter) Close() {
	a.stopRun()
	close(a.out)
}

func (a *HistoryAdapter) snapshotGenerators() []types.MarketDataGenerator {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.generators) == 0 {
		return nil
	}

	gens := make([]types.MarketDataGenerator, 0, len(a.generators))

	for _, gen := range a.generators {
		gens = append(gens, gen)
	}

	return gens
}

// emit pushes a protocol reply. Replies never block forever: the output
// channel is buffered and protocol traffic is sparse next to market data.
func (a *HistoryAdapter) emit(msg types.Message) {
	// Counted before the send so a receiver never observes a message the
	// counter has not seen.
	a.outCount.Add(1)
	a.out <- msg
}

func (a *HistoryAdapter) send(ctx context.Context, msg types.Message) bool {
	a.outCount.Add(1)

	select {
	case a.out <- msg:
		return true
	case <-ctx.Done():
		a.outCount.Add(-1)

		return false
	}
}
