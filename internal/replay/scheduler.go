// Package replay implements the historical market data replay scheduler: it
// owns the mutable subscription set, the simulated clock and the
// date-stepping merge loop that turns persisted market data into one
// strictly time-ordered message sequence.
package replay

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/histreplay/internal/logger"
	"github.com/tradeforge/histreplay/internal/storage"
	"github.com/tradeforge/histreplay/internal/timeline"
	"github.com/tradeforge/histreplay/internal/types"
	"github.com/tradeforge/histreplay/pkg/errors"
)

// pendingAction is one queued subscription mutation. A non-nil storage adds
// it to the merge set under transactionID; a nil storage removes whatever
// that transaction added.
type pendingAction struct {
	storage       storage.MarketDataStorage
	transactionID int64
}

type generatorKey struct {
	securityID types.SecurityID
	dataType   types.DataType
}

type generatorEntry struct {
	generator     types.MarketDataGenerator
	transactionID int64
}

// Options configure a Scheduler.
type Options struct {
	// StartDate and StopDate bound the replay window. StopDate is inclusive.
	StartDate time.Time
	StopDate  time.Time
	// MarketTimeChangedInterval is the synthetic heartbeat granularity. Must
	// be positive.
	MarketTimeChangedInterval time.Duration
	// PostTradeMarketTimeChangedCount is the number of heartbeats emitted
	// after session close. Must be non-negative.
	PostTradeMarketTimeChangedCount int
	// CheckTradableDates skips calendar dates no board trades on.
	CheckTradableDates bool
	// Registry resolves subscriptions to storages. Subscribing without one
	// fails with a configuration error.
	Registry storage.Registry
	// StorageCache memoizes merged day loads inside the basket.
	StorageCache *storage.Cache
	// AdapterCache memoizes day sequences at the scheduler boundary.
	AdapterCache *storage.Cache
	Logger       *logger.Logger
}

// Scheduler produces a single lazy ordered message sequence spanning the
// replay window, absorbing subscription changes without restarting the run.
//
// Mutating calls (Subscribe, Unsubscribe, Stop) may come from any goroutine:
// they only queue a pending action and signal the wake channel. The loop
// inside Start owns the basket exclusively and drains the queue at iteration
// boundaries.
type Scheduler struct {
	log          *logger.Logger
	registry     storage.Registry
	basket       *storage.Basket
	adapterCache *storage.Cache

	startDate      time.Time
	stopDate       time.Time
	interval       time.Duration
	postTradeCount int
	checkDates     bool

	mu          sync.Mutex
	pending     []pendingAction
	dirty       bool
	generators  map[generatorKey]generatorEntry
	currentTime time.Time

	wake chan struct{}

	loadedCount atomic.Int64
	started     atomic.Bool
}

// NewScheduler validates the options and creates a scheduler with an empty
// subscription set.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.MarketTimeChangedInterval <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidInterval,
			"market time changed interval must be positive, got %s", opts.MarketTimeChangedInterval)
	}

	if opts.PostTradeMarketTimeChangedCount < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidCount,
			"post trade market time changed count must be non-negative, got %d", opts.PostTradeMarketTimeChangedCount)
	}

	if opts.StopDate.Before(opts.StartDate) {
		return nil, errors.Newf(errors.ErrCodeInvalidDateRange,
			"stop date %s is before start date %s", opts.StopDate, opts.StartDate)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	basket := storage.NewBasket()
	basket.SetCache(opts.StorageCache)

	return &Scheduler{
		log:            log,
		registry:       opts.Registry,
		basket:         basket,
		adapterCache:   opts.AdapterCache,
		startDate:      opts.StartDate,
		stopDate:       opts.StopDate,
		interval:       opts.MarketTimeChangedInterval,
		postTradeCount: opts.PostTradeMarketTimeChangedCount,
		checkDates:     opts.CheckTradableDates,
		generators:     make(map[generatorKey]generatorEntry),
		wake:           make(chan struct{}, 1),
	}, nil
}

// StartDate returns the inclusive start of the replay window.
func (s *Scheduler) StartDate() time.Time { return s.startDate }

// StopDate returns the inclusive end of the replay window.
func (s *Scheduler) StopDate() time.Time { return s.stopDate }

// CurrentTime returns the simulated clock: the server time of the last
// emitted message, or zero before the first emission.
func (s *Scheduler) CurrentTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.currentTime
}

// LoadedMessageCount returns the number of messages emitted so far.
func (s *Scheduler) LoadedMessageCount() int64 {
	return s.loadedCount.Load()
}

// IsStarted reports whether a run is currently iterating.
func (s *Scheduler) IsStarted() bool {
	return s.started.Load()
}

// Subscribe resolves a market data request to a storage and queues it for
// the merge set. Failures (no registry, unsupported data type, tick/candle
// generator conflict) are returned as values so a bad subscription cannot
// abort the run.
func (s *Scheduler) Subscribe(msg *types.MarketDataMessage) error {
	if msg == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "nil market data message")
	}

	if !msg.IsSubscribe {
		return errors.New(errors.ErrCodeInvalidParameter, "message must be a subscription, not an unsubscription")
	}

	if s.registry == nil {
		return errors.Newf(errors.ErrCodeNoStorageRegistry,
			"no storage registry configured: cannot serve %s for %s", msg.DataType, msg.SecurityID)
	}

	if msg.Count.IsSome() && msg.Count.Unwrap() < 0 {
		return errors.Newf(errors.ErrCodeInvalidCount, "negative message count %d", msg.Count.Unwrap())
	}

	id := msg.SecurityID
	dataType := msg.DataType

	var (
		st  storage.MarketDataStorage
		err error
	)

	switch dataType.Kind {
	case types.KindLevel1:
		if s.HasGenerator(id, dataType) {
			return nil
		}

		st, err = s.registry.Level1Storage(id)
	case types.KindMarketDepth:
		if s.HasGenerator(id, dataType) {
			return nil
		}

		st, err = s.registry.MarketDepthStorage(id, msg.DoNotBuildOrderBookIncrement)
	case types.KindTicks:
		if s.HasGenerator(id, dataType) {
			return nil
		}

		st, err = s.registry.TickStorage(id)
	case types.KindOrderLog:
		if s.HasGenerator(id, dataType) {
			return nil
		}

		st, err = s.registry.OrderLogStorage(id)
	case types.KindCandleTimeFrame:
		// A security driven by a synthetic tick generator cannot also replay
		// stored candles.
		if s.HasGenerator(id, types.DataTypeTicks) {
			return errors.Newf(errors.ErrCodeGeneratorConflict,
				"tick generator already registered for %s, candles not supported", id)
		}

		st, err = s.registry.CandleStorage(id, dataType)
	default:
		return errors.Newf(errors.ErrCodeUnsupportedDataType,
			"unsupported data type %s for %s", dataType, id)
	}

	if err != nil {
		return err
	}

	if msg.From.IsSome() {
		st = storage.WithFrom(st, msg.From.Unwrap())
	}

	if msg.Count.IsSome() {
		st = storage.WithLimit(st, msg.Count.Unwrap())
	}

	return s.addStorage(st, msg.TransactionID)
}

// Unsubscribe queues removal of the storage added under the given
// transaction id and wakes the loop.
func (s *Scheduler) Unsubscribe(originalTransactionID int64) error {
	if originalTransactionID == 0 {
		return errors.New(errors.ErrCodeInvalidTransactionID, "invalid transaction id")
	}

	s.mu.Lock()
	s.dirty = true
	s.pending = append(s.pending, pendingAction{transactionID: originalTransactionID})
	s.mu.Unlock()

	s.signal()

	s.log.Debug("Queued unsubscription", zap.Int64("transaction_id", originalTransactionID))

	return nil
}

func (s *Scheduler) addStorage(st storage.MarketDataStorage, transactionID int64) error {
	if st == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "nil storage")
	}

	if transactionID == 0 {
		return errors.New(errors.ErrCodeInvalidTransactionID, "invalid transaction id")
	}

	s.mu.Lock()
	s.dirty = true
	s.pending = append(s.pending, pendingAction{storage: st, transactionID: transactionID})
	s.mu.Unlock()

	s.signal()

	s.log.Debug("Queued subscription",
		zap.String("security_id", st.SecurityID().String()),
		zap.String("data_type", st.DataType().String()),
		zap.Int64("transaction_id", transactionID),
	)

	return nil
}

// RegisterGenerator declares a feed synthetic rather than storage backed.
func (s *Scheduler) RegisterGenerator(id types.SecurityID, dataType types.DataType, gen types.MarketDataGenerator, transactionID int64) error {
	if gen == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "nil generator")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := generatorKey{securityID: id, dataType: dataType}

	if _, ok := s.generators[key]; ok {
		return errors.Newf(errors.ErrCodeDuplicateSubscription,
			"generator already registered for %s %s", id, dataType)
	}

	s.generators[key] = generatorEntry{generator: gen, transactionID: transactionID}

	return nil
}

// UnregisterGenerator removes the generator registered under the given
// transaction id. It reports whether anything was removed.
func (s *Scheduler) UnregisterGenerator(originalTransactionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.generators {
		if entry.transactionID == originalTransactionID {
			delete(s.generators, key)

			return true
		}
	}

	return false
}

// HasGenerator reports whether a generator is registered for the feed.
func (s *Scheduler) HasGenerator(id types.SecurityID, dataType types.DataType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.generators[generatorKey{securityID: id, dataType: dataType}]

	return ok
}

// SupportedDataTypes combines the drive's advertised data types with the
// registered generators for a security.
func (s *Scheduler) SupportedDataTypes(id types.SecurityID) ([]types.DataType, error) {
	seen := make(map[types.DataType]struct{})

	var dataTypes []types.DataType

	if s.registry != nil {
		available, err := s.registry.AvailableDataTypes(id)
		if err != nil {
			return nil, err
		}

		for _, dt := range available {
			if _, ok := seen[dt]; !ok {
				seen[dt] = struct{}{}
				dataTypes = append(dataTypes, dt)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.generators {
		if key.securityID != id {
			continue
		}

		if _, ok := seen[key.dataType]; !ok {
			seen[key.dataType] = struct{}{}
			dataTypes = append(dataTypes, key.dataType)
		}
	}

	return dataTypes, nil
}

// Stop marks the run dirty and wakes the loop, terminating the in-progress
// day without completing it. Calling it repeatedly, or after the run
// finished, has no further effect.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()

	s.signal()
}

// Reset clears generators, the merge set, the simulated clock and the
// emitted message counter. It is only valid while no run is iterating.
func (s *Scheduler) Reset() error {
	if s.started.Load() {
		return errors.New(errors.ErrCodeResetWhileRunning, "cannot reset while a run is active")
	}

	s.mu.Lock()
	s.generators = make(map[generatorKey]generatorEntry)
	s.pending = nil
	s.dirty = false
	s.currentTime = time.Time{}
	s.mu.Unlock()

	s.basket.Clear()
	s.loadedCount.Store(0)

	return nil
}

// Start returns the replay sequence: a lazy iterator over the merged,
// time-ordered messages of every date in the window. Each run is single use;
// iterating the result again after completion starts a fresh pass over the
// current window and subscription state.
//
// The iterator blocks on the wake signal between passes and while loading
// day data; cancellation of ctx is a clean, silent exit with no terminal
// message.
func (s *Scheduler) Start(ctx context.Context, boards []*types.Board) func(yield func(types.Message, error) bool) {
	s.started.Store(true)

	// Prime the wake event so the first pass runs without an external
	// mutation.
	s.signal()

	boardsCopy := slices.Clone(boards)

	return func(yield func(types.Message, error) bool) {
		defer s.started.Store(false)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}

			s.mu.Lock()
			s.dirty = false
			actions := s.pending
			s.pending = nil
			s.mu.Unlock()

			for _, a := range actions {
				if a.storage != nil {
					s.basket.Add(a.storage, a.transactionID)
				} else {
					s.basket.Remove(a.transactionID)
				}
			}

			currentTime := s.CurrentTime()
			if currentTime.IsZero() {
				currentTime = s.startDate
			}

			loadDate := midnightUTC(currentTime)
			stopDate := midnightUTC(s.stopDate)
			checkDates := s.checkDates && len(boardsCopy) > 0

			for !loadDate.After(stopDate) && !s.isDirty() && ctx.Err() == nil {
				if !checkDates || timeline.IsTradeDate(boardsCopy, loadDate) {
					seq, err := s.daySource(ctx, boardsCopy, loadDate)
					if err != nil {
						yield(nil, err)

						return
					}

					if !s.emitDay(ctx, yield, seq, currentTime) {
						return
					}
				}

				loadDate = loadDate.AddDate(0, 0, 1)
			}

			if ctx.Err() != nil {
				return
			}

			if !s.isDirty() {
				yield(types.NewEmulationStateMessage(types.EmulationStateStopping, s.stopDate, nil), nil)

				return
			}
		}
	}
}

// daySource picks the message sequence for one date: the merged storage
// load, or a synthetic time line when the basket holds nothing beyond the
// baseline time channel for that date.
func (s *Scheduler) daySource(ctx context.Context, boards []*types.Board, date time.Time) (func(yield func(types.Message, error) bool), error) {
	messageTypes, err := s.basket.MessageTypes(ctx, date)
	if err != nil {
		return nil, err
	}

	noData := true

	for _, mt := range messageTypes {
		if mt != types.MessageTypeTime {
			noData = false

			break
		}
	}

	if noData {
		boundaries := timeline.SimpleTimeLine(boards, date, s.interval)

		post, err := timeline.PostTradeTimeMessages(date, timeline.LastSessionEnd(boards, date), s.interval, s.postTradeCount)
		if err != nil {
			return nil, err
		}

		msgs := make([]types.Message, 0, len(boundaries)+len(post))

		for _, m := range boundaries {
			msgs = append(msgs, m)
		}

		for _, m := range post {
			msgs = append(msgs, m)
		}

		s.log.Debug("No stored data, substituting synthetic time line",
			zap.Time("date", date),
			zap.Int("events", len(msgs)),
		)

		return sliceSeq(ctx, msgs), nil
	}

	if s.adapterCache != nil {
		return s.adapterCache.GetMessages(ctx, date, s.basket.Load), nil
	}

	return s.basket.Load(ctx, date), nil
}

// emitDay filters and emits one date's sequence. It returns false when the
// whole iterator must stop: the consumer broke out, the context was
// cancelled, or an error was surfaced. A day interrupted by the dirty flag
// returns true; the caller re-enters the same day with the updated merge
// set.
func (s *Scheduler) emitDay(
	ctx context.Context,
	yield func(types.Message, error) bool,
	seq func(yield func(types.Message, error) bool),
	curTime time.Time,
) bool {
	alive := true

	seq(func(msg types.Message, err error) bool {
		if err != nil {
			yield(nil, err)

			alive = false

			return false
		}

		if ctx.Err() != nil {
			alive = false

			return false
		}

		st, timed := msg.(types.ServerTimed)
		if timed {
			// Already replayed up to here: after a mutation triggered
			// re-entry the day restarts from the top, and everything before
			// the simulated clock was emitted in the previous pass.
			if st.ServerTime().Before(curTime) {
				return true
			}

			msg.SetLocalTime(st.ServerTime())
		}

		if msg.LocalTime().Before(s.startDate) {
			// Data before the window is dropped, but time messages pass so
			// the clock still advances to the start.
			if mt := msg.Type(); mt == types.MessageTypeQuoteChange || mt == types.MessageTypeExecution {
				return true
			}
		}

		if msg.LocalTime().After(s.stopDate) {
			return false
		}

		s.loadedCount.Add(1)

		if timed {
			s.setCurrentTime(st.ServerTime())
		}

		if !yield(msg, nil) {
			alive = false

			return false
		}

		return !s.isDirty()
	})

	return alive
}

func (s *Scheduler) setCurrentTime(t time.Time) {
	s.mu.Lock()
	s.currentTime = t
	s.mu.Unlock()
}

func (s *Scheduler) isDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirty
}

// signal sets the wake event. The channel holds one pending wake at most,
// matching auto-reset semantics.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func sliceSeq(ctx context.Context, msgs []types.Message) func(yield func(types.Message, error) bool) {
	return func(yield func(types.Message, error) bool) {
		for _, msg := range msgs {
			if ctx.Err() != nil {
				return
			}

			if !yield(msg, nil) {
				return
			}
		}
	}
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
