package storage

import (
	"context"
	"iter"
	"time"

	"github.com/tradeforge/histreplay/internal/types"
)

// Basket merges several market data storages into a single time-ordered day
// sequence. Every inner storage is tagged with the transaction id of the
// subscription that added it, so an unsubscribe can remove exactly that
// storage again.
//
// Basket is not safe for concurrent use: the replay loop owns it
// exclusively, cross-thread callers only queue mutations at the scheduler.
type Basket struct {
	inner []innerStorage
	cache *Cache
}

type innerStorage struct {
	storage       MarketDataStorage
	transactionID int64
}

// NewBasket creates an empty basket.
func NewBasket() *Basket {
	return &Basket{}
}

// SetCache installs a date-keyed cache over day loads. A nil cache disables
// caching.
func (b *Basket) SetCache(c *Cache) {
	b.cache = c
}

// Add appends a storage tagged with its subscription transaction id.
func (b *Basket) Add(s MarketDataStorage, transactionID int64) {
	b.inner = append(b.inner, innerStorage{storage: s, transactionID: transactionID})
}

// Remove drops the storage added under the given transaction id. Removing an
// id that is not present is a no-op, which makes a queued double-removal
// harmless.
func (b *Basket) Remove(transactionID int64) {
	for i, in := range b.inner {
		if in.transactionID == transactionID {
			b.inner = append(b.inner[:i], b.inner[i+1:]...)

			return
		}
	}
}

// Clear drops every inner storage.
func (b *Basket) Clear() {
	b.inner = nil
}

// Len returns the number of inner storages.
func (b *Basket) Len() int {
	return len(b.inner)
}

// MessageTypes returns the distinct message types that have stored data on
// the given date. The scheduler probes this to decide whether a day needs a
// synthetic time line.
func (b *Basket) MessageTypes(ctx context.Context, date time.Time) ([]types.MessageType, error) {
	seen := make(map[types.MessageType]struct{})

	var messageTypes []types.MessageType

	for _, in := range b.inner {
		first, err := firstMessage(ctx, probeTarget(in.storage), date)
		if err != nil {
			return nil, err
		}

		if first == nil {
			continue
		}

		if _, ok := seen[first.Type()]; !ok {
			seen[first.Type()] = struct{}{}
			messageTypes = append(messageTypes, first.Type())
		}
	}

	return messageTypes, nil
}

// probeTarget unwraps filtering decorators so a probe read never spends
// their budget.
func probeTarget(s MarketDataStorage) MarketDataStorage {
	type unwrapper interface {
		Underlying() MarketDataStorage
	}

	for {
		u, ok := s.(unwrapper)
		if !ok {
			return s
		}

		s = u.Underlying()
	}
}

func firstMessage(ctx context.Context, s MarketDataStorage, date time.Time) (types.Message, error) {
	next, stop := iter.Pull2(iter.Seq2[types.Message, error](s.Load(ctx, date)))
	defer stop()

	msg, err, ok := next()
	if !ok {
		return nil, nil
	}

	return msg, err
}

// Load yields the merged messages of every inner storage for one UTC date in
// server time order. Ties resolve in storage insertion order. When a cache
// is installed the merged day is served and recorded through it.
func (b *Basket) Load(ctx context.Context, date time.Time) func(yield func(types.Message, error) bool) {
	if b.cache != nil {
		return b.cache.GetMessages(ctx, date, b.load)
	}

	return b.load(ctx, date)
}

func (b *Basket) load(ctx context.Context, date time.Time) func(yield func(types.Message, error) bool) {
	inner := make([]innerStorage, len(b.inner))
	copy(inner, b.inner)

	return func(yield func(types.Message, error) bool) {
		type head struct {
			next func() (types.Message, error, bool)
			stop func()
			msg  types.Message
			ok   bool
		}

		heads := make([]*head, 0, len(inner))

		defer func() {
			for _, h := range heads {
				h.stop()
			}
		}()

		for _, in := range inner {
			next, stop := iter.Pull2(iter.Seq2[types.Message, error](in.storage.Load(ctx, date)))
			h := &head{next: next, stop: stop}

			msg, err, ok := h.next()
			if err != nil {
				heads = append(heads, h)
				yield(nil, err)

				return
			}

			h.msg, h.ok = msg, ok
			heads = append(heads, h)
		}

		for {
			if ctx.Err() != nil {
				return
			}

			best := -1

			for i, h := range heads {
				if !h.ok {
					continue
				}

				if best < 0 || serverTimeOf(h.msg).Before(serverTimeOf(heads[best].msg)) {
					best = i
				}
			}

			if best < 0 {
				return
			}

			if !yield(heads[best].msg, nil) {
				return
			}

			msg, err, ok := heads[best].next()
			if err != nil {
				yield(nil, err)

				return
			}

			heads[best].msg, heads[best].ok = msg, ok
		}
	}
}
