package storage

import (
	"context"
	"time"

	"github.com/tradeforge/histreplay/internal/types"
)

// WithFrom narrows a storage to messages at or after the given time.
func WithFrom(s MarketDataStorage, from time.Time) MarketDataStorage {
	return &fromStorage{MarketDataStorage: s, from: from}
}

type fromStorage struct {
	MarketDataStorage
	from time.Time
}

func (s *fromStorage) Underlying() MarketDataStorage { return s.MarketDataStorage }

func (s *fromStorage) Load(ctx context.Context, date time.Time) func(yield func(types.Message, error) bool) {
	return func(yield func(types.Message, error) bool) {
		s.MarketDataStorage.Load(ctx, date)(func(msg types.Message, err error) bool {
			if err != nil {
				return yield(nil, err)
			}

			if serverTimeOf(msg).Before(s.from) {
				return true
			}

			return yield(msg, nil)
		})
	}
}

// WithLimit caps the total number of stored messages a storage delivers
// across all loaded dates. Each stored message is charged against the budget
// once: reloading a day after a mid-day mutation replays already charged
// messages for free instead of draining the cap again. The counters belong
// to the replay loop and are not safe for concurrent loads.
func WithLimit(s MarketDataStorage, limit int64) MarketDataStorage {
	return &limitStorage{MarketDataStorage: s, remaining: limit}
}

type limitStorage struct {
	MarketDataStorage
	remaining int64

	// Charged high-water mark. Everything strictly before charged, plus the
	// first chargedAt messages at exactly charged, has already been paid for.
	charged   time.Time
	chargedAt int64
}

func (s *limitStorage) Underlying() MarketDataStorage { return s.MarketDataStorage }

func (s *limitStorage) Load(ctx context.Context, date time.Time) func(yield func(types.Message, error) bool) {
	return func(yield func(types.Message, error) bool) {
		var seenAtMark int64

		s.MarketDataStorage.Load(ctx, date)(func(msg types.Message, err error) bool {
			if err != nil {
				return yield(nil, err)
			}

			serverTime := serverTimeOf(msg)

			if serverTime.Before(s.charged) {
				return yield(msg, nil)
			}

			if serverTime.Equal(s.charged) {
				seenAtMark++

				if seenAtMark <= s.chargedAt {
					return yield(msg, nil)
				}
			}

			if s.remaining <= 0 {
				return false
			}

			s.remaining--

			if serverTime.After(s.charged) {
				s.charged = serverTime
				s.chargedAt = 1
				seenAtMark = 1
			} else {
				s.chargedAt++
			}

			return yield(msg, nil)
		})
	}
}
