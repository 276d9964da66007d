package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tradeforge/histreplay/internal/types"
)

// Cache memoizes merged day sequences keyed by UTC date. A day is recorded
// only when its sequence was consumed to the end, so a partially drained day
// (a mid-day subscription change) is reloaded rather than served truncated.
type Cache struct {
	mu   sync.RWMutex
	days map[time.Time][]types.Message
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		days: make(map[time.Time][]types.Message),
	}
}

// Reset drops every cached day.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.days = make(map[time.Time][]types.Message)
}

// GetMessages serves the given date from the cache, falling back to load on
// a miss and recording the result on complete consumption.
func (c *Cache) GetMessages(
	ctx context.Context,
	date time.Time,
	load func(ctx context.Context, date time.Time) func(yield func(types.Message, error) bool),
) func(yield func(types.Message, error) bool) {
	key := midnightUTC(date)

	c.mu.RLock()
	day, ok := c.days[key]
	c.mu.RUnlock()

	if ok {
		return func(yield func(types.Message, error) bool) {
			for _, msg := range day {
				if ctx.Err() != nil {
					return
				}

				if !yield(msg, nil) {
					return
				}
			}
		}
	}

	return func(yield func(types.Message, error) bool) {
		var recorded []types.Message

		complete := true

		load(ctx, date)(func(msg types.Message, err error) bool {
			if err != nil {
				complete = false

				return yield(nil, err)
			}

			recorded = append(recorded, msg)

			if !yield(msg, nil) {
				complete = false

				return false
			}

			return true
		})

		if complete && ctx.Err() == nil {
			c.mu.Lock()
			c.days[key] = recorded
			c.mu.Unlock()
		}
	}
}
