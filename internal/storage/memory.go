package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tradeforge/histreplay/internal/types"
	"github.com/tradeforge/histreplay/pkg/errors"
)

// MemoryStorage keeps the history of one feed in memory, keyed by UTC date.
// It backs tests and the in-memory drive.
type MemoryStorage struct {
	id       types.SecurityID
	dataType types.DataType

	mu     sync.RWMutex
	byDate map[time.Time][]types.Message
}

// NewMemoryStorage creates an empty in-memory storage for the given feed.
func NewMemoryStorage(id types.SecurityID, dataType types.DataType) *MemoryStorage {
	return &MemoryStorage{
		id:       id,
		dataType: dataType,
		byDate:   make(map[time.Time][]types.Message),
	}
}

// SecurityID implements MarketDataStorage.
func (s *MemoryStorage) SecurityID() types.SecurityID { return s.id }

// DataType implements MarketDataStorage.
func (s *MemoryStorage) DataType() types.DataType { return s.dataType }

// Append adds messages to the storage, bucketing them by the UTC date of
// their server time. Each day's messages are kept sorted by server time.
func (s *MemoryStorage) Append(msgs ...types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[time.Time]struct{})

	for _, msg := range msgs {
		date := midnightUTC(serverTimeOf(msg))
		s.byDate[date] = append(s.byDate[date], msg)
		touched[date] = struct{}{}
	}

	for date := range touched {
		day := s.byDate[date]
		sort.SliceStable(day, func(i, j int) bool {
			return serverTimeOf(day[i]).Before(serverTimeOf(day[j]))
		})
	}
}

// Load implements MarketDataStorage.
func (s *MemoryStorage) Load(ctx context.Context, date time.Time) func(yield func(types.Message, error) bool) {
	return func(yield func(types.Message, error) bool) {
		s.mu.RLock()
		day := s.byDate[midnightUTC(date)]
		s.mu.RUnlock()

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

// MemoryRegistry is an in-memory Registry. Storages are created on demand
// and shared across lookups, so data appended through one handle is visible
// to later subscribers of the same feed.
type MemoryRegistry struct {
	mu       sync.Mutex
	storages map[feedKey]*MemoryStorage
}

type feedKey struct {
	id       types.SecurityID
	dataType types.DataType
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		storages: make(map[feedKey]*MemoryStorage),
	}
}

// Storage returns the storage of the given feed, creating it when missing.
func (r *MemoryRegistry) Storage(id types.SecurityID, dataType types.DataType) *MemoryStorage {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := feedKey{id: id, dataType: dataType}

	s, ok := r.storages[key]
	if !ok {
		s = NewMemoryStorage(id, dataType)
		r.storages[key] = s
	}

	return s
}

// Level1Storage implements Registry.
func (r *MemoryRegistry) Level1Storage(id types.SecurityID) (MarketDataStorage, error) {
	return r.Storage(id, types.DataTypeLevel1), nil
}

// MarketDepthStorage implements Registry.
func (r *MemoryRegistry) MarketDepthStorage(id types.SecurityID, _ bool) (MarketDataStorage, error) {
	return r.Storage(id, types.DataTypeMarketDepth), nil
}

// TickStorage implements Registry.
func (r *MemoryRegistry) TickStorage(id types.SecurityID) (MarketDataStorage, error) {
	return r.Storage(id, types.DataTypeTicks), nil
}

// OrderLogStorage implements Registry.
func (r *MemoryRegistry) OrderLogStorage(id types.SecurityID) (MarketDataStorage, error) {
	return r.Storage(id, types.DataTypeOrderLog), nil
}

// CandleStorage implements Registry.
func (r *MemoryRegistry) CandleStorage(id types.SecurityID, dataType types.DataType) (MarketDataStorage, error) {
	if !dataType.IsCandles() {
		return nil, errors.Newf(errors.ErrCodeUnsupportedDataType, "not a candle data type: %s", dataType)
	}

	return r.Storage(id, dataType), nil
}

// AvailableDataTypes implements Registry. Only feeds that actually hold data
// are reported.
func (r *MemoryRegistry) AvailableDataTypes(id types.SecurityID) ([]types.DataType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dataTypes []types.DataType

	for key, s := range r.storages {
		if key.id != id {
			continue
		}

		s.mu.RLock()
		hasData := len(s.byDate) > 0
		s.mu.RUnlock()

		if hasData {
			dataTypes = append(dataTypes, key.dataType)
		}
	}

	return dataTypes, nil
}
