// Package storage provides the market data storage dependency of the replay
// scheduler: per-feed storages, a registry resolving feeds to storages, a
// basket merging several storages into one time-ordered day sequence, and a
// date-keyed cache over day loads.
package storage

import (
	"context"
	"time"

	"github.com/tradeforge/histreplay/internal/types"
)

// MarketDataStorage holds the persisted history of one (security, data type)
// feed.
type MarketDataStorage interface {
	SecurityID() types.SecurityID
	DataType() types.DataType
	// Load yields the stored messages of one UTC calendar date in server
	// time order.
	Load(ctx context.Context, date time.Time) func(yield func(types.Message, error) bool)
}

// Registry resolves a feed to its storage. It is the drive-facing surface
// the scheduler subscribes through.
type Registry interface {
	Level1Storage(id types.SecurityID) (MarketDataStorage, error)
	MarketDepthStorage(id types.SecurityID, doNotBuildIncrement bool) (MarketDataStorage, error)
	TickStorage(id types.SecurityID) (MarketDataStorage, error)
	OrderLogStorage(id types.SecurityID) (MarketDataStorage, error)
	CandleStorage(id types.SecurityID, dataType types.DataType) (MarketDataStorage, error)
	// AvailableDataTypes lists the data types the drive has history for.
	AvailableDataTypes(id types.SecurityID) ([]types.DataType, error)
}

// serverTimeOf extracts the exchange timestamp of a stored message. Stored
// messages always carry one.
func serverTimeOf(msg types.Message) time.Time {
	if st, ok := msg.(types.ServerTimed); ok {
		return st.ServerTime()
	}

	return msg.LocalTime()
}

func midnightUTC(date time.Time) time.Time {
	y, m, d := date.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
