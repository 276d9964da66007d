package types

import (
	"fmt"
	"time"
)

// SecurityID identifies an instrument on a particular board.
type SecurityID struct {
	Symbol string
	Board  string
}

func (id SecurityID) String() string {
	return fmt.Sprintf("%s@%s", id.Symbol, id.Board)
}

// IsZero reports whether the id is empty.
func (id SecurityID) IsZero() bool {
	return id.Symbol == "" && id.Board == ""
}

// MarketDataKind enumerates the supported market data feeds.
type MarketDataKind int

const (
	KindLevel1 MarketDataKind = iota + 1
	KindMarketDepth
	KindTicks
	KindOrderLog
	KindCandleTimeFrame
)

func (k MarketDataKind) String() string {
	switch k {
	case KindLevel1:
		return "level1"
	case KindMarketDepth:
		return "depth"
	case KindTicks:
		return "ticks"
	case KindOrderLog:
		return "order_log"
	case KindCandleTimeFrame:
		return "candles"
	default:
		return "unknown"
	}
}

// DataType identifies one logical market data feed kind. Candle feeds carry
// the candle time frame as an argument; for every other kind TimeFrame is
// zero. DataType is comparable and used as a map key together with
// SecurityID.
type DataType struct {
	Kind      MarketDataKind
	TimeFrame time.Duration
}

var (
	DataTypeLevel1      = DataType{Kind: KindLevel1}
	DataTypeMarketDepth = DataType{Kind: KindMarketDepth}
	DataTypeTicks       = DataType{Kind: KindTicks}
	DataTypeOrderLog    = DataType{Kind: KindOrderLog}
)

// CandleTimeFrame creates a candle data type for the given time frame.
func CandleTimeFrame(tf time.Duration) DataType {
	return DataType{Kind: KindCandleTimeFrame, TimeFrame: tf}
}

// IsCandles reports whether the data type is a candle feed.
func (d DataType) IsCandles() bool {
	return d.Kind == KindCandleTimeFrame
}

func (d DataType) String() string {
	if d.IsCandles() {
		return fmt.Sprintf("%s(%s)", d.Kind, d.TimeFrame)
	}

	return d.Kind.String()
}

// MessageType returns the message type produced by this feed.
func (d DataType) MessageType() MessageType {
	switch d.Kind {
	case KindLevel1:
		return MessageTypeLevel1Change
	case KindMarketDepth:
		return MessageTypeQuoteChange
	case KindTicks, KindOrderLog:
		return MessageTypeExecution
	case KindCandleTimeFrame:
		return MessageTypeCandle
	default:
		return 0
	}
}
