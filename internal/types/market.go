package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a trade or the side of a quote.
type Side int

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ExecKind distinguishes the two execution feeds sharing the same message
// shape.
type ExecKind int

const (
	ExecKindTick ExecKind = iota + 1
	ExecKindOrderLog
)

// ExecutionMessage is a trade tick or an order log record.
type ExecutionMessage struct {
	MessageHeader
	SecurityID SecurityID
	ExecKind   ExecKind
	TradeID    int64
	OrderID    int64
	Price      decimal.Decimal
	Volume     decimal.Decimal
	Side       Side
	Server     time.Time
}

func (m *ExecutionMessage) Type() MessageType     { return MessageTypeExecution }
func (m *ExecutionMessage) ServerTime() time.Time { return m.Server }

// Quote is one price level of an order book.
type Quote struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// QuoteChangeMessage is an order book snapshot or increment.
type QuoteChangeMessage struct {
	MessageHeader
	SecurityID SecurityID
	Bids       []Quote
	Asks       []Quote
	// Increment marks the message as an order book delta rather than a full
	// snapshot.
	Increment bool
	Server    time.Time
}

func (m *QuoteChangeMessage) Type() MessageType     { return MessageTypeQuoteChange }
func (m *QuoteChangeMessage) ServerTime() time.Time { return m.Server }

// Level1Field enumerates the level1 fields carried by a change message.
type Level1Field int

const (
	Level1FieldLastTradePrice Level1Field = iota + 1
	Level1FieldBestBidPrice
	Level1FieldBestAskPrice
	Level1FieldBestBidVolume
	Level1FieldBestAskVolume
	Level1FieldVolume
)

// Level1ChangeMessage carries changed level1 fields for a security.
type Level1ChangeMessage struct {
	MessageHeader
	SecurityID SecurityID
	Changes    map[Level1Field]decimal.Decimal
	Server     time.Time
}

func (m *Level1ChangeMessage) Type() MessageType     { return MessageTypeLevel1Change }
func (m *Level1ChangeMessage) ServerTime() time.Time { return m.Server }

// CandleMessage is one finished candle of a time frame feed. Its server time
// is the candle open time.
type CandleMessage struct {
	MessageHeader
	SecurityID SecurityID
	TimeFrame  time.Duration
	OpenTime   time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
}

func (m *CandleMessage) Type() MessageType     { return MessageTypeCandle }
func (m *CandleMessage) ServerTime() time.Time { return m.OpenTime }
