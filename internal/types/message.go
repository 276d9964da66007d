package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// MessageType identifies the kind of a message flowing through the replay
// pipeline.
type MessageType int

const (
	MessageTypeTime MessageType = iota + 1
	MessageTypeQuoteChange
	MessageTypeExecution
	MessageTypeCandle
	MessageTypeLevel1Change
	MessageTypeReset
	MessageTypeConnect
	MessageTypeDisconnect
	MessageTypeMarketData
	MessageTypeSecurityLookup
	MessageTypeSecurity
	MessageTypeSecurityLookupResult
	MessageTypeSubscriptionOnline
	MessageTypeBoard
	MessageTypeEmulationState
)

// MessageTypeGenerator registers or removes a synthetic market data generator.
// The tag is negative so it can never collide with the built-in message types.
const MessageTypeGenerator MessageType = -1

func (t MessageType) String() string {
	switch t {
	case MessageTypeTime:
		return "time"
	case MessageTypeQuoteChange:
		return "quote_change"
	case MessageTypeExecution:
		return "execution"
	case MessageTypeCandle:
		return "candle"
	case MessageTypeLevel1Change:
		return "level1_change"
	case MessageTypeReset:
		return "reset"
	case MessageTypeConnect:
		return "connect"
	case MessageTypeDisconnect:
		return "disconnect"
	case MessageTypeMarketData:
		return "market_data"
	case MessageTypeSecurityLookup:
		return "security_lookup"
	case MessageTypeSecurity:
		return "security"
	case MessageTypeSecurityLookupResult:
		return "security_lookup_result"
	case MessageTypeSubscriptionOnline:
		return "subscription_online"
	case MessageTypeBoard:
		return "board"
	case MessageTypeEmulationState:
		return "emulation_state"
	case MessageTypeGenerator:
		return "generator"
	default:
		return "unknown"
	}
}

// Message is the unit of data produced by the replay pipeline. LocalTime is
// the time the message passed through the adapter; for replayed data it is
// stamped to the message's server time by the scheduler filter.
type Message interface {
	Type() MessageType
	LocalTime() time.Time
	SetLocalTime(t time.Time)
}

// ServerTimed is implemented by messages carrying an exchange-side timestamp.
type ServerTimed interface {
	Message
	ServerTime() time.Time
}

// MessageHeader carries the fields shared by every message.
type MessageHeader struct {
	Time time.Time
}

// LocalTime implements Message.
func (h *MessageHeader) LocalTime() time.Time { return h.Time }

// SetLocalTime implements Message.
func (h *MessageHeader) SetLocalTime(t time.Time) { h.Time = t }

// TimeMessage advances the simulated clock. It is the only message emitted
// for dates without stored market data.
type TimeMessage struct {
	MessageHeader
	Server time.Time
}

func (m *TimeMessage) Type() MessageType     { return MessageTypeTime }
func (m *TimeMessage) ServerTime() time.Time { return m.Server }

// ResetMessage acknowledges a reset request.
type ResetMessage struct {
	MessageHeader
}

func (m *ResetMessage) Type() MessageType { return MessageTypeReset }

// ConnectMessage acknowledges a connect request. LocalTime is stamped with
// the replay window's start date.
type ConnectMessage struct {
	MessageHeader
}

func (m *ConnectMessage) Type() MessageType { return MessageTypeConnect }

// DisconnectMessage acknowledges a disconnect request. LocalTime is stamped
// with the replay window's stop date.
type DisconnectMessage struct {
	MessageHeader
}

func (m *DisconnectMessage) Type() MessageType { return MessageTypeDisconnect }

// EmulationState describes the lifecycle of a replay run.
type EmulationState int

const (
	EmulationStateStopped EmulationState = iota
	EmulationStateStarting
	EmulationStateStarted
	EmulationStateStopping
)

func (s EmulationState) String() string {
	switch s {
	case EmulationStateStopped:
		return "stopped"
	case EmulationStateStarting:
		return "starting"
	case EmulationStateStarted:
		return "started"
	case EmulationStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// EmulationStateMessage carries a replay lifecycle transition. The scheduler
// emits a Stopping message stamped with the stop date when the window is
// exhausted; the adapter emits one with Err set when a run fails.
type EmulationStateMessage struct {
	MessageHeader
	State EmulationState
	Err   error
}

func (m *EmulationStateMessage) Type() MessageType { return MessageTypeEmulationState }

// NewEmulationStateMessage creates a state transition message stamped with
// the given local time.
func NewEmulationStateMessage(state EmulationState, localTime time.Time, err error) *EmulationStateMessage {
	return &EmulationStateMessage{
		MessageHeader: MessageHeader{Time: localTime},
		State:         state,
		Err:           err,
	}
}

// MarketDataMessage is a subscribe or unsubscribe request, and doubles as the
// reply: the adapter copies the request, fills OriginalTransactionID and Err,
// and sends it back.
type MarketDataMessage struct {
	MessageHeader
	SecurityID            SecurityID
	DataType              DataType
	TransactionID         int64
	OriginalTransactionID int64
	IsSubscribe           bool
	// From narrows the subscription to data at or after this time. Absent
	// means the whole replay window.
	From optional.Option[time.Time]
	// Count caps the number of delivered messages. Absent means unlimited.
	Count optional.Option[int64]
	// DoNotBuildOrderBookIncrement disables order book increment building in
	// the market depth storage.
	DoNotBuildOrderBookIncrement bool
	Err                          error
}

func (m *MarketDataMessage) Type() MessageType { return MessageTypeMarketData }

// Reply clones the request into a reply tagged with the original transaction
// id and the subscription outcome.
func (m *MarketDataMessage) Reply(err error) *MarketDataMessage {
	reply := *m
	reply.OriginalTransactionID = m.TransactionID
	reply.Err = err

	return &reply
}

// SubscriptionOnlineMessage acknowledges that a subscription has been applied
// and its data is part of the replay stream.
type SubscriptionOnlineMessage struct {
	MessageHeader
	OriginalTransactionID int64
}

func (m *SubscriptionOnlineMessage) Type() MessageType { return MessageTypeSubscriptionOnline }

// SecurityLookupMessage requests instrument resolution from the security
// provider. An empty Symbol matches every known security.
type SecurityLookupMessage struct {
	MessageHeader
	TransactionID int64
	Symbol        string
}

func (m *SecurityLookupMessage) Type() MessageType { return MessageTypeSecurityLookup }

// SecurityMessage describes one instrument matched by a lookup.
type SecurityMessage struct {
	MessageHeader
	SecurityID            SecurityID
	Name                  string
	OriginalTransactionID int64
}

func (m *SecurityMessage) Type() MessageType { return MessageTypeSecurity }

// SecurityLookupResultMessage terminates a lookup reply sequence.
type SecurityLookupResultMessage struct {
	MessageHeader
	OriginalTransactionID int64
}

func (m *SecurityLookupResultMessage) Type() MessageType { return MessageTypeSecurityLookupResult }

// BoardMessage describes a trading board matched by a lookup.
type BoardMessage struct {
	MessageHeader
	Board *Board
}

func (m *BoardMessage) Type() MessageType { return MessageTypeBoard }

// GeneratorMessage registers (IsSubscribe) or removes a synthetic market data
// generator for a feed. It is an extended message: its type tag is negative
// so it stays outside the built-in enumeration.
type GeneratorMessage struct {
	MessageHeader
	SecurityID            SecurityID
	DataType              DataType
	Generator             MarketDataGenerator
	TransactionID         int64
	OriginalTransactionID int64
	IsSubscribe           bool
}

func (m *GeneratorMessage) Type() MessageType { return MessageTypeGenerator }

// MarketDataGenerator produces synthetic market data for a feed that has no
// stored history. Generators are driven by the time messages of the replay
// stream.
type MarketDataGenerator interface {
	SecurityID() SecurityID
	DataType() DataType
	// Init resets the generator state before a run.
	Init()
	// Process reacts to a message from the replay stream and returns any
	// generated messages.
	Process(msg Message) []Message
}
