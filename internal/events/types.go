// internal/events/types.go
package events

import (
	"time"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

// EventType represents the type of event.
type EventType string

const (
	CurveActivated EventType = "curve.activated"
	TradeExecuted  EventType = "trade.executed"
	CurveFrozen    EventType = "curve.frozen"
	CurveLaunched  EventType = "curve.launched"
	LaunchFailed   EventType = "launch.failed"
	AirdropClaimed EventType = "airdrop.claimed"
)

// AllTypes lists every event type the engine publishes.
var AllTypes = []EventType{CurveActivated, TradeExecuted, CurveFrozen, CurveLaunched, LaunchFailed, AirdropClaimed}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Curve() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
	CurveID   string
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// Curve returns the id of the curve the event belongs to.
func (e BaseEvent) Curve() string {
	return e.CurveID
}

// NewBase stamps a BaseEvent.
func NewBase(typ EventType, curveID string, at time.Time) BaseEvent {
	return BaseEvent{EventType: typ, EventTime: at, CurveID: curveID}
}

// CurveActivatedEvent is emitted when an owner opens a curve.
type CurveActivatedEvent struct {
	BaseEvent
	OwnerType domain.OwnerType
	OwnerID   string
	State     domain.State
}

// TradeExecutedEvent is emitted after a buy or sell is committed.
type TradeExecutedEvent struct {
	BaseEvent
	Record  *domain.CurveEvent
	Supply  uint64
	Price   uint64
	Reserve uint64
	Holders int
}

// CurveFrozenEvent is emitted when trading halts ahead of a launch.
type CurveFrozenEvent struct {
	BaseEvent
	Supply     uint64
	Reserve    uint64
	Holders    int
	MerkleRoot string
}

// CurveLaunchedEvent is emitted once the external token exists.
type CurveLaunchedEvent struct {
	BaseEvent
	TokenMint string
	Signature string
	Liquidity uint64 // lamports moved from the reserve
}

// LaunchFailedEvent is emitted when the executor rejects a launch attempt.
type LaunchFailedEvent struct {
	BaseEvent
	AttemptID string
	Attempts  int
	Error     error
}

// AirdropClaimedEvent is emitted when a holder's tokens are disbursed.
type AirdropClaimedEvent struct {
	BaseEvent
	UserID    string
	Recipient string
	Amount    uint64
	TxHash    string
}
