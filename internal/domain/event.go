package domain

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// EventType is the kind of an append-only curve record.
type EventType string

const (
	EventActivate EventType = "activate"
	EventBuy      EventType = "buy"
	EventSell     EventType = "sell"
	EventFreeze   EventType = "freeze"
	EventLaunch   EventType = "launch"
	EventClaim    EventType = "claim"
)

// IsTrade reports whether the event moved keys.
func (t EventType) IsTrade() bool {
	return t == EventBuy || t == EventSell || t == EventActivate
}

// FeeBreakdown is the fee split recorded on a trade event.
type FeeBreakdown struct {
	Reserve   uint64 `json:"reserve"`
	Referral  uint64 `json:"referral"`
	Project   uint64 `json:"project"`
	Buyback   uint64 `json:"buyback"`
	Community uint64 `json:"community"`
}

// CurveEvent is an immutable trade or lifecycle record. Seq is assigned by
// the store on commit and orders events of one curve that share a timestamp.
type CurveEvent struct {
	ID         string       `json:"id"`
	CurveID    string       `json:"curveId"`
	Seq        uint64       `json:"seq"`
	Type       EventType    `json:"type"`
	ActorID    string       `json:"actorId"`
	Amount     uint64       `json:"amount"` // lamports moved by the event
	Keys       uint64       `json:"keys"`   // key units moved by the event
	Price      uint64       `json:"price"`  // price after the event
	Supply     uint64       `json:"supply"` // supply after the event
	Fees       FeeBreakdown `json:"fees"`
	ReferrerID string       `json:"referrerId,omitempty"`
	TxRef      string       `json:"txRef,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// NewEvent creates an event stamped with the given time.
func NewEvent(id, curveID string, typ EventType, actorID string, at time.Time) *CurveEvent {
	return &CurveEvent{
		ID:        id,
		CurveID:   curveID,
		Type:      typ,
		ActorID:   actorID,
		CreatedAt: at,
	}
}

// MarshalLogObject lets events be logged with zap.Object.
func (e *CurveEvent) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", e.ID)
	enc.AddString("curve_id", e.CurveID)
	enc.AddUint64("seq", e.Seq)
	enc.AddString("type", string(e.Type))
	enc.AddString("actor_id", e.ActorID)
	enc.AddUint64("amount", e.Amount)
	enc.AddUint64("keys", e.Keys)
	enc.AddUint64("price", e.Price)
	if e.ReferrerID != "" {
		enc.AddString("referrer_id", e.ReferrerID)
	}
	return nil
}
