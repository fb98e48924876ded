// internal/storage/models/event.go
package models

import (
	"time"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

// FeeColumns хранит распределение комиссий события
type FeeColumns struct {
	Reserve   uint64 `gorm:"not null;default:0"`
	Referral  uint64 `gorm:"not null;default:0"`
	Project   uint64 `gorm:"not null;default:0"`
	Buyback   uint64 `gorm:"not null;default:0"`
	Community uint64 `gorm:"not null;default:0"`
}

// CurveEvent только добавляется, поэтому без версии
type CurveEvent struct {
	ID         string     `gorm:"primaryKey;type:varchar(64)"`
	CurveID    string     `gorm:"not null;type:varchar(64);index:idx_event_curve_time;uniqueIndex:idx_event_curve_seq"`
	Seq        uint64     `gorm:"not null;default:0;uniqueIndex:idx_event_curve_seq"`
	Type       string     `gorm:"not null;type:varchar(16)"`
	ActorID    string     `gorm:"not null;type:varchar(96)"`
	Amount     uint64     `gorm:"not null;default:0"`
	Keys       uint64     `gorm:"not null;default:0"`
	Price      uint64     `gorm:"not null;default:0"`
	Supply     uint64     `gorm:"not null;default:0"`
	Fees       FeeColumns `gorm:"embedded;embeddedPrefix:fee_"`
	ReferrerID string     `gorm:"type:varchar(96)"`
	TxRef      string     `gorm:"type:varchar(128)"`
	CreatedAt  time.Time  `gorm:"not null;index:idx_event_curve_time"`
}

func (CurveEvent) TableName() string { return "curve_events" }

func EventFromDomain(e *domain.CurveEvent) *CurveEvent {
	return &CurveEvent{
		ID:      e.ID,
		CurveID: e.CurveID,
		Seq:     e.Seq,
		Type:    string(e.Type),
		ActorID: e.ActorID,
		Amount:  e.Amount,
		Keys:    e.Keys,
		Price:   e.Price,
		Supply:  e.Supply,
		Fees: FeeColumns{
			Reserve:   e.Fees.Reserve,
			Referral:  e.Fees.Referral,
			Project:   e.Fees.Project,
			Buyback:   e.Fees.Buyback,
			Community: e.Fees.Community,
		},
		ReferrerID: e.ReferrerID,
		TxRef:      e.TxRef,
		CreatedAt:  e.CreatedAt,
	}
}

func (m *CurveEvent) ToDomain() *domain.CurveEvent {
	return &domain.CurveEvent{
		ID:      m.ID,
		CurveID: m.CurveID,
		Seq:     m.Seq,
		Type:    domain.EventType(m.Type),
		ActorID: m.ActorID,
		Amount:  m.Amount,
		Keys:    m.Keys,
		Price:   m.Price,
		Supply:  m.Supply,
		Fees: domain.FeeBreakdown{
			Reserve:   m.Fees.Reserve,
			Referral:  m.Fees.Referral,
			Project:   m.Fees.Project,
			Buyback:   m.Fees.Buyback,
			Community: m.Fees.Community,
		},
		ReferrerID: m.ReferrerID,
		TxRef:      m.TxRef,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}
