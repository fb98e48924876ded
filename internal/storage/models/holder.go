// internal/storage/models/holder.go
package models

import (
	"time"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

type Holder struct {
	BaseModel
	CurveID       string `gorm:"not null;type:varchar(64);uniqueIndex:idx_holder_position"`
	UserID        string `gorm:"not null;type:varchar(96);uniqueIndex:idx_holder_position;index"`
	Balance       uint64 `gorm:"not null;default:0;index"`
	TotalCost     uint64 `gorm:"not null;default:0"`
	AveragePrice  uint64 `gorm:"not null;default:0"`
	RealizedPnL   int64  `gorm:"column:realized_pnl;not null;default:0"`
	UnrealizedPnL int64  `gorm:"column:unrealized_pnl;not null;default:0"`
	FirstBoughtAt time.Time
}

func (Holder) TableName() string { return "holders" }

func HolderFromDomain(h *domain.Holder) *Holder {
	return &Holder{
		BaseModel:     BaseModel{ID: h.ID, CreatedAt: h.FirstBoughtAt, UpdatedAt: h.UpdatedAt, Version: h.Version},
		CurveID:       h.CurveID,
		UserID:        h.UserID,
		Balance:       h.Balance,
		TotalCost:     h.TotalCost,
		AveragePrice:  h.AveragePrice,
		RealizedPnL:   h.RealizedPnL,
		UnrealizedPnL: h.UnrealizedPnL,
		FirstBoughtAt: h.FirstBoughtAt,
	}
}

func (m *Holder) ToDomain() *domain.Holder {
	return &domain.Holder{
		ID:            m.ID,
		CurveID:       m.CurveID,
		UserID:        m.UserID,
		Balance:       m.Balance,
		TotalCost:     m.TotalCost,
		AveragePrice:  m.AveragePrice,
		RealizedPnL:   m.RealizedPnL,
		UnrealizedPnL: m.UnrealizedPnL,
		FirstBoughtAt: m.FirstBoughtAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
		Version:       m.Version,
	}
}
