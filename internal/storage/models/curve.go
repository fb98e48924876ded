// internal/storage/models/curve.go
package models

import (
	"time"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

type Curve struct {
	BaseModel
	OwnerType      string  `gorm:"not null;type:varchar(16);uniqueIndex:idx_curve_owner"`
	OwnerID        string  `gorm:"not null;type:varchar(96);uniqueIndex:idx_curve_owner"`
	State          string  `gorm:"not null;type:varchar(16);index"`
	Supply         uint64  `gorm:"not null;default:0"`
	Price          uint64  `gorm:"not null;default:0"`
	Reserve        uint64  `gorm:"not null;default:0"`
	Holders        int     `gorm:"not null;default:0"`
	Volume24h      uint64  `gorm:"column:volume_24h;not null;default:0"`
	VolumeTotal    uint64  `gorm:"not null;default:0"`
	MarketCap      uint64  `gorm:"not null;default:0"`
	PriceChange24h float64 `gorm:"column:price_change_24h;not null;default:0"`
	TokenMint      string  `gorm:"type:varchar(44)"`
	FrozenAt       *time.Time
	LaunchedAt     *time.Time
}

func (Curve) TableName() string { return "curves" }

func CurveFromDomain(c *domain.Curve) *Curve {
	return &Curve{
		BaseModel:      BaseModel{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt, Version: c.Version},
		OwnerType:      string(c.OwnerType),
		OwnerID:        c.OwnerID,
		State:          string(c.State),
		Supply:         c.Supply,
		Price:          c.Price,
		Reserve:        c.Reserve,
		Holders:        c.Holders,
		Volume24h:      c.Volume24h,
		VolumeTotal:    c.VolumeTotal,
		MarketCap:      c.MarketCap,
		PriceChange24h: c.PriceChange24h,
		TokenMint:      c.TokenMint,
		FrozenAt:       c.FrozenAt,
		LaunchedAt:     c.LaunchedAt,
	}
}

func (m *Curve) ToDomain() *domain.Curve {
	return &domain.Curve{
		ID:             m.ID,
		OwnerType:      domain.OwnerType(m.OwnerType),
		OwnerID:        m.OwnerID,
		State:          domain.State(m.State),
		Supply:         m.Supply,
		Price:          m.Price,
		Reserve:        m.Reserve,
		Holders:        m.Holders,
		Volume24h:      m.Volume24h,
		VolumeTotal:    m.VolumeTotal,
		MarketCap:      m.MarketCap,
		PriceChange24h: m.PriceChange24h,
		TokenMint:      m.TokenMint,
		FrozenAt:       utcPtr(m.FrozenAt),
		LaunchedAt:     utcPtr(m.LaunchedAt),
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
		Version:        m.Version,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
