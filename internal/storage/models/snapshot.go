// internal/storage/models/snapshot.go
package models

import (
	"time"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

type PriceSnapshot struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	CurveID   string    `gorm:"not null;type:varchar(64);index:idx_price_curve_time"`
	Supply    uint64    `gorm:"not null"`
	Price     uint64    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_price_curve_time"`
}

func (PriceSnapshot) TableName() string { return "price_snapshots" }

func PriceSnapshotFromDomain(p *domain.PriceSnapshot) *PriceSnapshot {
	return &PriceSnapshot{ID: p.ID, CurveID: p.CurveID, Supply: p.Supply, Price: p.Price, CreatedAt: p.CreatedAt}
}

func (m *PriceSnapshot) ToDomain() *domain.PriceSnapshot {
	return &domain.PriceSnapshot{ID: m.ID, CurveID: m.CurveID, Supply: m.Supply, Price: m.Price, CreatedAt: m.CreatedAt.UTC()}
}

// LaunchSnapshot - ключ совпадает с идентификатором кривой
type LaunchSnapshot struct {
	BaseModel
	Supply       uint64                 `gorm:"not null"`
	Reserve      uint64                 `gorm:"not null"`
	TokensPerKey uint64                 `gorm:"not null"`
	Entries      []domain.SnapshotEntry `gorm:"type:text;serializer:json"`
	MerkleRoot   string                 `gorm:"type:varchar(64)"`
	Status       string                 `gorm:"not null;type:varchar(16)"`
	AttemptID    string                 `gorm:"type:varchar(64)"`
	Attempts     int                    `gorm:"not null;default:0"`
	LeaseUntil   *time.Time
	LastError    string `gorm:"type:text"`
	TokenMint    string `gorm:"type:varchar(44)"`
	Signature    string `gorm:"type:varchar(128)"`
}

func (LaunchSnapshot) TableName() string { return "launch_snapshots" }

func LaunchSnapshotFromDomain(s *domain.LaunchSnapshot) *LaunchSnapshot {
	return &LaunchSnapshot{
		BaseModel:    BaseModel{ID: s.CurveID, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt, Version: s.Version},
		Supply:       s.Supply,
		Reserve:      s.Reserve,
		TokensPerKey: s.TokensPerKey,
		Entries:      s.Entries,
		MerkleRoot:   s.MerkleRoot,
		Status:       string(s.Status),
		AttemptID:    s.AttemptID,
		Attempts:     s.Attempts,
		LeaseUntil:   s.LeaseUntil,
		LastError:    s.LastError,
		TokenMint:    s.TokenMint,
		Signature:    s.Signature,
	}
}

func (m *LaunchSnapshot) ToDomain() *domain.LaunchSnapshot {
	return &domain.LaunchSnapshot{
		CurveID:      m.ID,
		Supply:       m.Supply,
		Reserve:      m.Reserve,
		TokensPerKey: m.TokensPerKey,
		Entries:      m.Entries,
		MerkleRoot:   m.MerkleRoot,
		Status:       domain.LaunchStatus(m.Status),
		AttemptID:    m.AttemptID,
		Attempts:     m.Attempts,
		LeaseUntil:   utcPtr(m.LeaseUntil),
		LastError:    m.LastError,
		TokenMint:    m.TokenMint,
		Signature:    m.Signature,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
		Version:      m.Version,
	}
}

type AirdropClaim struct {
	BaseModel
	CurveID   string `gorm:"not null;type:varchar(64);uniqueIndex:idx_claim_holder"`
	UserID    string `gorm:"not null;type:varchar(96);uniqueIndex:idx_claim_holder"`
	Recipient string `gorm:"not null;type:varchar(44)"`
	Amount    uint64 `gorm:"not null"`
	TokenMint string `gorm:"not null;type:varchar(44)"`
	Status    string `gorm:"not null;type:varchar(16)"`
	TxHash    string `gorm:"type:varchar(128)"`
	LastError string `gorm:"type:text"`
}

func (AirdropClaim) TableName() string { return "airdrop_claims" }

func ClaimFromDomain(c *domain.AirdropClaim) *AirdropClaim {
	return &AirdropClaim{
		BaseModel: BaseModel{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt, Version: c.Version},
		CurveID:   c.CurveID,
		UserID:    c.UserID,
		Recipient: c.Recipient,
		Amount:    c.Amount,
		TokenMint: c.TokenMint,
		Status:    string(c.Status),
		TxHash:    c.TxHash,
		LastError: c.LastError,
	}
}

func (m *AirdropClaim) ToDomain() *domain.AirdropClaim {
	return &domain.AirdropClaim{
		ID:        m.ID,
		CurveID:   m.CurveID,
		UserID:    m.UserID,
		Recipient: m.Recipient,
		Amount:    m.Amount,
		TokenMint: m.TokenMint,
		Status:    domain.ClaimStatus(m.Status),
		TxHash:    m.TxHash,
		LastError: m.LastError,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
		Version:   m.Version,
	}
}
