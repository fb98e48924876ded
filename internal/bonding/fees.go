// internal/bonding/fees.go
package bonding

import (
	"fmt"
	"math/bits"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

// BasisPoints - 100% в базисных пунктах.
const BasisPoints uint64 = 10_000

// FeePolicy - распределение валовой суммы сделки в базисных пунктах.
type FeePolicy struct {
	ReserveBps   uint64 `mapstructure:"reserve_bps"`
	ReferralBps  uint64 `mapstructure:"referral_bps"`
	ProjectBps   uint64 `mapstructure:"project_bps"`
	BuybackBps   uint64 `mapstructure:"buyback_bps"`
	CommunityBps uint64 `mapstructure:"community_bps"`
}

// DefaultFeePolicy: 94% резерв, 2% реферал, 2% проект, 1% выкуп, 1% сообщество.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		ReserveBps:   9400,
		ReferralBps:  200,
		ProjectBps:   200,
		BuybackBps:   100,
		CommunityBps: 100,
	}
}

// Validate проверяет, что доли в сумме дают ровно 100%.
func (p FeePolicy) Validate() error {
	total := p.ReserveBps + p.ReferralBps + p.ProjectBps + p.BuybackBps + p.CommunityBps
	if total != BasisPoints {
		return fmt.Errorf("fee shares must sum to %d bps, got %d", BasisPoints, total)
	}
	if p.ReserveBps == 0 {
		return fmt.Errorf("reserve share must be positive")
	}
	return nil
}

// FeeSplit - доли валовой суммы в лампортах.
type FeeSplit struct {
	Reserve   uint64 `json:"reserve"`
	Referral  uint64 `json:"referral"`
	Project   uint64 `json:"project"`
	Buyback   uint64 `json:"buyback"`
	Community uint64 `json:"community"`
}

// Total возвращает сумму всех долей.
func (s FeeSplit) Total() uint64 {
	return s.Reserve + s.Referral + s.Project + s.Buyback + s.Community
}

// Breakdown конвертирует распределение в поле события.
func (s FeeSplit) Breakdown() domain.FeeBreakdown {
	return domain.FeeBreakdown{
		Reserve:   s.Reserve,
		Referral:  s.Referral,
		Project:   s.Project,
		Buyback:   s.Buyback,
		Community: s.Community,
	}
}

// Split распределяет gross по политике. Без реферала его доля делится между
// проектом и сообществом пополам (нечетный остаток уходит сообществу).
// Резерв получает остаток округления, поэтому сумма долей всегда равна gross.
func (p FeePolicy) Split(gross uint64, hasReferrer bool) FeeSplit {
	projectBps, communityBps, referralBps := p.ProjectBps, p.CommunityBps, p.ReferralBps
	if !hasReferrer {
		projectBps += referralBps / 2
		communityBps += referralBps - referralBps/2
		referralBps = 0
	}

	split := FeeSplit{
		Referral:  mulDiv(gross, referralBps, BasisPoints),
		Project:   mulDiv(gross, projectBps, BasisPoints),
		Buyback:   mulDiv(gross, p.BuybackBps, BasisPoints),
		Community: mulDiv(gross, communityBps, BasisPoints),
	}
	split.Reserve = gross - split.Referral - split.Project - split.Buyback - split.Community
	return split
}

// SplitFees распределяет gross по политике по умолчанию.
func SplitFees(gross uint64, hasReferrer bool) FeeSplit {
	return DefaultFeePolicy().Split(gross, hasReferrer)
}

// mulDiv считает floor(a*b/c) без переполнения промежуточного произведения.
func mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		return 0
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}
