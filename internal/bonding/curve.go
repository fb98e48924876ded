// internal/bonding/curve.go
package bonding

import (
	"errors"
	"math"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

const (
	// Коэффициенты эталонной кривой, цена в SOL за ключ
	DefaultBasePrice  = 0.01
	DefaultLinearCoef = 0.0003
	DefaultExpCoef    = 0.0000012
	DefaultExponent   = 1.6

	lamportsPerSOL = float64(domain.LamportsPerSOL)
	unitsPerKey    = float64(domain.KeyUnit)
)

// Params описывает кривую P(S) = base + linear*S + exp*S^exponent, где S в ключах.
type Params struct {
	BasePrice  float64 `mapstructure:"base_price"`
	LinearCoef float64 `mapstructure:"linear_coef"`
	ExpCoef    float64 `mapstructure:"exp_coef"`
	Exponent   float64 `mapstructure:"exponent"`

	// SellReturnBps - доля интеграла, которую получает продавец.
	// Остаток был удержан комиссиями при покупке и в резерв не попадал.
	SellReturnBps uint64 `mapstructure:"sell_return_bps"`
}

// DefaultParams возвращает эталонную кривую.
func DefaultParams() Params {
	return Params{
		BasePrice:     DefaultBasePrice,
		LinearCoef:    DefaultLinearCoef,
		ExpCoef:       DefaultExpCoef,
		Exponent:      DefaultExponent,
		SellReturnBps: DefaultFeePolicy().ReserveBps,
	}
}

// Validate проверяет, что кривая строго положительна и неубывает.
func (p Params) Validate() error {
	if !(p.BasePrice > 0) || math.IsInf(p.BasePrice, 0) {
		return errors.New("base_price must be positive")
	}
	if p.LinearCoef < 0 || p.ExpCoef < 0 || math.IsNaN(p.LinearCoef) || math.IsNaN(p.ExpCoef) {
		return errors.New("curve coefficients must be non-negative")
	}
	if !(p.Exponent > 0) {
		return errors.New("exponent must be positive")
	}
	if p.SellReturnBps == 0 || p.SellReturnBps >= BasisPoints {
		return errors.New("sell_return_bps must be between 1 and 9999")
	}
	return nil
}

// Curve - чистый движок цены. Все методы без побочных эффектов.
type Curve struct {
	params Params
}

// NewCurve создает движок с проверенными параметрами.
func NewCurve(params Params) (*Curve, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Curve{params: params}, nil
}

// Params возвращает параметры кривой.
func (c *Curve) Params() Params {
	return c.params
}

// spotSOL - маржинальная цена в SOL при предложении keys.
func (c *Curve) spotSOL(keys float64) float64 {
	p := c.params
	return p.BasePrice + p.LinearCoef*keys + p.ExpCoef*math.Pow(keys, p.Exponent)
}

// integralLamports - первообразная F(S) в лампортах, F(0) = 0.
func (c *Curve) integralLamports(units uint64) float64 {
	p := c.params
	s := float64(units) / unitsPerKey
	f := p.BasePrice*s + p.LinearCoef/2*s*s + p.ExpCoef/(p.Exponent+1)*math.Pow(s, p.Exponent+1)
	return f * lamportsPerSOL
}

// PriceAt возвращает маржинальную цену в лампортах за ключ.
// Округление монотонно, поэтому цена неубывает по предложению.
func (c *Curve) PriceAt(supply uint64) uint64 {
	return toLamports(math.Round(c.spotSOL(float64(supply)/unitsPerKey) * lamportsPerSOL))
}

// areaLamports - площадь под кривой между supply и supply+keys.
func (c *Curve) areaLamports(supply, keys uint64) (float64, error) {
	if supply > math.MaxUint64-keys {
		return 0, domain.NewError(domain.KindInvalidAmount, "trade exceeds supply range",
			map[string]any{"supply": supply, "keys": keys})
	}
	area := c.integralLamports(supply+keys) - c.integralLamports(supply)
	if area < 0 {
		area = 0
	}
	if area >= math.MaxUint64 {
		return 0, domain.NewError(domain.KindInvalidAmount, "trade value exceeds lamport range",
			map[string]any{"supply": supply, "keys": keys})
	}
	return area, nil
}

// BuyCost - стоимость покупки keys единиц, округленная вверх до лампорта.
func (c *Curve) BuyCost(supply, keys uint64) (uint64, error) {
	area, err := c.areaLamports(supply, keys)
	if err != nil {
		return 0, err
	}
	return toLamports(math.Ceil(area)), nil
}

// SellValue возвращает валовую стоимость продажи (вниз до лампорта) и выплату продавцу.
// Используется тот же интеграл, что и для покупки, поэтому buy+sell не дает прибыли.
func (c *Curve) SellValue(supply, keys uint64) (gross, proceeds uint64, err error) {
	if keys > supply {
		return 0, 0, domain.NewError(domain.KindInsufficientSupply, "cannot sell more keys than outstanding supply",
			map[string]any{"requested": keys, "available": supply})
	}
	area, err := c.areaLamports(supply-keys, keys)
	if err != nil {
		return 0, 0, err
	}
	gross = toLamports(math.Floor(area))
	return gross, mulDiv(gross, c.params.SellReturnBps, BasisPoints), nil
}

// KeysForBudget ищет максимальное количество единиц, стоимость которых не превышает budget.
// Интеграл монотонен, поэтому бинарный поиск по целым единицам точен.
func (c *Curve) KeysForBudget(supply, budget uint64) (keys, cost uint64, err error) {
	spot := c.spotSOL(float64(supply)/unitsPerKey) * lamportsPerSOL
	bound := float64(budget) / spot * unitsPerKey
	if bound >= float64(math.MaxUint64-supply) {
		return 0, 0, domain.NewError(domain.KindInvalidAmount, "budget exceeds supply range",
			map[string]any{"budget": budget})
	}

	lo, hi := uint64(0), uint64(bound)+1
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		midCost, err := c.BuyCost(supply, mid)
		if err != nil || midCost > budget {
			hi = mid
			continue
		}
		lo = mid
	}
	if lo == 0 {
		return 0, 0, nil
	}
	cost, err = c.BuyCost(supply, lo)
	if err != nil {
		return 0, 0, err
	}
	return lo, cost, nil
}

func toLamports(v float64) uint64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(v)
}
