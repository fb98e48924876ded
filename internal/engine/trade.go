package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/keycurve/internal/bonding"
	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/events"
	"github.com/rovshanmuradov/keycurve/internal/gate"
	"github.com/rovshanmuradov/keycurve/internal/ledger"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

// ActivateRequest opens a curve for an owner.
type ActivateRequest struct {
	OwnerType domain.OwnerType
	OwnerID   string
	State     domain.State // active (default) or utility
}

// BuyRequest buys keys. Amount is key units, or lamports to spend when
// SolDenominated is set. MaxCost, when non-zero, rejects a buy that got more
// expensive than the caller accepted.
type BuyRequest struct {
	CurveID        string
	UserID         string
	Amount         uint64
	SolDenominated bool
	ReferrerID     string
	MaxCost        uint64
}

// SellRequest sells key units. MinProceeds, when non-zero, rejects a sell
// that would pay less than the caller accepted.
type SellRequest struct {
	CurveID     string
	UserID      string
	Keys        uint64
	MinProceeds uint64
}

// QuoteRequest previews a trade without touching state.
type QuoteRequest struct {
	CurveID        string
	Side           bonding.Side
	Amount         uint64
	SolDenominated bool
	HasReferrer    bool
}

// TradeQuote is a trade preview with its fee breakdown.
type TradeQuote struct {
	*bonding.Quote
	Fees domain.FeeBreakdown `json:"fees"`
}

// TradeResult is the committed outcome of a trade.
type TradeResult struct {
	Curve       *domain.Curve       `json:"curve"`
	Holder      *domain.Holder      `json:"holder"`
	Event       *domain.CurveEvent  `json:"event"`
	Quote       *bonding.Quote      `json:"quote"`
	Fees        domain.FeeBreakdown `json:"fees"`
	RealizedPnL int64               `json:"realizedPnl"`
}

// Activate creates a curve. An active curve starts with the owner holding one
// key bought at the floor price through the normal fee split.
func (e *Engine) Activate(ctx context.Context, req ActivateRequest) (*TradeResult, error) {
	if !req.OwnerType.Valid() {
		return nil, domain.NewError(domain.KindInvalidInput, "unknown owner type",
			map[string]any{"ownerType": req.OwnerType})
	}
	if err := requireID("owner id", req.OwnerID); err != nil {
		return nil, err
	}
	if req.State == "" {
		req.State = domain.StateActive
	}
	if err := domain.InitialState(req.State); err != nil {
		return nil, err
	}

	res, err := withRetry(ctx, e, "activate", func() (*TradeResult, error) {
		existing, err := e.store.FindCurveByOwner(ctx, req.OwnerType, req.OwnerID)
		switch {
		case err == nil:
			return nil, domain.NewError(domain.KindInvalidState, "owner already has a curve",
				map[string]any{"curveId": existing.ID, "state": existing.State})
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("failed to look up owner curve: %w", err)
		}

		now := e.now()
		curve := &domain.Curve{
			ID:        e.newID(),
			OwnerType: req.OwnerType,
			OwnerID:   req.OwnerID,
			State:     req.State,
			CreatedAt: now,
			UpdatedAt: now,
		}
		curve.SetSupply(0, e.pricer.PriceAt(0))
		ev := domain.NewEvent(e.newID(), curve.ID, domain.EventActivate, req.OwnerID, now)
		m := &storage.Mutation{Curve: curve, Events: []*domain.CurveEvent{ev}}
		res := &TradeResult{Curve: curve, Event: ev}

		if req.State == domain.StateActive {
			q, err := e.pricer.CalculateTrade(bonding.TradeRequest{Side: bonding.SideBuy, Amount: domain.KeyUnit})
			if err != nil {
				return nil, err
			}
			split := e.fees.Split(q.TotalCost, false)

			holder := ledger.NewHolder(curve.ID, req.OwnerID, now)
			if _, err := ledger.RecordBuy(holder, ledger.Fill{Keys: q.Keys, Price: q.PriceAfter, Amount: q.TotalCost, At: now}); err != nil {
				return nil, err
			}
			curve.Reserve = split.Reserve
			curve.SetSupply(q.SupplyAfter, q.PriceAfter)
			curve.AddVolume(q.TotalCost)
			curve.HolderEntered()

			fillEvent(ev, q, curve, split.Breakdown())
			m.Holders = []*domain.Holder{holder}
			res.Holder, res.Quote, res.Fees = holder, q, split.Breakdown()
		} else {
			ev.Price, ev.Supply = curve.Price, curve.Supply
		}

		if err := e.store.Commit(ctx, m); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				// the owner index lost a race; the retry finds the winner
				return nil, storage.ErrVersionConflict
			}
			return nil, fmt.Errorf("failed to commit activation: %w", err)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	e.recordPriceSnapshot(ctx, res.Curve)
	e.publish(events.CurveActivatedEvent{
		BaseEvent: events.NewBase(events.CurveActivated, res.Curve.ID, res.Event.CreatedAt),
		OwnerType: res.Curve.OwnerType,
		OwnerID:   res.Curve.OwnerID,
		State:     res.Curve.State,
	})
	e.logger.Info("Curve activated",
		zap.String("curve_id", res.Curve.ID),
		zap.String("owner_type", string(res.Curve.OwnerType)),
		zap.String("owner_id", res.Curve.OwnerID),
		zap.String("state", string(res.Curve.State)),
		zap.Uint64("reserve", res.Curve.Reserve))
	return res, nil
}

// Quote previews a trade at the curve's current supply.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (*TradeQuote, error) {
	curve, err := e.loadCurve(ctx, req.CurveID)
	if err != nil {
		return nil, err
	}
	if err := curve.EnsureTradable(); err != nil {
		return nil, err
	}

	q, err := e.pricer.CalculateTrade(bonding.TradeRequest{
		Side:           req.Side,
		Amount:         req.Amount,
		Supply:         curve.Supply,
		CurrentPrice:   curve.Price,
		SolDenominated: req.SolDenominated,
	})
	if err != nil {
		return nil, err
	}

	out := &TradeQuote{Quote: q}
	if req.Side == bonding.SideBuy {
		out.Fees = e.fees.Split(q.TotalCost, req.HasReferrer).Breakdown()
	} else {
		out.Fees = domain.FeeBreakdown{Reserve: q.GrossValue - q.TotalCost}
	}
	return out, nil
}

// Buy executes a buy. The curve fields, the holder and the event are
// committed as one unit; a concurrent trade restarts the computation.
func (e *Engine) Buy(ctx context.Context, req BuyRequest) (*TradeResult, error) {
	if err := requireID("curve id", req.CurveID); err != nil {
		return nil, err
	}
	if err := requireID("user id", req.UserID); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, domain.NewError(domain.KindInvalidAmount, "amount must be greater than zero", nil)
	}
	if req.ReferrerID != "" && req.ReferrerID == req.UserID {
		return nil, domain.NewError(domain.KindInvalidInput, "self-referral is not allowed",
			map[string]any{"userId": req.UserID})
	}
	if err := e.checkGate(ctx, gate.Request{CurveID: req.CurveID, UserID: req.UserID, Side: string(bonding.SideBuy), Amount: req.Amount}); err != nil {
		return nil, err
	}

	res, err := withRetry(ctx, e, "buy", func() (*TradeResult, error) {
		curve, err := e.loadCurve(ctx, req.CurveID)
		if err != nil {
			return nil, err
		}
		if err := curve.EnsureTradable(); err != nil {
			return nil, err
		}

		q, err := e.pricer.CalculateTrade(bonding.TradeRequest{
			Side:           bonding.SideBuy,
			Amount:         req.Amount,
			Supply:         curve.Supply,
			CurrentPrice:   curve.Price,
			SolDenominated: req.SolDenominated,
		})
		if err != nil {
			return nil, err
		}
		if req.MaxCost > 0 && q.TotalCost > req.MaxCost {
			return nil, domain.NewError(domain.KindTradeRejected, "price moved above the accepted cost",
				map[string]any{"cost": q.TotalCost, "maxCost": req.MaxCost})
		}

		split := e.fees.Split(q.TotalCost, req.ReferrerID != "")
		if curve.Reserve > math.MaxUint64-split.Reserve {
			return nil, domain.NewError(domain.KindInvalidAmount, "reserve exceeds supported range", nil)
		}

		holder, err := e.store.GetHolder(ctx, curve.ID, req.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			holder, err = ledger.NewHolder(curve.ID, req.UserID, e.now()), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load holder: %w", err)
		}

		now := e.now()
		next := curve.Clone()
		next.Reserve += split.Reserve
		next.SetSupply(q.SupplyAfter, q.PriceAfter)
		next.AddVolume(q.TotalCost)
		next.UpdatedAt = now

		entered, err := ledger.RecordBuy(holder, ledger.Fill{Keys: q.Keys, Price: q.PriceAfter, Amount: q.TotalCost, At: now})
		if err != nil {
			return nil, err
		}
		if entered {
			next.HolderEntered()
		}

		ev := domain.NewEvent(e.newID(), curve.ID, domain.EventBuy, req.UserID, now)
		ev.ReferrerID = req.ReferrerID
		fillEvent(ev, q, next, split.Breakdown())

		if err := e.store.Commit(ctx, &storage.Mutation{
			Curve:   next,
			Holders: []*domain.Holder{holder},
			Events:  []*domain.CurveEvent{ev},
		}); err != nil {
			return nil, commitErr("buy", err)
		}
		return &TradeResult{Curve: next, Holder: holder, Event: ev, Quote: q, Fees: split.Breakdown()}, nil
	})
	if err != nil {
		return nil, err
	}

	e.afterTrade(ctx, res)
	return res, nil
}

// Sell executes a sell. The seller receives the reserve share of the area
// under the curve, so the reserve always covers the payout.
func (e *Engine) Sell(ctx context.Context, req SellRequest) (*TradeResult, error) {
	if err := requireID("curve id", req.CurveID); err != nil {
		return nil, err
	}
	if err := requireID("user id", req.UserID); err != nil {
		return nil, err
	}
	if req.Keys == 0 {
		return nil, domain.NewError(domain.KindInvalidAmount, "keys must be greater than zero", nil)
	}
	if err := e.checkGate(ctx, gate.Request{CurveID: req.CurveID, UserID: req.UserID, Side: string(bonding.SideSell), Amount: req.Keys}); err != nil {
		return nil, err
	}

	res, err := withRetry(ctx, e, "sell", func() (*TradeResult, error) {
		curve, err := e.loadCurve(ctx, req.CurveID)
		if err != nil {
			return nil, err
		}
		if err := curve.EnsureTradable(); err != nil {
			return nil, err
		}

		holder, err := e.store.GetHolder(ctx, curve.ID, req.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			holder, err = nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load holder: %w", err)
		}
		if holder == nil || holder.Balance < req.Keys {
			var available uint64
			if holder != nil {
				available = holder.Balance
			}
			return nil, domain.NewError(domain.KindInsufficientBalance, "holder balance is lower than requested keys",
				map[string]any{"requested": req.Keys, "available": available})
		}

		q, err := e.pricer.CalculateTrade(bonding.TradeRequest{
			Side:         bonding.SideSell,
			Amount:       req.Keys,
			Supply:       curve.Supply,
			CurrentPrice: curve.Price,
		})
		if err != nil {
			return nil, err
		}
		if curve.Reserve < q.TotalCost {
			return nil, domain.NewError(domain.KindInsufficientReserve, "reserve cannot cover the sale",
				map[string]any{"required": q.TotalCost, "available": curve.Reserve})
		}
		if req.MinProceeds > 0 && q.TotalCost < req.MinProceeds {
			return nil, domain.NewError(domain.KindTradeRejected, "price moved below the accepted proceeds",
				map[string]any{"proceeds": q.TotalCost, "minProceeds": req.MinProceeds})
		}

		now := e.now()
		next := curve.Clone()
		next.Reserve -= q.TotalCost
		next.SetSupply(q.SupplyAfter, q.PriceAfter)
		next.AddVolume(q.TotalCost)
		next.UpdatedAt = now

		realized, exited, err := ledger.RecordSell(holder, ledger.Fill{Keys: q.Keys, Price: q.PriceAfter, Amount: q.TotalCost, At: now})
		if err != nil {
			return nil, err
		}
		if exited {
			next.HolderExited()
		}

		fees := domain.FeeBreakdown{Reserve: q.GrossValue - q.TotalCost}
		ev := domain.NewEvent(e.newID(), curve.ID, domain.EventSell, req.UserID, now)
		fillEvent(ev, q, next, fees)

		if err := e.store.Commit(ctx, &storage.Mutation{
			Curve:   next,
			Holders: []*domain.Holder{holder},
			Events:  []*domain.CurveEvent{ev},
		}); err != nil {
			return nil, commitErr("sell", err)
		}
		return &TradeResult{Curve: next, Holder: holder, Event: ev, Quote: q, Fees: fees, RealizedPnL: realized}, nil
	})
	if err != nil {
		return nil, err
	}

	e.afterTrade(ctx, res)
	return res, nil
}

func (e *Engine) checkGate(ctx context.Context, req gate.Request) error {
	d, err := e.gate.Check(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to check trade gate: %w", err)
	}
	if !d.Allowed {
		return domain.NewError(domain.KindTradeRejected, d.Reason,
			map[string]any{"curveId": req.CurveID, "userId": req.UserID})
	}
	return nil
}

func (e *Engine) afterTrade(ctx context.Context, res *TradeResult) {
	e.recordPriceSnapshot(ctx, res.Curve)
	e.metrics.RecordTrade(string(res.Event.Type), res.Event.Amount)
	e.publish(events.TradeExecutedEvent{
		BaseEvent: events.NewBase(events.TradeExecuted, res.Curve.ID, res.Event.CreatedAt),
		Record:    res.Event,
		Supply:    res.Curve.Supply,
		Price:     res.Curve.Price,
		Reserve:   res.Curve.Reserve,
		Holders:   res.Curve.Holders,
	})
	e.logger.Info("Trade executed",
		zap.Object("event", res.Event),
		zap.Uint64("supply", res.Curve.Supply),
		zap.Uint64("reserve", res.Curve.Reserve),
		zap.Int("holders", res.Curve.Holders))
}

func fillEvent(ev *domain.CurveEvent, q *bonding.Quote, after *domain.Curve, fees domain.FeeBreakdown) {
	ev.Amount = q.TotalCost
	ev.Keys = q.Keys
	ev.Price = after.Price
	ev.Supply = after.Supply
	ev.Fees = fees
}

// commitErr passes conflicts through for retry and wraps everything else.
func commitErr(op string, err error) error {
	if isConflict(err) {
		return err
	}
	return fmt.Errorf("failed to commit %s: %w", op, err)
}
