package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

// Ledger serves holder reads. Positions are revalued at the curve's current
// price on the way out, so unrealized P&L is fresh even for idle holders.
type Ledger struct {
	curves  storage.CurveReader
	holders storage.HolderReader
	logger  *zap.Logger
}

// New creates a Ledger over the given readers.
func New(curves storage.CurveReader, holders storage.HolderReader, logger *zap.Logger) *Ledger {
	return &Ledger{
		curves:  curves,
		holders: holders,
		logger:  logger.Named("ledger"),
	}
}

// GetHolder returns one position, failing with NotFound if the user never bought.
func (l *Ledger) GetHolder(ctx context.Context, curveID, userID string) (*domain.Holder, error) {
	curve, err := l.curve(ctx, curveID)
	if err != nil {
		return nil, err
	}

	h, err := l.holders.GetHolder(ctx, curveID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.NewError(domain.KindNotFound, "holder not found",
			map[string]any{"curveId": curveID, "userId": userID})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load holder: %w", err)
	}
	Revalue(h, curve.Price)
	return h, nil
}

// GetHoldersForCurve returns positions with a non-zero balance, largest first.
func (l *Ledger) GetHoldersForCurve(ctx context.Context, curveID string, limit, offset int) ([]*domain.Holder, error) {
	curve, err := l.curve(ctx, curveID)
	if err != nil {
		return nil, err
	}

	hs, err := l.holders.ListHolders(ctx, curveID, storage.HolderFilter{ActiveOnly: true, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("failed to list holders: %w", err)
	}
	for _, h := range hs {
		Revalue(h, curve.Price)
	}
	return hs, nil
}

// GetHoldingsForUser returns every open position of a user across curves.
func (l *Ledger) GetHoldingsForUser(ctx context.Context, userID string) ([]*domain.Holder, error) {
	hs, err := l.holders.ListHoldingsByUser(ctx, userID, storage.HolderFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}

	prices := make(map[string]uint64, len(hs))
	for _, h := range hs {
		price, ok := prices[h.CurveID]
		if !ok {
			c, err := l.curves.GetCurve(ctx, h.CurveID)
			if err != nil {
				l.logger.Warn("Skipping revaluation, curve unavailable",
					zap.String("curve_id", h.CurveID), zap.Error(err))
				continue
			}
			price = c.Price
			prices[h.CurveID] = price
		}
		Revalue(h, price)
	}
	return hs, nil
}

func (l *Ledger) curve(ctx context.Context, curveID string) (*domain.Curve, error) {
	c, err := l.curves.GetCurve(ctx, curveID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.NewError(domain.KindNotFound, "curve not found", map[string]any{"curveId": curveID})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load curve: %w", err)
	}
	return c, nil
}
