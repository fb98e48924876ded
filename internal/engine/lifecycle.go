package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/events"
	"github.com/rovshanmuradov/keycurve/internal/launch"
	"github.com/rovshanmuradov/keycurve/internal/stats"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

// FreezeResult is the frozen curve with its holder snapshot.
type FreezeResult struct {
	Curve    *domain.Curve          `json:"curve"`
	Snapshot *domain.LaunchSnapshot `json:"snapshot"`
}

// LaunchResult is the launched curve with the executor's answer.
type LaunchResult struct {
	Curve    *domain.Curve          `json:"curve"`
	Snapshot *domain.LaunchSnapshot `json:"snapshot"`
	Launch   *launch.Result         `json:"launch"`
}

// ClaimRequest asks for a holder's airdrop to be sent to a wallet.
type ClaimRequest struct {
	CurveID   string
	UserID    string
	Recipient string
}

// Freeze halts trading and fixes the holder snapshot. Only the owner may
// freeze, and only once the launch thresholds are met.
func (e *Engine) Freeze(ctx context.Context, curveID, requestorID string) (*FreezeResult, error) {
	if err := requireID("curve id", curveID); err != nil {
		return nil, err
	}

	res, err := withRetry(ctx, e, "freeze", func() (*FreezeResult, error) {
		curve, err := e.loadCurve(ctx, curveID)
		if err != nil {
			return nil, err
		}
		if err := requireOwner(curve, requestorID); err != nil {
			return nil, err
		}
		if err := curve.EnsureTradable(); err != nil {
			return nil, err
		}
		if err := e.checkLaunchRequirements(curve); err != nil {
			return nil, err
		}

		holders, err := e.store.ListHolders(ctx, curve.ID, storage.HolderFilter{ActiveOnly: true})
		if err != nil {
			return nil, fmt.Errorf("failed to list holders: %w", err)
		}
		snap, err := e.buildSnapshot(curve, holders)
		if err != nil {
			return nil, err
		}

		now := e.now()
		next := curve.Clone()
		if err := next.Freeze(now); err != nil {
			return nil, err
		}
		ev := domain.NewEvent(e.newID(), curve.ID, domain.EventFreeze, requestorID, now)
		ev.Amount, ev.Keys = next.Reserve, next.Supply
		ev.Price, ev.Supply = next.Price, next.Supply
		ev.TxRef = snap.MerkleRoot

		if err := e.store.Commit(ctx, &storage.Mutation{
			Curve:          next,
			LaunchSnapshot: snap,
			Events:         []*domain.CurveEvent{ev},
		}); err != nil {
			return nil, commitErr("freeze", err)
		}
		return &FreezeResult{Curve: next, Snapshot: snap}, nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(events.CurveFrozenEvent{
		BaseEvent:  events.NewBase(events.CurveFrozen, res.Curve.ID, *res.Curve.FrozenAt),
		Supply:     res.Curve.Supply,
		Reserve:    res.Curve.Reserve,
		Holders:    res.Curve.Holders,
		MerkleRoot: res.Snapshot.MerkleRoot,
	})
	e.logger.Info("Curve frozen",
		zap.String("curve_id", res.Curve.ID),
		zap.Uint64("supply", res.Curve.Supply),
		zap.Uint64("reserve", res.Curve.Reserve),
		zap.Int("holders", res.Curve.Holders),
		zap.String("merkle_root", res.Snapshot.MerkleRoot))
	return res, nil
}

func (e *Engine) checkLaunchRequirements(c *domain.Curve) error {
	var unmet []string
	if c.Supply < e.launch.MinSupply {
		unmet = append(unmet, "supply")
	}
	if c.Holders < e.launch.MinHolders {
		unmet = append(unmet, "holders")
	}
	if c.Reserve < e.launch.MinReserve {
		unmet = append(unmet, "reserve")
	}
	if len(unmet) == 0 {
		return nil
	}
	return domain.NewError(domain.KindLaunchRequirementsNotMet, "curve does not meet the launch thresholds",
		map[string]any{
			"unmet":      unmet,
			"supply":     c.Supply,
			"minSupply":  e.launch.MinSupply,
			"holders":    c.Holders,
			"minHolders": e.launch.MinHolders,
			"reserve":    c.Reserve,
			"minReserve": e.launch.MinReserve,
		})
}

// buildSnapshot fixes balances, shares and token allocations. Holders read
// out of step with the curve show up as a supply mismatch and are retried.
func (e *Engine) buildSnapshot(c *domain.Curve, holders []*domain.Holder) (*domain.LaunchSnapshot, error) {
	var sum uint64
	entries := make([]domain.SnapshotEntry, 0, len(holders))
	for _, h := range holders {
		sum += h.Balance
		entries = append(entries, domain.SnapshotEntry{
			UserID:     h.UserID,
			Balance:    h.Balance,
			Percentage: stats.Share(h.Balance, c.Supply),
			Allocation: domain.TokenAllocation(h.Balance, e.launch.TokensPerKey),
		})
	}
	if sum != c.Supply || len(entries) != c.Holders {
		e.logger.Debug("Holder read out of step with curve",
			zap.String("curve_id", c.ID),
			zap.Uint64("supply", c.Supply),
			zap.Uint64("holder_sum", sum),
			zap.Int("holders", len(entries)))
		return nil, storage.ErrVersionConflict
	}

	now := e.now()
	return &domain.LaunchSnapshot{
		CurveID:      c.ID,
		Supply:       c.Supply,
		Reserve:      c.Reserve,
		TokensPerKey: e.launch.TokensPerKey,
		Entries:      entries,
		MerkleRoot:   launch.NewTree(allocations(entries)).Root().String(),
		Status:       domain.LaunchPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func allocations(entries []domain.SnapshotEntry) []launch.Allocation {
	out := make([]launch.Allocation, len(entries))
	for i, en := range entries {
		out[i] = launch.Allocation{UserID: en.UserID, Amount: en.Allocation}
	}
	return out
}

// Launch mints the token for a frozen curve. The attempt is leased on the
// snapshot first, then the executor runs with nothing locked; launched is
// committed only after it succeeds. A failed attempt leaves the curve frozen.
func (e *Engine) Launch(ctx context.Context, curveID, requestorID string, params launch.TokenParams) (*LaunchResult, error) {
	if err := requireID("curve id", curveID); err != nil {
		return nil, err
	}

	type lease struct {
		curve *domain.Curve
		snap  *domain.LaunchSnapshot
	}
	l, err := withRetry(ctx, e, "launch_lease", func() (*lease, error) {
		curve, err := e.loadCurve(ctx, curveID)
		if err != nil {
			return nil, err
		}
		if err := requireOwner(curve, requestorID); err != nil {
			return nil, err
		}
		if curve.State == domain.StateLaunched {
			return nil, domain.NewError(domain.KindInvalidState, "curve is already launched",
				map[string]any{"curveId": curve.ID, "tokenMint": curve.TokenMint})
		}
		if curve.State != domain.StateFrozen {
			return nil, domain.NewError(domain.KindInvalidState, "only a frozen curve can be launched",
				map[string]any{"curveId": curve.ID, "state": curve.State})
		}

		snap, err := e.store.GetLaunchSnapshot(ctx, curveID)
		if err != nil {
			return nil, notFound(err, "launch snapshot", map[string]any{"curveId": curveID})
		}
		now := e.now()
		if snap.Status == domain.LaunchRunning && snap.LeaseUntil != nil && now.Before(*snap.LeaseUntil) {
			return nil, domain.NewError(domain.KindLaunchInProgress, "another launch attempt is running",
				map[string]any{"curveId": curveID, "attemptId": snap.AttemptID, "leaseUntil": *snap.LeaseUntil})
		}
		if snap.Status == domain.LaunchCompleted {
			return nil, domain.NewError(domain.KindInvalidState, "launch already completed",
				map[string]any{"curveId": curveID, "tokenMint": snap.TokenMint})
		}

		until := now.Add(e.launch.LeaseTTL)
		snap.Status = domain.LaunchRunning
		snap.AttemptID = e.newID()
		snap.Attempts++
		snap.LeaseUntil = &until
		snap.LastError = ""
		snap.UpdatedAt = now
		if err := e.store.Commit(ctx, &storage.Mutation{LaunchSnapshot: snap}); err != nil {
			return nil, commitErr("launch lease", err)
		}
		return &lease{curve: curve, snap: snap}, nil
	})
	if err != nil {
		return nil, err
	}

	if params.Decimals == 0 {
		params.Decimals = e.launch.TokenDecimals
	}
	params.TotalSupply = l.snap.TokenSupply()
	params.Liquidity = l.curve.Reserve
	params.MerkleRoot = l.snap.MerkleRoot

	logger := e.logger.With(
		zap.String("curve_id", curveID),
		zap.String("attempt_id", l.snap.AttemptID),
		zap.Int("attempt", l.snap.Attempts))
	logger.Info("Launching token",
		zap.String("symbol", params.Symbol),
		zap.Uint64("total_supply", params.TotalSupply),
		zap.Uint64("liquidity", params.Liquidity))

	callCtx, cancel := context.WithTimeout(ctx, e.launch.LeaseTTL)
	result, execErr := e.executor.Launch(callCtx, curveID, params, allocations(l.snap.Entries))
	cancel()

	// the outcome is recorded even if the caller has gone away
	persistCtx := context.WithoutCancel(ctx)
	if execErr == nil && (result == nil || result.TokenMint == "") {
		execErr = errors.New("executor returned no token mint")
	}
	if execErr != nil {
		logger.Error("Launch attempt failed", zap.Error(execErr))
		e.releaseLease(persistCtx, curveID, l.snap.AttemptID, execErr)
		e.publish(events.LaunchFailedEvent{
			BaseEvent: events.NewBase(events.LaunchFailed, curveID, e.now()),
			AttemptID: l.snap.AttemptID,
			Attempts:  l.snap.Attempts,
			Error:     execErr,
		})
		return nil, domain.WrapError(domain.KindLaunchExecutionFailed, "token launch failed, curve stays frozen", execErr,
			map[string]any{"curveId": curveID, "attemptId": l.snap.AttemptID, "attempts": l.snap.Attempts})
	}

	res, err := withRetry(persistCtx, e, "launch_commit", func() (*LaunchResult, error) {
		curve, err := e.loadCurve(persistCtx, curveID)
		if err != nil {
			return nil, err
		}
		snap, err := e.store.GetLaunchSnapshot(persistCtx, curveID)
		if err != nil {
			return nil, notFound(err, "launch snapshot", map[string]any{"curveId": curveID})
		}

		now := e.now()
		next := curve.Clone()
		moved, err := next.MarkLaunched(result.TokenMint, now)
		if err != nil {
			return nil, err
		}
		snap.Status = domain.LaunchCompleted
		snap.TokenMint = result.TokenMint
		snap.Signature = result.Signature
		snap.LeaseUntil = nil
		snap.UpdatedAt = now

		ev := domain.NewEvent(e.newID(), curveID, domain.EventLaunch, requestorID, now)
		ev.Amount, ev.Keys = moved, next.Supply
		ev.Price, ev.Supply = next.Price, next.Supply
		ev.TxRef = result.Signature

		if err := e.store.Commit(persistCtx, &storage.Mutation{
			Curve:          next,
			LaunchSnapshot: snap,
			Events:         []*domain.CurveEvent{ev},
		}); err != nil {
			return nil, commitErr("launch", err)
		}
		return &LaunchResult{Curve: next, Snapshot: snap, Launch: result}, nil
	})
	if err != nil {
		// The token exists but the curve is still frozen. The lease expires and
		// a retried launch gets the same mint back from the executor.
		logger.Error("Token launched but local commit failed",
			zap.String("mint", result.TokenMint),
			zap.Error(err))
		return nil, err
	}

	e.publish(events.CurveLaunchedEvent{
		BaseEvent: events.NewBase(events.CurveLaunched, curveID, *res.Curve.LaunchedAt),
		TokenMint: result.TokenMint,
		Signature: result.Signature,
		Liquidity: params.Liquidity,
	})
	logger.Info("Curve launched",
		zap.String("mint", result.TokenMint),
		zap.String("signature", result.Signature))
	return res, nil
}

// releaseLease marks our attempt failed so the next launch may run at once.
func (e *Engine) releaseLease(ctx context.Context, curveID, attemptID string, cause error) {
	_, err := withRetry(ctx, e, "launch_release", func() (struct{}, error) {
		snap, err := e.store.GetLaunchSnapshot(ctx, curveID)
		if err != nil {
			return struct{}{}, err
		}
		if snap.AttemptID != attemptID || snap.Status != domain.LaunchRunning {
			return struct{}{}, nil
		}
		snap.Status = domain.LaunchFailed
		snap.LastError = cause.Error()
		snap.LeaseUntil = nil
		snap.UpdatedAt = e.now()
		return struct{}{}, e.store.Commit(ctx, &storage.Mutation{LaunchSnapshot: snap})
	})
	if err != nil {
		e.logger.Warn("Failed to release launch lease, it will expire",
			zap.String("curve_id", curveID),
			zap.String("attempt_id", attemptID),
			zap.Error(err))
	}
}

// ClaimAirdrop disburses a holder's snapshot allocation once. A completed
// claim fails further calls with AlreadyClaimed; a failed one may be retried.
func (e *Engine) ClaimAirdrop(ctx context.Context, req ClaimRequest) (*domain.AirdropClaim, error) {
	if err := requireID("curve id", req.CurveID); err != nil {
		return nil, err
	}
	if err := requireID("user id", req.UserID); err != nil {
		return nil, err
	}
	recipient, err := launch.ParseRecipient(req.Recipient)
	if err != nil {
		return nil, domain.WrapError(domain.KindInvalidInput, "recipient is not a valid wallet address", err,
			map[string]any{"recipient": req.Recipient})
	}

	curve, err := e.loadCurve(ctx, req.CurveID)
	if err != nil {
		return nil, err
	}
	if curve.State != domain.StateLaunched || curve.TokenMint == "" {
		return nil, domain.NewError(domain.KindInvalidState, "airdrop opens after launch",
			map[string]any{"curveId": curve.ID, "state": curve.State})
	}
	snap, err := e.store.GetLaunchSnapshot(ctx, req.CurveID)
	if err != nil {
		return nil, notFound(err, "launch snapshot", map[string]any{"curveId": req.CurveID})
	}
	entry, ok := snap.Entry(req.UserID)
	if !ok || entry.Balance == 0 {
		return nil, domain.NewError(domain.KindNotFound, "no allocation in the launch snapshot",
			map[string]any{"curveId": req.CurveID, "userId": req.UserID})
	}

	tree := launch.NewTree(allocations(snap.Entries))
	leaf := launch.LeafHash(req.UserID, entry.Allocation)
	proof, ok := tree.Proof(leaf)
	if !ok {
		return nil, fmt.Errorf("allocation of %s is missing from the merkle tree of curve %s", req.UserID, req.CurveID)
	}
	if snap.MerkleRoot != "" && tree.Root().String() != snap.MerkleRoot {
		return nil, fmt.Errorf("merkle root mismatch for curve %s: snapshot %s, rebuilt %s",
			req.CurveID, snap.MerkleRoot, tree.Root())
	}

	claim, err := e.reserveClaim(ctx, curve, req.UserID, recipient.String(), entry.Allocation)
	if err != nil {
		return nil, err
	}

	txHash, execErr := e.executor.ClaimAirdrop(ctx, launch.ClaimRequest{
		TokenMint:   curve.TokenMint,
		Recipient:   claim.Recipient,
		Amount:      claim.Amount,
		Leaf:        leaf.String(),
		MerkleProof: launch.EncodeProof(proof),
	})

	persistCtx := context.WithoutCancel(ctx)
	now := e.now()
	claim.UpdatedAt = now
	m := &storage.Mutation{Claim: claim}
	if execErr != nil {
		claim.Status = domain.ClaimFailed
		claim.LastError = execErr.Error()
	} else {
		claim.Status = domain.ClaimCompleted
		claim.TxHash = txHash
		ev := domain.NewEvent(e.newID(), curve.ID, domain.EventClaim, req.UserID, now)
		ev.Amount = claim.Amount
		ev.Keys = entry.Balance
		ev.TxRef = txHash
		m.Events = []*domain.CurveEvent{ev}
	}
	if err := e.store.Commit(persistCtx, m); err != nil {
		// the pending claim goes stale and a retry resolves it through the
		// executor, which pays each leaf once
		e.logger.Error("Failed to record claim outcome",
			zap.String("curve_id", curve.ID),
			zap.String("user_id", req.UserID),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record claim: %w", err)
	}

	if execErr != nil {
		e.logger.Warn("Airdrop claim failed",
			zap.String("curve_id", curve.ID),
			zap.String("user_id", req.UserID),
			zap.Error(execErr))
		return nil, domain.WrapError(domain.KindLaunchExecutionFailed, "airdrop transfer failed, claim can be retried", execErr,
			map[string]any{"curveId": curve.ID, "userId": req.UserID})
	}

	e.publish(events.AirdropClaimedEvent{
		BaseEvent: events.NewBase(events.AirdropClaimed, curve.ID, now),
		UserID:    req.UserID,
		Recipient: claim.Recipient,
		Amount:    claim.Amount,
		TxHash:    txHash,
	})
	e.logger.Info("Airdrop claimed",
		zap.String("curve_id", curve.ID),
		zap.String("user_id", req.UserID),
		zap.Uint64("amount", claim.Amount),
		zap.String("tx_hash", txHash))
	return claim, nil
}

// reserveClaim moves the user's claim to pending before any disbursement. The
// conditional write is what keeps two concurrent claims from both paying.
func (e *Engine) reserveClaim(ctx context.Context, curve *domain.Curve, userID, recipient string, amount uint64) (*domain.AirdropClaim, error) {
	now := e.now()
	claim, err := e.store.GetClaim(ctx, curve.ID, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		claim = &domain.AirdropClaim{
			ID:        e.newID(),
			CurveID:   curve.ID,
			UserID:    userID,
			CreatedAt: now,
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load claim: %w", err)
	case claim.Status == domain.ClaimCompleted:
		return nil, domain.NewError(domain.KindAlreadyClaimed, "airdrop already claimed",
			map[string]any{"curveId": curve.ID, "userId": userID, "txHash": claim.TxHash, "claimedAt": claim.UpdatedAt})
	case claim.Status == domain.ClaimPending && now.Sub(claim.UpdatedAt) < e.launch.ClaimLease:
		return nil, domain.NewError(domain.KindConcurrentModification, "claim is already being processed",
			map[string]any{"curveId": curve.ID, "userId": userID})
	}

	claim.Recipient = recipient
	claim.Amount = amount
	claim.TokenMint = curve.TokenMint
	claim.Status = domain.ClaimPending
	claim.LastError = ""
	claim.UpdatedAt = now
	if err := e.store.Commit(ctx, &storage.Mutation{Claim: claim}); err != nil {
		if isConflict(err) {
			return nil, domain.WrapError(domain.KindConcurrentModification, "claim is already being processed", err,
				map[string]any{"curveId": curve.ID, "userId": userID})
		}
		return nil, fmt.Errorf("failed to reserve claim: %w", err)
	}
	return claim, nil
}

// RefreshMarketStats recomputes the rolling 24h fields of one curve and
// appends a periodic price sample.
func (e *Engine) RefreshMarketStats(ctx context.Context, curveID string) (*domain.Curve, error) {
	curve, err := withRetry(ctx, e, "refresh_stats", func() (*domain.Curve, error) {
		curve, err := e.loadCurve(ctx, curveID)
		if err != nil {
			return nil, err
		}
		w, err := e.stats.Window(ctx, curve)
		if err != nil {
			return nil, err
		}
		if curve.Volume24h == w.Volume && curve.PriceChange24h == w.PriceChange {
			return curve, nil
		}

		next := curve.Clone()
		next.Volume24h = w.Volume
		next.PriceChange24h = w.PriceChange
		next.UpdatedAt = e.now()
		if err := e.store.Commit(ctx, &storage.Mutation{Curve: next}); err != nil {
			return nil, commitErr("stats refresh", err)
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	if curve.State == domain.StateActive {
		e.recordPriceSnapshot(ctx, curve)
	}
	return curve, nil
}

// RefreshAll refreshes every active curve and returns how many succeeded.
// One curve failing does not stop the others.
func (e *Engine) RefreshAll(ctx context.Context) (int, error) {
	start := time.Now()
	curves, err := e.store.ListCurves(ctx, storage.CurveFilter{States: []domain.State{domain.StateActive}})
	if err != nil {
		return 0, fmt.Errorf("failed to list curves: %w", err)
	}

	var (
		errs []error
		ok   int
	)
	for _, c := range curves {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := e.RefreshMarketStats(ctx, c.ID); err != nil {
			errs = append(errs, fmt.Errorf("curve %s: %w", c.ID, err))
			continue
		}
		ok++
	}

	e.logger.Debug("Market stats refreshed",
		zap.Int("curves", len(curves)),
		zap.Int("refreshed", ok),
		zap.Duration("took", time.Since(start)))
	return ok, errors.Join(errs...)
}
