package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/launch"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

var tokenParams = launch.TokenParams{Name: "Owner Keys", Symbol: "OWN"}

// frozenCurve builds the reference curve: 236 keys across 4 holders, frozen.
func frozenCurve(t *testing.T, h *harness) *domain.Curve {
	t.Helper()
	c := h.activate(t, "owner")
	h.buy(t, c.ID, "b1", keys(44))
	h.buy(t, c.ID, "b2", keys(166))
	h.buy(t, c.ID, "b3", keys(25))

	res, err := h.engine.Freeze(context.Background(), c.ID, "owner")
	require.NoError(t, err)
	return res.Curve
}

func wallet() string {
	return solana.NewWallet().PublicKey().String()
}

func TestLaunchMovesReserveToLiquidity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := frozenCurve(t, h)
	reserve := c.Reserve

	_, err := h.engine.Launch(ctx, c.ID, "b1", tokenParams)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	res, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.NoError(t, err)

	assert.Equal(t, domain.StateLaunched, res.Curve.State)
	assert.NotEmpty(t, res.Curve.TokenMint)
	assert.Zero(t, res.Curve.Reserve)
	assert.NotNil(t, res.Curve.LaunchedAt)
	assert.Equal(t, domain.LaunchCompleted, res.Snapshot.Status)
	assert.Equal(t, 1, res.Snapshot.Attempts)
	assert.Len(t, res.Launch.Distribution, 4)

	evs, err := h.mem.ListEvents(ctx, c.ID, storage.EventFilter{Types: []domain.EventType{domain.EventLaunch}})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, reserve, evs[0].Amount)
	assert.Equal(t, res.Launch.Signature, evs[0].TxRef)

	_, err = h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "launch is one-way")
	assert.Equal(t, 1, h.exec.Launches())
}

func TestLaunchRequiresFrozenCurve(t *testing.T) {
	h := newHarness(t)
	c := h.activate(t, "owner")

	_, err := h.engine.Launch(context.Background(), c.ID, "owner", tokenParams)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestLaunchFailureKeepsCurveFrozen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := frozenCurve(t, h)

	boom := errors.New("launchpad unavailable")
	h.exec.FailNextLaunch(boom)

	_, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.ErrorIs(t, err, domain.ErrLaunchExecutionFailed)
	assert.ErrorIs(t, err, boom)

	got, err := h.engine.GetCurve(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFrozen, got.State)
	assert.Equal(t, c.Reserve, got.Reserve)
	assert.Empty(t, got.TokenMint)

	snap, err := h.engine.GetLaunchSnapshot(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchFailed, snap.Status)
	assert.Contains(t, snap.LastError, "launchpad unavailable")
	assert.Nil(t, snap.LeaseUntil)

	res, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.NoError(t, err, "a failed launch is safe to retry")
	assert.Equal(t, 2, res.Snapshot.Attempts)
	assert.Empty(t, res.Snapshot.LastError)
}

// blockingExecutor holds Launch until released.
type blockingExecutor struct {
	*launch.SimulatedExecutor
	started chan struct{}
	release chan struct{}
}

func (b *blockingExecutor) Launch(ctx context.Context, curveID string, p launch.TokenParams, d []launch.Allocation) (*launch.Result, error) {
	close(b.started)
	<-b.release
	return b.SimulatedExecutor.Launch(ctx, curveID, p, d)
}

func TestConcurrentLaunchIsLeased(t *testing.T) {
	blocking := &blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, func(c *Config) {
		blocking.SimulatedExecutor = c.Executor.(*launch.SimulatedExecutor)
		c.Executor = blocking
	})
	ctx := context.Background()
	c := frozenCurve(t, h)

	var (
		wg     sync.WaitGroup
		first  *LaunchResult
		errOne error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, errOne = h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	}()
	<-blocking.started

	_, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.ErrorIs(t, err, domain.ErrLaunchInProgress)

	close(blocking.release)
	wg.Wait()
	require.NoError(t, errOne)
	assert.Equal(t, domain.StateLaunched, first.Curve.State)
	assert.Equal(t, 1, h.exec.Launches())
}

func TestExpiredLeaseCanBeTakenOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := frozenCurve(t, h)

	// an attempt that crashed mid-call
	snap, err := h.mem.GetLaunchSnapshot(ctx, c.ID)
	require.NoError(t, err)
	until := h.clock.Now().Add(time.Minute)
	snap.Status, snap.AttemptID, snap.LeaseUntil = domain.LaunchRunning, "crashed", &until
	require.NoError(t, h.mem.Commit(ctx, &storage.Mutation{LaunchSnapshot: snap}))

	_, err = h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.ErrorIs(t, err, domain.ErrLaunchInProgress)

	h.clock.Advance(2 * time.Minute)
	res, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.NoError(t, err)
	assert.NotEqual(t, "crashed", res.Snapshot.AttemptID)
}

func TestClaimAirdropIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := frozenCurve(t, h)

	_, err := h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b2", Recipient: wallet()})
	assert.ErrorIs(t, err, domain.ErrInvalidState, "no claims before launch")

	launched, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.NoError(t, err)
	mint := launched.Curve.TokenMint

	recipient := wallet()
	claim, err := h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b2", Recipient: recipient})
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimCompleted, claim.Status)
	assert.Equal(t, uint64(166_000_000), claim.Amount)
	assert.Equal(t, recipient, claim.Recipient)
	assert.NotEmpty(t, claim.TxHash)

	_, err = h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b2", Recipient: wallet()})
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, claim.TxHash, de.Details["txHash"])
	assert.Equal(t, 1, h.exec.Disbursements(mint))

	evs, _ := h.mem.ListEvents(ctx, c.ID, storage.EventFilter{Types: []domain.EventType{domain.EventClaim}})
	assert.Len(t, evs, 1)
}

func TestClaimAirdropValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := frozenCurve(t, h)
	_, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.NoError(t, err)

	_, err = h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b1", Recipient: "0xdeadbeef"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "latecomer", Recipient: wallet()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: "missing", UserID: "b1", Recipient: wallet()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFailedClaimCanBeRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := frozenCurve(t, h)
	launched, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.NoError(t, err)

	h.exec.FailNextClaim(errors.New("blockhash expired"))
	_, err = h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b3", Recipient: wallet()})
	require.ErrorIs(t, err, domain.ErrLaunchExecutionFailed)

	stored, err := h.mem.GetClaim(ctx, c.ID, "b3")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimFailed, stored.Status)

	claim, err := h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b3", Recipient: wallet()})
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimCompleted, claim.Status)
	assert.Equal(t, stored.ID, claim.ID, "same claim record")
	assert.Equal(t, 1, h.exec.Disbursements(launched.Curve.TokenMint))
}

func TestPendingClaimBlocksConcurrentClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := frozenCurve(t, h)
	_, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.NoError(t, err)

	now := h.clock.Now()
	require.NoError(t, h.mem.Commit(ctx, &storage.Mutation{Claim: &domain.AirdropClaim{
		ID: "in-flight", CurveID: c.ID, UserID: "b1", Status: domain.ClaimPending, CreatedAt: now, UpdatedAt: now,
	}}))

	_, err = h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b1", Recipient: wallet()})
	require.ErrorIs(t, err, domain.ErrConcurrentModification)

	h.clock.Advance(DefaultLaunchConfig().ClaimLease + time.Second)
	claim, err := h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b1", Recipient: wallet()})
	require.NoError(t, err, "a stale pending claim is resumed")
	assert.Equal(t, "in-flight", claim.ID)
}

// ctxStore fails like a database driver once the context is done.
type ctxStore struct {
	storage.Store
}

func (s ctxStore) GetCurve(ctx context.Context, id string) (*domain.Curve, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.GetCurve(ctx, id)
}

func (s ctxStore) GetLaunchSnapshot(ctx context.Context, curveID string) (*domain.LaunchSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.GetLaunchSnapshot(ctx, curveID)
}

func (s ctxStore) Commit(ctx context.Context, m *storage.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Commit(ctx, m)
}

// hangupExecutor cancels the caller's context right after a successful call,
// as a client disconnecting mid-request would.
type hangupExecutor struct {
	*launch.SimulatedExecutor
	cancel context.CancelFunc
}

func (x *hangupExecutor) Launch(ctx context.Context, curveID string, p launch.TokenParams, d []launch.Allocation) (*launch.Result, error) {
	res, err := x.SimulatedExecutor.Launch(ctx, curveID, p, d)
	x.cancel()
	return res, err
}

func (x *hangupExecutor) ClaimAirdrop(ctx context.Context, req launch.ClaimRequest) (string, error) {
	tx, err := x.SimulatedExecutor.ClaimAirdrop(ctx, req)
	x.cancel()
	return tx, err
}

func newHangupHarness(t *testing.T) (*harness, *hangupExecutor) {
	hangup := &hangupExecutor{cancel: func() {}}
	h := newHarness(t,
		withStore(func(s storage.Store) storage.Store { return ctxStore{s} }),
		func(c *Config) {
			hangup.SimulatedExecutor = c.Executor.(*launch.SimulatedExecutor)
			c.Executor = hangup
		})
	return h, hangup
}

func TestLaunchCommitsAfterCallerDisconnects(t *testing.T) {
	h, hangup := newHangupHarness(t)
	c := frozenCurve(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hangup.cancel = cancel

	res, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.NoError(t, err)
	assert.Error(t, ctx.Err())

	got, err := h.mem.GetCurve(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateLaunched, got.State)
	assert.Equal(t, res.Curve.TokenMint, got.TokenMint)

	snap, err := h.mem.GetLaunchSnapshot(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LaunchCompleted, snap.Status)
}

func TestClaimRecordedAfterCallerDisconnects(t *testing.T) {
	h, hangup := newHangupHarness(t)
	c := frozenCurve(t, h)
	_, err := h.engine.Launch(context.Background(), c.ID, "owner", tokenParams)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hangup.cancel = cancel

	claim, err := h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b1", Recipient: wallet()})
	require.NoError(t, err)

	stored, err := h.mem.GetClaim(context.Background(), c.ID, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimCompleted, stored.Status)
	assert.Equal(t, claim.TxHash, stored.TxHash)
}

func TestClaimRejectsTamperedSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := frozenCurve(t, h)
	launched, err := h.engine.Launch(ctx, c.ID, "owner", tokenParams)
	require.NoError(t, err)

	snap, err := h.mem.GetLaunchSnapshot(ctx, c.ID)
	require.NoError(t, err)
	for i := range snap.Entries {
		if snap.Entries[i].UserID == "b2" {
			snap.Entries[i].Allocation *= 2
		}
	}
	require.NoError(t, h.mem.Commit(ctx, &storage.Mutation{LaunchSnapshot: snap}))

	_, err = h.engine.ClaimAirdrop(ctx, ClaimRequest{CurveID: c.ID, UserID: "b2", Recipient: wallet()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merkle root mismatch")
	assert.Zero(t, h.exec.Disbursements(launched.Curve.TokenMint))

	_, err = h.mem.GetClaim(ctx, c.ID, "b2")
	assert.ErrorIs(t, err, storage.ErrNotFound, "nothing reserved")
}
