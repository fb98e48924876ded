package launch

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// mintDecimalsOffset is the offset of the decimals byte in an SPL mint account.
const mintDecimalsOffset = 44

var token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

// AccountGetter is the RPC subset the verifier needs. *rpc.Client and
// *RPCPool satisfy it.
type AccountGetter interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// VerifyingExecutor wraps an Executor and confirms on chain that a launched
// mint exists, is owned by the token program and has the requested decimals.
// A launch whose mint cannot be confirmed is reported as failed.
type VerifyingExecutor struct {
	Executor
	client AccountGetter
	logger *zap.Logger
}

// NewVerifyingExecutor creates a VerifyingExecutor.
func NewVerifyingExecutor(next Executor, client AccountGetter, logger *zap.Logger) *VerifyingExecutor {
	return &VerifyingExecutor{Executor: next, client: client, logger: logger.Named("mint_verifier")}
}

// Launch implements Executor.
func (v *VerifyingExecutor) Launch(ctx context.Context, curveID string, params TokenParams, distribution []Allocation) (*Result, error) {
	res, err := v.Executor.Launch(ctx, curveID, params, distribution)
	if err != nil {
		return nil, err
	}
	if err := v.VerifyMint(ctx, res.TokenMint, params.Decimals); err != nil {
		return nil, err
	}
	return res, nil
}

// VerifyMint checks the mint account.
func (v *VerifyingExecutor) VerifyMint(ctx context.Context, mint string, decimals uint8) error {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return fmt.Errorf("invalid mint address %q: %w", mint, err)
	}

	acc, err := v.client.GetAccountInfo(ctx, pk)
	if err != nil {
		return fmt.Errorf("failed to get mint account: %w", err)
	}
	if acc == nil || acc.Value == nil {
		return fmt.Errorf("mint account not found: %s", mint)
	}
	if !acc.Value.Owner.Equals(solana.TokenProgramID) && !acc.Value.Owner.Equals(token2022ProgramID) {
		return fmt.Errorf("mint %s is owned by %s, not a token program", mint, acc.Value.Owner)
	}

	data := acc.Value.Data.GetBinary()
	if len(data) <= mintDecimalsOffset {
		return fmt.Errorf("invalid mint account data length: %d", len(data))
	}
	if data[mintDecimalsOffset] != decimals {
		return fmt.Errorf("mint %s has %d decimals, want %d", mint, data[mintDecimalsOffset], decimals)
	}

	v.logger.Debug("Mint verified", zap.String("mint", mint), zap.Uint8("decimals", decimals))
	return nil
}
