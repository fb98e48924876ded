package launch

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// SimulatedExecutor mints throwaway keypairs and signs launch and claim
// payloads locally. It enforces the same contract as a real launcher: proofs
// are checked against the launched root and each leaf pays out once.
type SimulatedExecutor struct {
	mu      sync.Mutex
	logger  *zap.Logger
	latency time.Duration

	tokens  map[string]*simToken // mint -> token
	byCurve map[string]string    // curve -> mint

	failLaunch []error
	failClaim  []error
	launches   int
}

type simToken struct {
	authority solana.PrivateKey
	root      Hash
	params    TokenParams
	paid      map[Hash]string // leaf -> tx hash
}

// NewSimulatedExecutor creates an executor. Latency is slept on each call to
// mimic a remote launcher.
func NewSimulatedExecutor(logger *zap.Logger, latency time.Duration) *SimulatedExecutor {
	return &SimulatedExecutor{
		logger:  logger.Named("launch_sim"),
		latency: latency,
		tokens:  make(map[string]*simToken),
		byCurve: make(map[string]string),
	}
}

// FailNextLaunch makes the next launch calls fail with the given errors in order.
func (s *SimulatedExecutor) FailNextLaunch(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLaunch = append(s.failLaunch, errs...)
}

// FailNextClaim makes the next claim calls fail with the given errors in order.
func (s *SimulatedExecutor) FailNextClaim(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failClaim = append(s.failClaim, errs...)
}

// Launches returns how many launches succeeded.
func (s *SimulatedExecutor) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

// Disbursements returns how many claims were paid for a mint.
func (s *SimulatedExecutor) Disbursements(mint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[mint]; ok {
		return len(t.paid)
	}
	return 0
}

// Launch implements Executor.
func (s *SimulatedExecutor) Launch(ctx context.Context, curveID string, params TokenParams, distribution []Allocation) (*Result, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	root, err := ParseHash(params.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid merkle root: %w", err)
	}
	if NewTree(distribution).Root() != root {
		return nil, errors.New("distribution does not match merkle root")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failLaunch) > 0 {
		err := s.failLaunch[0]
		s.failLaunch = s.failLaunch[1:]
		return nil, err
	}
	if mint, ok := s.byCurve[curveID]; ok {
		// повторный запуск возвращает уже созданный токен
		t := s.tokens[mint]
		return s.result(mint, t, distribution)
	}

	mint := solana.NewWallet().PublicKey().String()
	t := &simToken{
		authority: solana.NewWallet().PrivateKey,
		root:      root,
		params:    params,
		paid:      make(map[Hash]string),
	}
	s.tokens[mint] = t
	s.byCurve[curveID] = mint
	s.launches++

	s.logger.Info("Token launched",
		zap.String("curve_id", curveID),
		zap.String("mint", mint),
		zap.String("symbol", params.Symbol),
		zap.Uint64("supply", params.TotalSupply),
		zap.Int("recipients", len(distribution)))

	return s.result(mint, t, distribution)
}

func (s *SimulatedExecutor) result(mint string, t *simToken, distribution []Allocation) (*Result, error) {
	sig, err := t.authority.Sign(sha256Sum([]byte(mint), t.root[:]))
	if err != nil {
		return nil, fmt.Errorf("failed to sign launch: %w", err)
	}
	return &Result{
		TokenMint:    mint,
		Signature:    sig.String(),
		Distribution: append([]Allocation(nil), distribution...),
	}, nil
}

// ClaimAirdrop implements Executor.
func (s *SimulatedExecutor) ClaimAirdrop(ctx context.Context, req ClaimRequest) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	recipient, err := ParseRecipient(req.Recipient)
	if err != nil {
		return "", err
	}
	leaf, err := ParseHash(req.Leaf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	proof, err := DecodeProof(req.MerkleProof)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[req.TokenMint]
	if !ok {
		return "", fmt.Errorf("unknown token mint %s", req.TokenMint)
	}
	if !Verify(t.root, leaf, proof) {
		return "", ErrInvalidProof
	}
	if tx, ok := t.paid[leaf]; ok {
		return tx, nil
	}
	if len(s.failClaim) > 0 {
		err := s.failClaim[0]
		s.failClaim = s.failClaim[1:]
		return "", err
	}

	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], req.Amount)
	sig, err := t.authority.Sign(sha256Sum(leaf[:], recipient[:], amt[:]))
	if err != nil {
		return "", fmt.Errorf("failed to sign transfer: %w", err)
	}
	tx := sig.String()
	t.paid[leaf] = tx

	s.logger.Debug("Airdrop disbursed",
		zap.String("mint", req.TokenMint),
		zap.String("recipient", recipient.String()),
		zap.Uint64("amount", req.Amount))
	return tx, nil
}

func (s *SimulatedExecutor) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.latency):
		return nil
	}
}

func sha256Sum(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
