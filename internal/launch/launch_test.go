package launch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func allocations(n int) []Allocation {
	out := make([]Allocation, n)
	for i := range out {
		out[i] = Allocation{UserID: fmt.Sprintf("user-%d", i), Amount: uint64(i+1) * 1_000_000}
	}
	return out
}

func TestMerkleProofsVerify(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 8, 13} {
		t.Run(fmt.Sprintf("%d leaves", n), func(t *testing.T) {
			allocs := allocations(n)
			tree := NewTree(allocs)
			root := tree.Root()

			for _, a := range allocs {
				leaf := LeafHash(a.UserID, a.Amount)
				proof, ok := tree.Proof(leaf)
				require.True(t, ok)
				assert.True(t, Verify(root, leaf, proof), a.UserID)

				decoded, err := DecodeProof(EncodeProof(proof))
				require.NoError(t, err)
				assert.Equal(t, proof, decoded)
			}

			forged := LeafHash(allocs[0].UserID, allocs[0].Amount+1)
			proof, _ := tree.Proof(LeafHash(allocs[0].UserID, allocs[0].Amount))
			assert.False(t, Verify(root, forged, proof))
		})
	}
}

func TestMerkleSingleLeafProof(t *testing.T) {
	allocs := allocations(1)
	tree := NewTree(allocs)
	leaf := LeafHash(allocs[0].UserID, allocs[0].Amount)

	proof, ok := tree.Proof(leaf)
	require.True(t, ok)
	assert.Empty(t, proof)
	assert.Equal(t, tree.Root(), leaf)

	decoded, err := DecodeProof(EncodeProof(proof))
	require.NoError(t, err)
	assert.Nil(t, decoded)
	assert.True(t, Verify(tree.Root(), leaf, decoded))
}

func TestMerkleEmptyAndUnknownLeaf(t *testing.T) {
	tree := NewTree(nil)
	assert.Equal(t, Hash{}, tree.Root())
	_, ok := tree.Proof(LeafHash("x", 1))
	assert.False(t, ok)

	_, err := ParseHash("zz")
	assert.Error(t, err)
}

func TestParseRecipient(t *testing.T) {
	wallet := solana.NewWallet().PublicKey().String()
	_, err := ParseRecipient(wallet)
	assert.NoError(t, err)

	_, err = ParseRecipient("not-a-wallet")
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	_, err = ParseRecipient(solana.PublicKey{}.String())
	assert.ErrorIs(t, err, ErrInvalidRecipient)
}

func launchFixture(t *testing.T, s *SimulatedExecutor) (*Result, *Tree, []Allocation) {
	t.Helper()
	allocs := allocations(3)
	tree := NewTree(allocs)
	res, err := s.Launch(context.Background(), "c1", TokenParams{
		Name: "Alice", Symbol: "ALC", Decimals: 6, TotalSupply: 6_000_000, MerkleRoot: tree.Root().String(),
	}, allocs)
	require.NoError(t, err)
	return res, tree, allocs
}

func TestSimulatedLaunchIsIdempotentPerCurve(t *testing.T) {
	s := NewSimulatedExecutor(zaptest.NewLogger(t), 0)
	first, tree, allocs := launchFixture(t, s)

	_, err := solana.PublicKeyFromBase58(first.TokenMint)
	require.NoError(t, err)
	_, err = solana.SignatureFromBase58(first.Signature)
	require.NoError(t, err)
	assert.Len(t, first.Distribution, 3)

	again, err := s.Launch(context.Background(), "c1", TokenParams{MerkleRoot: tree.Root().String()}, allocs)
	require.NoError(t, err)
	assert.Equal(t, first.TokenMint, again.TokenMint)
	assert.Equal(t, 1, s.Launches())

	_, err = s.Launch(context.Background(), "c2", TokenParams{MerkleRoot: tree.Root().String()}, allocs[:2])
	assert.Error(t, err, "distribution must match the root")
}

func TestSimulatedLaunchInjectedFailure(t *testing.T) {
	s := NewSimulatedExecutor(zaptest.NewLogger(t), 0)
	boom := errors.New("rpc timeout")
	s.FailNextLaunch(boom)

	allocs := allocations(1)
	params := TokenParams{MerkleRoot: NewTree(allocs).Root().String()}
	_, err := s.Launch(context.Background(), "c1", params, allocs)
	assert.ErrorIs(t, err, boom)

	_, err = s.Launch(context.Background(), "c1", params, allocs)
	assert.NoError(t, err)
}

func TestSimulatedClaimPaysOnce(t *testing.T) {
	s := NewSimulatedExecutor(zaptest.NewLogger(t), 0)
	res, tree, allocs := launchFixture(t, s)
	ctx := context.Background()

	leaf := LeafHash(allocs[1].UserID, allocs[1].Amount)
	proof, _ := tree.Proof(leaf)
	req := ClaimRequest{
		TokenMint:   res.TokenMint,
		Recipient:   solana.NewWallet().PublicKey().String(),
		Amount:      allocs[1].Amount,
		Leaf:        leaf.String(),
		MerkleProof: EncodeProof(proof),
	}

	tx, err := s.ClaimAirdrop(ctx, req)
	require.NoError(t, err)
	again, err := s.ClaimAirdrop(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, tx, again)
	assert.Equal(t, 1, s.Disbursements(res.TokenMint))

	bad := req
	bad.Leaf = LeafHash(allocs[1].UserID, allocs[1].Amount*2).String()
	_, err = s.ClaimAirdrop(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidProof)

	bad = req
	bad.Recipient = "nope"
	_, err = s.ClaimAirdrop(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidRecipient)
}

func TestSimulatedRespectsContext(t *testing.T) {
	s := NewSimulatedExecutor(zaptest.NewLogger(t), 1_000_000_000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Launch(ctx, "c1", TokenParams{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeAccounts struct {
	owner solana.PublicKey
	data  []byte
	err   error
}

func (f fakeAccounts) GetAccountInfo(context.Context, solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.data == nil {
		return &rpc.GetAccountInfoResult{}, nil
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{
		Owner: f.owner,
		Data:  rpc.DataBytesOrJSONFromBytes(f.data),
	}}, nil
}

func mintData(decimals uint8) []byte {
	data := make([]byte, 82)
	data[mintDecimalsOffset] = decimals
	return data
}

func TestVerifyingExecutor(t *testing.T) {
	logger := zaptest.NewLogger(t)
	allocs := allocations(2)
	params := TokenParams{Decimals: 6, MerkleRoot: NewTree(allocs).Root().String()}

	tests := []struct {
		name    string
		client  fakeAccounts
		wantErr bool
	}{
		{"valid mint", fakeAccounts{owner: solana.TokenProgramID, data: mintData(6)}, false},
		{"token-2022 mint", fakeAccounts{owner: token2022ProgramID, data: mintData(6)}, false},
		{"missing account", fakeAccounts{}, true},
		{"wrong owner", fakeAccounts{owner: solana.SystemProgramID, data: mintData(6)}, true},
		{"wrong decimals", fakeAccounts{owner: solana.TokenProgramID, data: mintData(9)}, true},
		{"short data", fakeAccounts{owner: solana.TokenProgramID, data: []byte{1}}, true},
		{"rpc error", fakeAccounts{err: errors.New("429")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifyingExecutor(NewSimulatedExecutor(logger, 0), tt.client, logger)
			_, err := v.Launch(context.Background(), "c1", params, allocs)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRPCPoolFailover(t *testing.T) {
	logger := zaptest.NewLogger(t)
	good := fakeAccounts{owner: solana.TokenProgramID, data: mintData(6)}
	bad := fakeAccounts{err: errors.New("connection refused")}

	pool := newPool([]string{"http://a", "http://b"}, []AccountGetter{bad, good}, logger)
	res, err := pool.GetAccountInfo(context.Background(), solana.SystemProgramID)
	require.NoError(t, err)
	assert.True(t, res.Value.Owner.Equals(solana.TokenProgramID))

	down := newPool([]string{"http://a", "http://b"}, []AccountGetter{bad, bad}, logger)
	_, err = down.GetAccountInfo(context.Background(), solana.SystemProgramID)
	assert.ErrorContains(t, err, "all RPC endpoints failed")

	_, err = NewRPCPool(nil, logger)
	assert.Error(t, err)
	_, err = NewRPCPool([]string{"not a url"}, logger)
	assert.Error(t, err)

	p, err := NewRPCPool([]string{"https://api.devnet.solana.com"}, logger)
	require.NoError(t, err)
	assert.Len(t, p.clients, 1)
}
