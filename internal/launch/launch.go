// Package launch defines the contract with the external token launcher and the
// airdrop distribution that follows it.
package launch

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrInvalidRecipient is returned for a recipient that is not a Solana address.
var ErrInvalidRecipient = errors.New("invalid recipient address")

// ErrInvalidProof is returned when a merkle proof does not match the root.
var ErrInvalidProof = errors.New("invalid merkle proof")

// TokenParams describes the token minted for a frozen curve.
type TokenParams struct {
	Name        string `json:"name" binding:"required,max=32"`
	Symbol      string `json:"symbol" binding:"required,max=10"`
	URI         string `json:"uri,omitempty" binding:"omitempty,url"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply uint64 `json:"totalSupply"` // base units
	Liquidity   uint64 `json:"liquidity"`   // lamports moved from the reserve
	MerkleRoot  string `json:"merkleRoot"`
}

// Allocation is one recipient's share of the minted supply.
type Allocation struct {
	UserID string `json:"userId"`
	Amount uint64 `json:"amount"`
}

// Result is returned by a successful launch.
type Result struct {
	TokenMint    string       `json:"tokenMint"`
	Signature    string       `json:"signature"`
	Distribution []Allocation `json:"distribution"`
}

// ClaimRequest asks the executor to transfer an airdrop allocation.
type ClaimRequest struct {
	TokenMint   string   `json:"tokenMint"`
	Recipient   string   `json:"recipient"`
	Amount      uint64   `json:"amount"`
	Leaf        string   `json:"leaf"`
	MerkleProof []string `json:"merkleProof"`
}

// Executor mints tokens and disburses airdrops. Calls may be slow and are not
// transactional with local state: a failed call may or may not have taken
// effect on chain.
type Executor interface {
	Launch(ctx context.Context, curveID string, params TokenParams, distribution []Allocation) (*Result, error)
	ClaimAirdrop(ctx context.Context, req ClaimRequest) (string, error)
}

// ParseRecipient validates a base58 wallet address.
func ParseRecipient(addr string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if pk.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("%w: zero address", ErrInvalidRecipient)
	}
	return pk, nil
}
