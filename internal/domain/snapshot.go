// internal/domain/snapshot.go
package domain

import "time"

// PriceSnapshot is a periodic price sample used for windowed price change.
type PriceSnapshot struct {
	ID        string    `json:"id"`
	CurveID   string    `json:"curveId"`
	Supply    uint64    `json:"supply"`
	Price     uint64    `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
}

// LaunchStatus tracks the external launch call for a frozen curve.
type LaunchStatus string

const (
	LaunchPending   LaunchStatus = "pending"
	LaunchRunning   LaunchStatus = "launching"
	LaunchCompleted LaunchStatus = "completed"
	LaunchFailed    LaunchStatus = "failed"
)

// SnapshotEntry is one holder's position fixed at freeze time.
type SnapshotEntry struct {
	UserID     string  `json:"userId"`
	Balance    uint64  `json:"balance"`    // key units
	Percentage float64 `json:"percentage"` // share of supply, 0..100
	Allocation uint64  `json:"allocation"` // token base units
}

// LaunchSnapshot is the holder distribution fixed when a curve freezes. It also
// carries the lease for the external launch so that only one attempt runs.
type LaunchSnapshot struct {
	CurveID      string          `json:"curveId"`
	Supply       uint64          `json:"supply"`
	Reserve      uint64          `json:"reserve"`
	TokensPerKey uint64          `json:"tokensPerKey"`
	Entries      []SnapshotEntry `json:"entries"`
	MerkleRoot   string          `json:"merkleRoot"`

	Status     LaunchStatus `json:"status"`
	AttemptID  string       `json:"attemptId,omitempty"`
	Attempts   int          `json:"attempts"`
	LeaseUntil *time.Time   `json:"leaseUntil,omitempty"`
	LastError  string       `json:"lastError,omitempty"`
	TokenMint  string       `json:"tokenMint,omitempty"`
	Signature  string       `json:"signature,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// Clone returns a deep copy.
func (s *LaunchSnapshot) Clone() *LaunchSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Entries = append([]SnapshotEntry(nil), s.Entries...)
	if s.LeaseUntil != nil {
		t := *s.LeaseUntil
		out.LeaseUntil = &t
	}
	return &out
}

// Entry returns the snapshot entry for a user.
func (s *LaunchSnapshot) Entry(userID string) (SnapshotEntry, bool) {
	for _, e := range s.Entries {
		if e.UserID == userID {
			return e, true
		}
	}
	return SnapshotEntry{}, false
}

// TokenSupply is the total number of token base units minted at launch.
func (s *LaunchSnapshot) TokenSupply() uint64 {
	return TokenAllocation(s.Supply, s.TokensPerKey)
}

// TokenAllocation converts a key balance in units to token base units.
func TokenAllocation(units, tokensPerKey uint64) uint64 {
	return units/KeyUnit*tokensPerKey + units%KeyUnit*tokensPerKey/KeyUnit
}

// ClaimStatus tracks one airdrop disbursement.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimCompleted ClaimStatus = "completed"
	ClaimFailed    ClaimStatus = "failed"
)

// AirdropClaim records a holder's claim against a launched token.
type AirdropClaim struct {
	ID        string      `json:"id"`
	CurveID   string      `json:"curveId"`
	UserID    string      `json:"userId"`
	Recipient string      `json:"recipient"`
	Amount    uint64      `json:"amount"`
	TokenMint string      `json:"tokenMint"`
	Status    ClaimStatus `json:"status"`
	TxHash    string      `json:"txHash,omitempty"`
	LastError string      `json:"lastError,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Version   int64       `json:"version"`
}

// Clone returns a copy of the claim.
func (c *AirdropClaim) Clone() *AirdropClaim {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}
