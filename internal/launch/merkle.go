package launch

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Hash is a merkle node.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ParseHash decodes a hex node.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("invalid hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

// LeafHash hashes one (user, amount) allocation. Leaves carry a 0x00 prefix
// and inner nodes 0x01, so a leaf can never be passed off as a node.
func LeafHash(userID string, amount uint64) Hash {
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], amount)

	h := sha256.New()
	h.Write([]byte{0x00})
	h.Write([]byte(userID))
	h.Write([]byte{':'})
	h.Write(amt[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// nodeHash sorts the pair so proofs need no left/right flags.
func nodeHash(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write(a[:])
	h.Write(b[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Tree is a binary merkle tree over allocation leaves. An odd node at the end
// of a level is promoted unchanged.
type Tree struct {
	levels [][]Hash
	index  map[Hash]int
}

// NewTree builds a tree over allocations in the given order.
func NewTree(allocs []Allocation) *Tree {
	leaves := make([]Hash, len(allocs))
	index := make(map[Hash]int, len(allocs))
	for i, a := range allocs {
		leaves[i] = LeafHash(a.UserID, a.Amount)
		index[leaves[i]] = i
	}

	levels := [][]Hash{leaves}
	for cur := leaves; len(cur) > 1; {
		next := make([]Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 == len(cur) {
				next = append(next, cur[i])
				continue
			}
			next = append(next, nodeHash(cur[i], cur[i+1]))
		}
		levels = append(levels, next)
		cur = next
	}
	return &Tree{levels: levels, index: index}
}

// Root returns the tree root, or the zero hash for an empty tree.
func (t *Tree) Root() Hash {
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return Hash{}
	}
	return top[0]
}

// Proof returns the sibling path for a leaf.
func (t *Tree) Proof(leaf Hash) ([]Hash, bool) {
	i, ok := t.index[leaf]
	if !ok {
		return nil, false
	}

	var proof []Hash
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		i /= 2
	}
	return proof, true
}

// Verify checks a proof against a root.
func Verify(root, leaf Hash, proof []Hash) bool {
	cur := leaf
	for _, p := range proof {
		cur = nodeHash(cur, p)
	}
	return cur == root
}

// EncodeProof renders a proof as hex strings.
func EncodeProof(proof []Hash) []string {
	out := make([]string, len(proof))
	for i, p := range proof {
		out[i] = p.String()
	}
	return out
}

// DecodeProof parses hex strings produced by EncodeProof. An empty proof
// (single-leaf tree) decodes to nil, as Proof returns it.
func DecodeProof(proof []string) ([]Hash, error) {
	if len(proof) == 0 {
		return nil, nil
	}
	out := make([]Hash, len(proof))
	for i, s := range proof {
		h, err := ParseHash(s)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}
