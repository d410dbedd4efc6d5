// Package accumulator implements the per-session append-only set of vote
// commitments as a binary Merkle tree with sorted-pair hashing. Sorting each
// pair before hashing removes left/right ambiguity, so proofs verify
// regardless of insertion order; an unpaired leaf at any level is promoted
// unchanged to the next level, both while building and while verifying.
package accumulator

import (
	"bytes"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/scrutin-io/scrutin-node/types"
)

// LeafLen is the required byte length of accumulator leaves (commitments).
const LeafLen = 32

// Proof is the inclusion proof for one leaf: its index in the ordered leaf
// list and the sibling hashes bottom-up. Levels where the leaf was promoted
// unpaired contribute no sibling.
type Proof struct {
	Leaf     types.HexBytes   `json:"leaf"`
	Index    int              `json:"index"`
	Siblings []types.HexBytes `json:"siblings"`
}

// Tree is an append-only Merkle accumulator over an ordered leaf list. The
// root and internal levels are rebuilt lazily on the first query after a
// mutation. Safe for concurrent use.
type Tree struct {
	mu     sync.RWMutex
	leaves [][]byte
	index  map[string]int
	// cachedRoot is nil while the tree is stale.
	cachedRoot []byte
}

// NewTree returns an empty accumulator.
func NewTree() *Tree {
	return &Tree{index: make(map[string]int)}
}

// Add inserts a commitment leaf and returns the index it was assigned.
// Inserting a leaf already present is a no-op, not an error; the bool result
// reports whether the leaf was actually added, and the index then refers to
// the existing entry. Any insertion invalidates the cached root until the
// next rebuild.
func (t *Tree) Add(leaf []byte) (int, bool, error) {
	if len(leaf) != LeafLen {
		return 0, false, fmt.Errorf("%w: leaf must be %d bytes, got %d",
			types.ErrInvalidInput, LeafLen, len(leaf))
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, exists := t.index[string(leaf)]; exists {
		return idx, false, nil
	}
	cp := append([]byte(nil), leaf...)
	idx := len(t.leaves)
	t.index[string(cp)] = idx
	t.leaves = append(t.leaves, cp)
	t.cachedRoot = nil
	return idx, true, nil
}

// Contains reports whether the leaf is present.
func (t *Tree) Contains(leaf []byte) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.index[string(leaf)]
	return ok
}

// Size returns the number of leaves.
func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// Leaves returns a copy of the ordered leaf list.
func (t *Tree) Leaves() []types.HexBytes {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.HexBytes, len(t.leaves))
	for i, l := range t.leaves {
		out[i] = append(types.HexBytes(nil), l...)
	}
	return out
}

// Root returns the current accumulator root, rebuilding the tree if a leaf
// was inserted since the last computation. The root of an empty accumulator
// is 32 zero bytes.
func (t *Tree) Root() types.HexBytes {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cachedRoot == nil {
		t.cachedRoot = computeRoot(t.leaves)
	}
	return append(types.HexBytes(nil), t.cachedRoot...)
}

// GenProof returns the inclusion proof for the given commitment, or
// types.ErrCommitmentNotFound if the leaf is absent.
func (t *Tree) GenProof(leaf []byte) (*Proof, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.index[string(leaf)]
	if !ok {
		return nil, fmt.Errorf("%w: %x", types.ErrCommitmentNotFound, leaf)
	}

	proof := &Proof{
		Leaf:  append(types.HexBytes(nil), leaf...),
		Index: idx,
	}
	level := copyLevel(t.leaves)
	pos := idx
	for len(level) > 1 {
		sibling := pos ^ 1
		if sibling < len(level) {
			proof.Siblings = append(proof.Siblings,
				append(types.HexBytes(nil), level[sibling]...))
		}
		// An unpaired node carries no sibling at this level; it is
		// promoted as-is.
		level = nextLevel(level)
		pos /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from the leaf and the proof siblings and
// compares it against the expected root. A mismatch is a normal outcome
// reported as false, never as an error.
func VerifyProof(leaf []byte, proof *Proof, root []byte) bool {
	if proof == nil || len(leaf) != LeafLen || !bytes.Equal(leaf, proof.Leaf) {
		return false
	}
	h := append([]byte(nil), leaf...)
	for _, sibling := range proof.Siblings {
		h = hashPair(h, sibling)
	}
	return bytes.Equal(h, root)
}

// hashPair hashes an ordered pair, smaller operand first.
func hashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return ethcrypto.Keccak256(a, b)
}

func copyLevel(level [][]byte) [][]byte {
	out := make([][]byte, len(level))
	copy(out, level)
	return out
}

// nextLevel folds one tree level into its parents. The unpaired last node of
// an odd level is promoted unchanged.
func nextLevel(level [][]byte) [][]byte {
	out := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 < len(level) {
			out = append(out, hashPair(level[i], level[i+1]))
		} else {
			out = append(out, level[i])
		}
	}
	return out
}

func computeRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return make([]byte, LeafLen)
	}
	level := copyLevel(leaves)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return append([]byte(nil), level[0]...)
}
