// Package eligibility maintains the eligible-voter accumulator and produces
// set-membership proofs against its published roots.
//
// The shipped scheme is a Merkle inclusion proof over an arbo tree: it is
// sound (a proof verifies only for a genuine member of the set) but it
// discloses the voter's leaf to the verifier, so identity-hiding holds only
// against third parties, not against the verifier itself. Its commitment
// binding is likewise recomputable from public proof data, so whoever holds
// a proof can rebind it to another commitment; the ledger limits the damage
// to the proof holder's own voter slot. The Prover and Verifier interfaces
// exist so a zero-knowledge scheme can replace it without touching the
// protocol logic.
package eligibility

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/vocdoni/arbo"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/scrutin-io/scrutin-node/types"
)

const (
	censusTreePrefix      = "el/"
	censusReferencePrefix = "er/"

	// censusTreeMaxLevels bounds the arbo tree depth; keys are truncated
	// to maxLevels/8 bytes.
	censusTreeMaxLevels = 160
)

var (
	// ErrCensusNotFound is returned when a census is not found in the database.
	ErrCensusNotFound = fmt.Errorf("census not found in the local database")
	// ErrCensusAlreadyExists is returned by New() if the census already exists.
	ErrCensusAlreadyExists = fmt.Errorf("census already exists in the local database")

	censusHashFunction = arbo.HashFunctionPoseidon
)

// CensusRef is a reference to one eligibility census tree.
type CensusRef struct {
	ID        uuid.UUID
	MaxLevels int
	HashType  string
	LastUsed  time.Time

	// tree and treeMu are runtime-only state; gob never encodes unexported
	// fields, so references persist without them.
	tree   *arbo.Tree
	treeMu sync.Mutex
}

// rootKey converts a root to its canonical hexadecimal string.
func rootKey(root []byte) string {
	return hex.EncodeToString(root)
}

// CensusDB is a safe and persistent database of eligibility census trees.
// It maintains an in-memory index mapping tree roots to census IDs, so a
// session's frozen root can be resolved back to its tree at proof time.
type CensusDB struct {
	mu           sync.RWMutex
	db           db.Database
	loadedCensus map[uuid.UUID]*CensusRef
	rootIndex    map[string]uuid.UUID
}

// NewCensusDB creates a new CensusDB on top of the given database.
func NewCensusDB(d db.Database) *CensusDB {
	return &CensusDB{
		db:           d,
		loadedCensus: make(map[uuid.UUID]*CensusRef),
		rootIndex:    make(map[string]uuid.UUID),
	}
}

// New creates a new census and registers it. It returns
// ErrCensusAlreadyExists if a census with the given ID is already present.
func (c *CensusDB) New(censusID uuid.UUID) (*CensusRef, error) {
	key := append([]byte(censusReferencePrefix), censusID[:]...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.loadedCensus[censusID]; exists {
		return nil, ErrCensusAlreadyExists
	}
	if _, err := c.db.Get(key); err == nil {
		return nil, ErrCensusAlreadyExists
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return nil, err
	}

	ref := &CensusRef{
		ID:        censusID,
		MaxLevels: censusTreeMaxLevels,
		HashType:  string(censusHashFunction.Type()),
		LastUsed:  time.Now(),
	}
	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(c.db, censusPrefix(censusID)),
		MaxLevels:    censusTreeMaxLevels,
		HashFunction: censusHashFunction,
	})
	if err != nil {
		return nil, err
	}
	ref.tree = tree

	if err := c.writeReference(ref); err != nil {
		return nil, err
	}
	c.loadedCensus[censusID] = ref

	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	c.rootIndex[rootKey(root)] = censusID
	return ref, nil
}

// Load returns a census from memory or from the persistent database.
func (c *CensusDB) Load(censusID uuid.UUID) (*CensusRef, error) {
	c.mu.RLock()
	if ref, exists := c.loadedCensus[censusID]; exists {
		c.mu.RUnlock()
		return ref, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if ref, exists := c.loadedCensus[censusID]; exists {
		return ref, nil
	}

	key := append([]byte(censusReferencePrefix), censusID[:]...)
	b, err := c.db.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %x", ErrCensusNotFound, censusID)
		}
		return nil, err
	}
	var ref CensusRef
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ref); err != nil {
		return nil, err
	}

	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(c.db, censusPrefix(censusID)),
		MaxLevels:    ref.MaxLevels,
		HashFunction: censusHashFunction,
	})
	if err != nil {
		return nil, err
	}
	ref.tree = tree

	root, err := tree.Root()
	if err != nil {
		return nil, err
	}
	c.loadedCensus[censusID] = &ref
	if _, exists := c.rootIndex[rootKey(root)]; !exists {
		c.rootIndex[rootKey(root)] = censusID
	}
	return &ref, nil
}

// AddVoter inserts a voter into the census. The voter identifier is hashed
// with Poseidon and truncated to the tree key length; leaf values carry a
// unit weight.
func (c *CensusDB) AddVoter(censusID uuid.UUID, voterID []byte) error {
	if len(voterID) == 0 {
		return fmt.Errorf("%w: empty voter id", types.ErrInvalidInput)
	}
	ref, err := c.Load(censusID)
	if err != nil {
		return err
	}
	key, err := VoterKey(voterID)
	if err != nil {
		return err
	}

	ref.treeMu.Lock()
	oldRoot, err := ref.tree.Root()
	if err != nil {
		ref.treeMu.Unlock()
		return err
	}
	if err := ref.tree.Add(key, voterLeafValue()); err != nil {
		ref.treeMu.Unlock()
		return fmt.Errorf("add voter to census: %w", err)
	}
	newRoot, err := ref.tree.Root()
	ref.treeMu.Unlock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.rootIndex, rootKey(oldRoot))
	c.rootIndex[rootKey(newRoot)] = censusID
	c.mu.Unlock()
	return nil
}

// Root returns the current root of the census.
func (c *CensusDB) Root(censusID uuid.UUID) (types.HexBytes, error) {
	ref, err := c.Load(censusID)
	if err != nil {
		return nil, err
	}
	ref.treeMu.Lock()
	defer ref.treeMu.Unlock()
	root, err := ref.tree.Root()
	if err != nil {
		return nil, err
	}
	return root, nil
}

// Size returns the number of voters in the census.
func (c *CensusDB) Size(censusID uuid.UUID) int {
	ref, err := c.Load(censusID)
	if err != nil {
		return 0
	}
	ref.treeMu.Lock()
	defer ref.treeMu.Unlock()
	n, err := ref.tree.GetNLeafs()
	if err != nil {
		return 0
	}
	return n
}

// ByRoot resolves a census by one of its published roots.
func (c *CensusDB) ByRoot(root []byte) (*CensusRef, error) {
	c.mu.RLock()
	censusID, exists := c.rootIndex[rootKey(root)]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: no census with root %x", ErrCensusNotFound, root)
	}
	return c.Load(censusID)
}

// genProof generates the raw arbo membership proof for a voter key.
func (ref *CensusRef) genProof(key []byte) (value, siblings []byte, err error) {
	ref.treeMu.Lock()
	defer ref.treeMu.Unlock()
	_, value, siblings, existence, err := ref.tree.GenProof(key)
	if err != nil {
		return nil, nil, err
	}
	if !existence {
		return nil, nil, fmt.Errorf("%w: voter not in census", types.ErrEligibilityRejected)
	}
	return value, siblings, nil
}

func (c *CensusDB) writeReference(ref *CensusRef) error {
	key := append([]byte(censusReferencePrefix), ref.ID[:]...)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ref); err != nil {
		return err
	}
	wtx := c.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(key, buf.Bytes()); err != nil {
		return err
	}
	return wtx.Commit()
}

// VoterKey maps a voter identifier to its census tree key: the Poseidon hash
// truncated to the tree key length.
func VoterKey(voterID []byte) ([]byte, error) {
	h, err := poseidon.HashBytes(voterID)
	if err != nil {
		return nil, fmt.Errorf("hash voter id: %w", err)
	}
	return arbo.BigIntToBytes(censusTreeMaxLevels/8, h), nil
}

func voterLeafValue() []byte {
	return arbo.BigIntToBytes(32, big.NewInt(1))
}

func censusPrefix(censusID uuid.UUID) []byte {
	return append([]byte(censusTreePrefix), censusID[:]...)
}
