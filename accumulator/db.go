package accumulator

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/scrutin-io/scrutin-node/types"
)

const leavesPrefix = "al/"

// DB is a persistent registry of per-session accumulators over an injected
// key-value database. Leaves are stored under a per-session prefix keyed by
// insertion index, so a tree survives restarts and reloads in its original
// order. Trees already loaded are kept in memory.
type DB struct {
	mu     sync.RWMutex
	db     db.Database
	loaded map[types.SessionID]*Tree
}

// NewDB creates a new accumulator registry on top of the given database.
func NewDB(d db.Database) *DB {
	return &DB{
		db:     d,
		loaded: make(map[types.SessionID]*Tree),
	}
}

// Tree returns the accumulator for the session, loading persisted leaves on
// first access. A session without leaves yields an empty tree.
func (a *DB) Tree(sessionID types.SessionID) (*Tree, error) {
	a.mu.RLock()
	if tree, ok := a.loaded[sessionID]; ok {
		a.mu.RUnlock()
		return tree, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	// Double-check after acquiring the write lock.
	if tree, ok := a.loaded[sessionID]; ok {
		return tree, nil
	}

	tree := NewTree()
	reader := prefixeddb.NewPrefixedReader(a.db, sessionPrefix(sessionID))
	if err := reader.Iterate(nil, func(_, value []byte) bool {
		if _, _, err := tree.Add(value); err != nil {
			// Skip corrupted leaves; the integrity service will
			// surface the count mismatch.
			return true
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("load accumulator leaves: %w", err)
	}

	a.loaded[sessionID] = tree
	return tree, nil
}

// Add inserts a commitment into the session's accumulator and persists it.
// The insert is idempotent: a duplicate leaf changes neither the tree nor
// the database.
func (a *DB) Add(sessionID types.SessionID, commitment []byte) error {
	tree, err := a.Tree(sessionID)
	if err != nil {
		return err
	}
	idx, added, err := tree.Add(commitment)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	// Persist under the leaf's insertion index assigned by the tree. The
	// index key keeps iteration order equal to insertion order on reload.
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(idx))

	wTx := prefixeddb.NewPrefixedWriteTx(a.db.WriteTx(), sessionPrefix(sessionID))
	defer wTx.Discard()
	if err := wTx.Set(key, commitment); err != nil {
		return fmt.Errorf("persist accumulator leaf: %w", err)
	}
	return wTx.Commit()
}

// Root returns the session's current accumulator root.
func (a *DB) Root(sessionID types.SessionID) (types.HexBytes, error) {
	tree, err := a.Tree(sessionID)
	if err != nil {
		return nil, err
	}
	return tree.Root(), nil
}

// GenProof generates an inclusion proof for the commitment in the session's
// accumulator.
func (a *DB) GenProof(sessionID types.SessionID, commitment []byte) (*Proof, error) {
	tree, err := a.Tree(sessionID)
	if err != nil {
		return nil, err
	}
	return tree.GenProof(commitment)
}

func sessionPrefix(sessionID types.SessionID) []byte {
	return append([]byte(leavesPrefix), sessionID.Bytes()...)
}
