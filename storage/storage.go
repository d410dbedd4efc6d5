/*
Package storage provides the persistent state of the vote verification node.

The storage uses a key-value database with prefixed namespaces:

  - s/  : sessionID → Session record (lifecycle state, counts, roots)
  - n/  : sessionID + nullifier → consumed marker (double-vote prevention)
  - c/  : sessionID + commitment → CommitmentRecord (append-only)
  - cv/ : sessionID + voterKey → commitment (one-commitment-per-voter index)
  - a/  : sessionID + seq → AuditEntry (append-only ledger event mirror)
  - aq/ : sessionID → next audit sequence number

Separate sub-databases handed out to sibling packages:

  - ac_ : commitment accumulator trees (accumulator.DB)
  - el_ : eligibility census trees (eligibility.CensusDB)
  - pr_ : durable pending reveal material (votemanager.PendingStore)
*/
package storage

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/types"
)

var (
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrNotFound         = errors.New("not found")

	sessionPrefix       = []byte("s/")
	nullifierPrefix     = []byte("n/")
	commitmentPrefix    = []byte("c/")
	voterIndexPrefix    = []byte("cv/")
	auditPrefix         = []byte("a/")
	auditSeqPrefix      = []byte("aq/")
	accumulatorDBprefix = []byte("ac_")
	eligibilityDBprefix = []byte("el_")
	pendingDBprefix     = []byte("pr_")

	sessionCacheSize = 512
)

// Storage manages all node state over one injected key-value database.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex
	cache      *lru.Cache[string, *types.Session]
}

// New creates a new Storage instance.
func New(d db.Database) *Storage {
	cache, err := lru.New[string, *types.Session](sessionCacheSize)
	if err != nil {
		log.Fatalf("failed to create LRU cache: %v", err)
	}
	return &Storage{
		db:    d,
		cache: cache,
	}
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Errorw(err, "failed to close storage")
	}
}

// AccumulatorDB returns the sub-database reserved for commitment
// accumulator trees.
func (s *Storage) AccumulatorDB() db.Database {
	return prefixeddb.NewPrefixedDatabase(s.db, accumulatorDBprefix)
}

// EligibilityDB returns the sub-database reserved for eligibility census
// trees.
func (s *Storage) EligibilityDB() db.Database {
	return prefixeddb.NewPrefixedDatabase(s.db, eligibilityDBprefix)
}

// PendingDB returns the sub-database reserved for durable pending reveal
// material.
func (s *Storage) PendingDB() db.Database {
	return prefixeddb.NewPrefixedDatabase(s.db, pendingDBprefix)
}

// setArtifact stores an encoded artifact under prefix+key.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	data, err := EncodeArtifact(artifact)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	defer wTx.Discard()
	if err := wTx.Set(key, data); err != nil {
		return err
	}
	return wTx.Commit()
}

// getArtifact retrieves and decodes an artifact, returning ErrNotFound when
// the key is absent.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := DecodeArtifact(data, out); err != nil {
		return fmt.Errorf("could not decode artifact: %w", err)
	}
	return nil
}

// listArtifactKeys retrieves all keys under a prefix.
func (s *Storage) listArtifactKeys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	if err := prefixeddb.NewPrefixedReader(s.db, prefix).Iterate(nil, func(k, _ []byte) bool {
		kcopy := make([]byte, len(k))
		copy(kcopy, k)
		keys = append(keys, kcopy)
		return true
	}); err != nil {
		return nil, err
	}
	return keys, nil
}
