package votemanager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.vocdoni.io/dvote/db"

	"github.com/scrutin-io/scrutin-node/eligibility"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/types"
)

// PendingVote is the reveal material held between commit and reveal. It
// exists only inside the node: salts and secrets are never written to the
// ledger, and the durable store keeps them encrypted at rest.
type PendingVote struct {
	SessionID  types.SessionID `cbor:"1,keyasint"`
	Commitment types.HexBytes  `cbor:"2,keyasint"`
	VoterKey   types.HexBytes  `cbor:"3,keyasint"`
	Choice     string          `cbor:"4,keyasint"`
	Salt       types.HexBytes  `cbor:"5,keyasint"`
	Secret     types.HexBytes  `cbor:"6,keyasint"`
	Nullifier  types.HexBytes  `cbor:"7,keyasint"`
	CreatedAt  time.Time       `cbor:"8,keyasint"`
	ExpiresAt  time.Time       `cbor:"9,keyasint"`

	// Proof is kept so a prepared commitment can be submitted later
	// without regenerating it against a rotated census.
	Proof *eligibility.Proof `cbor:"10,keyasint"`
}

// PendingStore holds pending reveal material keyed by (session, commitment).
type PendingStore interface {
	Put(p *PendingVote) error
	Get(sessionID types.SessionID, commitment types.HexBytes) (*PendingVote, error)
	Delete(sessionID types.SessionID, commitment types.HexBytes) error
	// Expired returns the entries whose ExpiresAt is before now.
	Expired(now time.Time) ([]*PendingVote, error)
}

// ErrPendingNotFound is returned by stores when no entry matches.
var ErrPendingNotFound = errors.New("pending vote not found")

func pendingKey(sessionID types.SessionID, commitment types.HexBytes) string {
	return string(sessionID.Bytes()) + string(commitment)
}

// MemoryPendingStore keeps pending material in process memory. It is the
// default: nothing touches disk, at the cost of losing pending reveals on
// restart.
type MemoryPendingStore struct {
	mu      sync.RWMutex
	entries map[string]*PendingVote
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{entries: make(map[string]*PendingVote)}
}

func (s *MemoryPendingStore) Put(p *PendingVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[pendingKey(p.SessionID, p.Commitment)] = p
	return nil
}

func (s *MemoryPendingStore) Get(sessionID types.SessionID, commitment types.HexBytes) (*PendingVote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[pendingKey(sessionID, commitment)]
	if !ok {
		return nil, ErrPendingNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPendingStore) Delete(sessionID types.SessionID, commitment types.HexBytes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, pendingKey(sessionID, commitment))
	return nil
}

func (s *MemoryPendingStore) Expired(now time.Time) ([]*PendingVote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []*PendingVote
	for _, p := range s.entries {
		if p.ExpiresAt.Before(now) {
			cp := *p
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

// EncryptedPendingStore persists pending material in the node database,
// sealed with AES-GCM under a node-local key. It survives restarts without
// ever storing reveal material in the clear.
type EncryptedPendingStore struct {
	db   db.Database
	aead cipher.AEAD
}

// NewEncryptedPendingStore opens a durable pending store over the given
// database. The key must be 32 bytes.
func NewEncryptedPendingStore(d db.Database, key []byte) (*EncryptedPendingStore, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("pending store cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pending store gcm: %w", err)
	}
	return &EncryptedPendingStore{db: d, aead: aead}, nil
}

func (s *EncryptedPendingStore) seal(p *PendingVote) ([]byte, error) {
	plain, err := storage.EncodeArtifact(p)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("pending store nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *EncryptedPendingStore) open(sealed []byte) (*PendingVote, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, fmt.Errorf("pending store: sealed entry too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("pending store open: %w", err)
	}
	p := &PendingVote{}
	if err := storage.DecodeArtifact(plain, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *EncryptedPendingStore) Put(p *PendingVote) error {
	sealed, err := s.seal(p)
	if err != nil {
		return err
	}
	tx := s.db.WriteTx()
	defer tx.Discard()
	if err := tx.Set([]byte(pendingKey(p.SessionID, p.Commitment)), sealed); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *EncryptedPendingStore) Get(sessionID types.SessionID, commitment types.HexBytes) (*PendingVote, error) {
	sealed, err := s.db.Get([]byte(pendingKey(sessionID, commitment)))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrPendingNotFound
		}
		return nil, err
	}
	return s.open(sealed)
}

func (s *EncryptedPendingStore) Delete(sessionID types.SessionID, commitment types.HexBytes) error {
	tx := s.db.WriteTx()
	defer tx.Discard()
	if err := tx.Delete([]byte(pendingKey(sessionID, commitment))); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *EncryptedPendingStore) Expired(now time.Time) ([]*PendingVote, error) {
	var expired []*PendingVote
	var iterErr error
	if err := s.db.Iterate(nil, func(_, v []byte) bool {
		p, err := s.open(v)
		if err != nil {
			iterErr = err
			return false
		}
		if p.ExpiresAt.Before(now) {
			expired = append(expired, p)
		}
		return true
	}); err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return expired, nil
}
