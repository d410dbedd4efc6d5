package storage

import (
	"errors"
	"fmt"
	"time"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/scrutin-io/scrutin-node/types"
)

// CommitmentRecord is the append-only record of one accepted commitment.
// Only the Revealed flag ever changes after creation; records are never
// deleted, for audit.
type CommitmentRecord struct {
	SessionID  types.SessionID `json:"sessionId" cbor:"1,keyasint"`
	Commitment types.HexBytes  `json:"commitment" cbor:"2,keyasint"`
	// VoterKey is the hashed voter identity used for the
	// one-commitment-per-voter rule; raw voter identifiers are never
	// stored.
	VoterKey    types.HexBytes `json:"voterKey" cbor:"3,keyasint"`
	SubmittedAt time.Time      `json:"submittedAt" cbor:"4,keyasint"`
	Revealed    bool           `json:"revealed" cbor:"5,keyasint"`
}

func commitmentKey(sessionID types.SessionID, commitment []byte) []byte {
	return append(sessionID.Bytes(), commitment...)
}

// SetCommitment records an accepted commitment and indexes its voter key.
// A second commitment for the same (session, voter) pair yields
// types.ErrVoterAlreadyCommitted; a duplicate commitment value yields
// ErrKeyAlreadyExists.
func (s *Storage) SetCommitment(rec *CommitmentRecord) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	voterKey := commitmentKey(rec.SessionID, rec.VoterKey)
	reader := prefixeddb.NewPrefixedReader(s.db, voterIndexPrefix)
	if _, err := reader.Get(voterKey); err == nil {
		return fmt.Errorf("%w: session %s", types.ErrVoterAlreadyCommitted, rec.SessionID)
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("failed to check voter index: %w", err)
	}

	existing := &CommitmentRecord{}
	if err := s.getArtifact(commitmentPrefix, commitmentKey(rec.SessionID, rec.Commitment), existing); err == nil {
		return fmt.Errorf("%w: commitment %x", ErrKeyAlreadyExists, rec.Commitment)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := s.setArtifact(commitmentPrefix, commitmentKey(rec.SessionID, rec.Commitment), rec); err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), voterIndexPrefix)
	defer wTx.Discard()
	if err := wTx.Set(voterKey, rec.Commitment); err != nil {
		return fmt.Errorf("failed to index voter commitment: %w", err)
	}
	return wTx.Commit()
}

// Commitment retrieves a commitment record, or types.ErrCommitmentNotFound.
func (s *Storage) Commitment(sessionID types.SessionID, commitment []byte) (*CommitmentRecord, error) {
	rec := &CommitmentRecord{}
	if err := s.getArtifact(commitmentPrefix, commitmentKey(sessionID, commitment), rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %x", types.ErrCommitmentNotFound, commitment)
		}
		return nil, err
	}
	return rec, nil
}

// MarkCommitmentRevealed flips the Revealed flag of a commitment record.
// This is the only mutation a commitment record ever receives.
func (s *Storage) MarkCommitmentRevealed(sessionID types.SessionID, commitment []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	rec := &CommitmentRecord{}
	key := commitmentKey(sessionID, commitment)
	if err := s.getArtifact(commitmentPrefix, key, rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %x", types.ErrCommitmentNotFound, commitment)
		}
		return err
	}
	rec.Revealed = true
	return s.setArtifact(commitmentPrefix, key, rec)
}

// ListCommitments returns all commitment records of a session in key order.
func (s *Storage) ListCommitments(sessionID types.SessionID) ([]*CommitmentRecord, error) {
	var out []*CommitmentRecord
	var decodeErr error
	if err := prefixeddb.NewPrefixedReader(s.db, commitmentPrefix).Iterate(sessionID.Bytes(), func(_, value []byte) bool {
		rec := &CommitmentRecord{}
		if err := DecodeArtifact(value, rec); err != nil {
			decodeErr = fmt.Errorf("could not decode commitment record: %w", err)
			return false
		}
		out = append(out, rec)
		return true
	}); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}
