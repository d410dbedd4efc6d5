package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/scrutin-io/scrutin-node/types"
)

// AppendAuditEntry appends a ledger event to the session's audit log,
// assigning the next monotonic sequence number. Entries are append-only and
// never rewritten.
func (s *Storage) AppendAuditEntry(entry *types.AuditEntry) (uint64, error) {
	if entry == nil {
		return 0, fmt.Errorf("nil audit entry")
	}
	if err := entry.Check(); err != nil {
		return 0, err
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	seq, err := s.nextAuditSeq(entry.SessionID)
	if err != nil {
		return 0, err
	}
	entry.Seq = seq

	key := make([]byte, types.SessionIDLen+8)
	copy(key, entry.SessionID.Bytes())
	binary.BigEndian.PutUint64(key[types.SessionIDLen:], seq)

	if err := s.setArtifact(auditPrefix, key, entry); err != nil {
		return 0, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return seq, nil
}

// nextAuditSeq reads, increments and persists the per-session sequence
// counter in a single transaction.
func (s *Storage) nextAuditSeq(sessionID types.SessionID) (uint64, error) {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), auditSeqPrefix)
	defer wTx.Discard()

	var seq uint64
	if data, err := wTx.Get(sessionID.Bytes()); err == nil {
		seq = binary.BigEndian.Uint64(data)
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return 0, fmt.Errorf("failed to read audit sequence: %w", err)
	}

	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, seq+1)
	if err := wTx.Set(sessionID.Bytes(), next); err != nil {
		return 0, fmt.Errorf("failed to store audit sequence: %w", err)
	}
	return seq, wTx.Commit()
}

// AuditEntries returns the session's audit log in sequence order.
func (s *Storage) AuditEntries(sessionID types.SessionID) ([]*types.AuditEntry, error) {
	var out []*types.AuditEntry
	var decodeErr error
	if err := prefixeddb.NewPrefixedReader(s.db, auditPrefix).Iterate(sessionID.Bytes(), func(_, value []byte) bool {
		entry := &types.AuditEntry{}
		if err := DecodeArtifact(value, entry); err != nil {
			decodeErr = fmt.Errorf("could not decode audit entry: %w", err)
			return false
		}
		out = append(out, entry)
		return true
	}); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

// CountAuditEntries returns the number of audit entries of the given kind
// for the session. A zero-value kind counts all entries.
func (s *Storage) CountAuditEntries(sessionID types.SessionID, kind types.AuditEntryKind) (int, error) {
	entries, err := s.AuditEntries(sessionID)
	if err != nil {
		return 0, err
	}
	if kind == "" {
		return len(entries), nil
	}
	count := 0
	for _, e := range entries {
		if e.Kind == kind {
			count++
		}
	}
	return count, nil
}
