package storage

import (
	"errors"
	"fmt"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/scrutin-io/scrutin-node/types"
)

// nullifierKey scopes a nullifier to its session.
func nullifierKey(sessionID types.SessionID, nullifier []byte) []byte {
	return append(sessionID.Bytes(), nullifier...)
}

// MarkNullifierUsed consumes a nullifier for the session. The check and the
// write happen in one transaction under the global lock, so concurrent
// reveals with the same nullifier cannot both succeed; the second one gets
// types.ErrNullifierAlreadyUsed.
func (s *Storage) MarkNullifierUsed(sessionID types.SessionID, nullifier []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), nullifierPrefix)
	defer wTx.Discard()

	key := nullifierKey(sessionID, nullifier)
	if _, err := wTx.Get(key); err == nil {
		return fmt.Errorf("%w: %x", types.ErrNullifierAlreadyUsed, nullifier)
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("failed to check nullifier: %w", err)
	}
	if err := wTx.Set(key, []byte{1}); err != nil {
		return fmt.Errorf("failed to mark nullifier as used: %w", err)
	}
	return wTx.Commit()
}

// IsNullifierUsed reports whether the nullifier has been consumed in the
// session.
func (s *Storage) IsNullifierUsed(sessionID types.SessionID, nullifier []byte) (bool, error) {
	_, err := prefixeddb.NewPrefixedReader(s.db, nullifierPrefix).Get(nullifierKey(sessionID, nullifier))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check nullifier status: %w", err)
	}
	return true, nil
}
