package storage

import (
	"errors"
	"fmt"

	"github.com/scrutin-io/scrutin-node/types"
)

// Session retrieves a session record. Returns types.ErrSessionNotFound if
// the session does not exist.
func (s *Storage) Session(id types.SessionID) (*types.Session, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.sessionUnsafe(id)
}

func (s *Storage) sessionUnsafe(id types.SessionID) (*types.Session, error) {
	if cached, ok := s.cache.Get(string(id.Bytes())); ok {
		return cached.Clone(), nil
	}
	session := &types.Session{}
	if err := s.getArtifact(sessionPrefix, id.Bytes(), session); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
		}
		return nil, err
	}
	s.cache.Add(string(id.Bytes()), session)
	return session.Clone(), nil
}

// NewSession stores a new session record. It refuses to overwrite an
// existing session; lifecycle changes go through UpdateSession.
func (s *Storage) NewSession(session *types.Session) error {
	if session == nil {
		return fmt.Errorf("nil session data")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	existing := &types.Session{}
	if err := s.getArtifact(sessionPrefix, session.ID.Bytes(), existing); err == nil {
		return fmt.Errorf("%w: session %s", ErrKeyAlreadyExists, session.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	if session.ChoiceCounts == nil {
		session.ChoiceCounts = make(map[string]uint64)
	}
	if err := s.setArtifact(sessionPrefix, session.ID.Bytes(), session); err != nil {
		return err
	}
	s.cache.Add(string(session.ID.Bytes()), session.Clone())
	return nil
}

// UpdateSession performs an atomic read-modify-write on a session. The
// update functions are applied in order under the global lock, so no race is
// possible between concurrent updates. A session that is already finalized
// is immutable and yields types.ErrSessionFinalized.
func (s *Storage) UpdateSession(id types.SessionID, updateFuncs ...func(*types.Session) error) error {
	if len(updateFuncs) == 0 {
		return fmt.Errorf("no update function provided")
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	session, err := s.sessionUnsafe(id)
	if err != nil {
		return err
	}
	if session.Finalized {
		return fmt.Errorf("%w: %s", types.ErrSessionFinalized, id)
	}
	for _, f := range updateFuncs {
		if err := f(session); err != nil {
			return err
		}
	}
	if err := s.setArtifact(sessionPrefix, id.Bytes(), session); err != nil {
		return fmt.Errorf("failed to save updated session: %w", err)
	}
	s.cache.Add(string(id.Bytes()), session)
	return nil
}

// ListSessions returns the identifiers of all stored sessions.
func (s *Storage) ListSessions() ([]types.SessionID, error) {
	keys, err := s.listArtifactKeys(sessionPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]types.SessionID, 0, len(keys))
	for _, k := range keys {
		id, err := types.SessionIDFromBytes(k)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
