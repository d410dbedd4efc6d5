// Package memledger is the in-process implementation of the ledger contract,
// backed by the node's storage layer. It is authoritative for the deployment
// modes that run without an external chain: it owns the session lifecycle,
// the one-commitment-per-voter rule, atomic nullifier consumption and the
// append-only audit log, exactly as a contract-backed ledger would.
package memledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/scrutin-io/scrutin-node/crypto/votehash"
	"github.com/scrutin-io/scrutin-node/eligibility"
	"github.com/scrutin-io/scrutin-node/ledger"
	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/types"
)

var txDomain = []byte("scrutin/memledger-tx/v1")

// MemLedger implements ledger.Ledger over the storage layer.
type MemLedger struct {
	stg      *storage.Storage
	verifier eligibility.Verifier

	rootMu        sync.RWMutex
	publishedRoot types.HexBytes

	// blockCounter provides the monotonic block reference assigned to
	// every accepted transaction.
	blockCounter atomic.Uint64

	// failNext makes the next N calls fail with ErrLedgerUnavailable,
	// to exercise retry paths in tests.
	failNext atomic.Int64
}

var _ ledger.Ledger = (*MemLedger)(nil)

// New creates a MemLedger over the given storage, verifying eligibility
// proofs with the given verifier.
func New(stg *storage.Storage, verifier eligibility.Verifier) *MemLedger {
	return &MemLedger{stg: stg, verifier: verifier}
}

// PublishEligibilityRoot sets the eligibility root new sessions freeze at
// open time.
func (l *MemLedger) PublishEligibilityRoot(root types.HexBytes) {
	l.rootMu.Lock()
	l.publishedRoot = append(types.HexBytes(nil), root...)
	l.rootMu.Unlock()
}

// EligibilityRoot returns the currently published eligibility root.
func (l *MemLedger) EligibilityRoot(ctx context.Context) (types.HexBytes, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return nil, err
	}
	l.rootMu.RLock()
	defer l.rootMu.RUnlock()
	return append(types.HexBytes(nil), l.publishedRoot...), nil
}

// FailNext makes the next n ledger calls return ErrLedgerUnavailable.
func (l *MemLedger) FailNext(n int) {
	l.failNext.Store(int64(n))
}

func (l *MemLedger) checkAvailable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.failNext.Load() > 0 {
		l.failNext.Add(-1)
		return fmt.Errorf("%w: simulated outage", types.ErrLedgerUnavailable)
	}
	return nil
}

// CreateSession registers a new session. The eligibility root is frozen
// immediately if the session opens right away, otherwise at open time.
func (l *MemLedger) CreateSession(ctx context.Context, id types.SessionID, proposalRef string, start, end time.Time) (*ledger.TxRef, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: session end must be after start", types.ErrInvalidInput)
	}
	session := &types.Session{
		ID:          id,
		ProposalRef: proposalRef,
		StartTime:   start,
		EndTime:     end,
		// The grace window defaults to the session's own span, capped
		// at one day.
		RevealDeadline: end.Add(min(end.Sub(start), 24*time.Hour)),
		Status:         types.SessionStatusCreated,
		ChoiceCounts:   make(map[string]uint64),
	}
	if err := l.stg.NewSession(session); err != nil {
		return nil, err
	}
	// Sessions whose window already started open immediately.
	if _, err := l.advance(id, time.Now()); err != nil {
		return nil, err
	}

	txRef := l.newTxRef(id, []byte(proposalRef))
	if _, err := l.stg.AppendAuditEntry(&types.AuditEntry{
		Kind:        types.AuditSessionCreated,
		Timestamp:   time.Now(),
		SessionID:   id,
		Actor:       "admin",
		ContentHash: contentHash(id, []byte(proposalRef)),
		BlockRef:    txRef.BlockRef,
	}); err != nil {
		return nil, err
	}
	log.Infow("session created", "session", id.String(), "proposal", proposalRef)
	return txRef, nil
}

// advance applies the time-driven lifecycle transitions (CREATED → OPEN at
// start time, OPEN → CLOSED at end time) and returns the session's current
// state. The eligibility root is frozen exactly once, when the session
// opens.
func (l *MemLedger) advance(id types.SessionID, now time.Time) (*types.Session, error) {
	session, err := l.stg.Session(id)
	if err != nil {
		return nil, err
	}
	if session.Finalized {
		return session, nil
	}

	var changed bool
	update := func(s *types.Session) error {
		if s.Status == types.SessionStatusCreated && !now.Before(s.StartTime) &&
			s.Status.CanTransition(types.SessionStatusOpen) {
			s.Status = types.SessionStatusOpen
			if len(s.EligibilityRoot) == 0 {
				l.rootMu.RLock()
				s.EligibilityRoot = append(types.HexBytes(nil), l.publishedRoot...)
				l.rootMu.RUnlock()
			}
			changed = true
		}
		if s.Status == types.SessionStatusOpen && !now.Before(s.EndTime) &&
			s.Status.CanTransition(types.SessionStatusClosed) {
			s.Status = types.SessionStatusClosed
			changed = true
		}
		return nil
	}
	if err := l.stg.UpdateSession(id, update); err != nil {
		return nil, err
	}
	if changed {
		if session, err = l.stg.Session(id); err != nil {
			return nil, err
		}
		log.Debugw("session advanced", "session", id.String(), "status", session.Status.String())
	}
	return session, nil
}

// SubmitCommitment verifies eligibility and records the commitment. It is
// the authoritative acceptance point: callers must not mutate any local
// state until this returns successfully.
func (l *MemLedger) SubmitCommitment(ctx context.Context, id types.SessionID, commitment types.HexBytes, proof *eligibility.Proof, voterKey types.HexBytes) (*ledger.TxRef, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return nil, err
	}
	if err := votehash.CheckCommitmentFormat(commitment); err != nil {
		return nil, err
	}
	if len(voterKey) == 0 {
		return nil, fmt.Errorf("%w: empty voter key", types.ErrInvalidInput)
	}
	// The one-commitment-per-voter slot is keyed by the proof's census key,
	// never by a caller-chosen identity.
	if proof == nil || !voterKey.Equal(proof.Key) {
		return nil, fmt.Errorf("%w: voter key does not match eligibility proof", types.ErrEligibilityRejected)
	}

	now := time.Now()
	session, err := l.advance(id, now)
	if err != nil {
		return nil, err
	}
	if !session.IsOpenAt(now) {
		return nil, fmt.Errorf("%w: session %s is %s", types.ErrSessionNotOpen, id, session.Status)
	}
	if err := l.verifier.VerifyForCommitment(proof, session.EligibilityRoot, commitment); err != nil {
		return nil, err
	}

	if err := l.stg.SetCommitment(&storage.CommitmentRecord{
		SessionID:   id,
		Commitment:  commitment,
		VoterKey:    voterKey,
		SubmittedAt: now,
	}); err != nil {
		if errors.Is(err, storage.ErrKeyAlreadyExists) {
			return nil, fmt.Errorf("%w: duplicate commitment %x", types.ErrInvalidInput, commitment)
		}
		return nil, err
	}
	if err := l.stg.UpdateSession(id, func(s *types.Session) error {
		s.CommittedCount++
		return nil
	}); err != nil {
		return nil, err
	}

	txRef := l.newTxRef(id, commitment)
	if _, err := l.stg.AppendAuditEntry(&types.AuditEntry{
		Kind:        types.AuditCommitmentRecorded,
		Timestamp:   now,
		SessionID:   id,
		ContentHash: contentHash(id, commitment),
		BlockRef:    txRef.BlockRef,
		Commitment:  commitment,
	}); err != nil {
		return nil, err
	}
	log.Debugw("commitment recorded", "session", id.String(), "commitment", commitment.String())
	return txRef, nil
}

// SubmitReveal opens a commitment for tallying. The nullifier is consumed
// atomically before any count changes, so concurrent reveals with the same
// nullifier cannot both pass.
func (l *MemLedger) SubmitReveal(ctx context.Context, id types.SessionID, choice string, salt, nullifier types.HexBytes) (*ledger.TxRef, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return nil, err
	}
	commitment, err := votehash.Commitment(choice, salt, nullifier)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session, err := l.advance(id, now)
	if err != nil {
		return nil, err
	}
	if !session.AcceptsRevealsAt(now) {
		return nil, fmt.Errorf("%w: session %s no longer accepts reveals", types.ErrSessionNotOpen, id)
	}

	// The commitment is looked up by the recomputed hash: a reveal whose
	// triple does not reproduce a recorded commitment is indistinguishable
	// from a reveal for an unknown commitment, and both are rejected
	// before the nullifier is touched.
	if _, err := l.stg.Commitment(id, commitment); err != nil {
		return nil, err
	}
	if err := l.stg.MarkNullifierUsed(id, nullifier); err != nil {
		return nil, err
	}
	if err := l.stg.MarkCommitmentRevealed(id, commitment); err != nil {
		return nil, err
	}
	if err := l.stg.UpdateSession(id, func(s *types.Session) error {
		s.RevealedCount++
		s.ChoiceCounts[choice]++
		return nil
	}); err != nil {
		return nil, err
	}

	txRef := l.newTxRef(id, nullifier)
	if _, err := l.stg.AppendAuditEntry(&types.AuditEntry{
		Kind:        types.AuditRevealRecorded,
		Timestamp:   now,
		SessionID:   id,
		ContentHash: contentHash(id, nullifier),
		BlockRef:    txRef.BlockRef,
		Nullifier:   nullifier,
		Choice:      choice,
	}); err != nil {
		return nil, err
	}
	log.Debugw("reveal recorded", "session", id.String(), "choice", choice)
	return txRef, nil
}

// FinalizeSession seals a closed session: the provided accumulator root
// becomes the permanent session root and the tally freezes. The tally
// invariants are checked before anything is written.
func (l *MemLedger) FinalizeSession(ctx context.Context, id types.SessionID, root types.HexBytes) (*ledger.TxRef, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return nil, err
	}
	now := time.Now()
	session, err := l.advance(id, now)
	if err != nil {
		return nil, err
	}
	if session.Finalized {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionFinalized, id)
	}
	if !session.Status.CanTransition(types.SessionStatusFinalized) {
		return nil, fmt.Errorf("%w: session %s is %s, cannot finalize", types.ErrSessionNotOpen, id, session.Status)
	}

	tally := session.Tally()
	if !tally.Consistent() || tally.Total != session.RevealedCount {
		return nil, fmt.Errorf("%w: tally total does not match revealed count", types.ErrIntegrityMismatch)
	}
	if session.RevealedCount > session.CommittedCount {
		return nil, fmt.Errorf("%w: revealed count exceeds committed count", types.ErrIntegrityMismatch)
	}

	if err := l.stg.UpdateSession(id, func(s *types.Session) error {
		s.Status = types.SessionStatusFinalized
		s.Finalized = true
		s.FinalRoot = append(types.HexBytes(nil), root...)
		return nil
	}); err != nil {
		return nil, err
	}

	txRef := l.newTxRef(id, root)
	if _, err := l.stg.AppendAuditEntry(&types.AuditEntry{
		Kind:        types.AuditSessionFinalized,
		Timestamp:   now,
		SessionID:   id,
		Actor:       "finalizer",
		ContentHash: contentHash(id, root),
		BlockRef:    txRef.BlockRef,
		Root:        root,
	}); err != nil {
		return nil, err
	}
	log.Infow("session finalized", "session", id.String(), "root", root.String(), "total", tally.Total)
	return txRef, nil
}

// Session returns the ledger's view of the session, with time-driven
// transitions applied.
func (l *MemLedger) Session(ctx context.Context, id types.SessionID) (*types.Session, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return nil, err
	}
	return l.advance(id, time.Now())
}

// AuditEntriesBySession returns the session's event log in ledger order.
func (l *MemLedger) AuditEntriesBySession(ctx context.Context, id types.SessionID) ([]*types.AuditEntry, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return nil, err
	}
	return l.stg.AuditEntries(id)
}

// IsNullifierUsed reports whether the nullifier has been consumed in the
// session.
func (l *MemLedger) IsNullifierUsed(ctx context.Context, id types.SessionID, nullifier types.HexBytes) (bool, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return false, err
	}
	return l.stg.IsNullifierUsed(id, nullifier)
}

func (l *MemLedger) newTxRef(id types.SessionID, payload []byte) *ledger.TxRef {
	block := l.blockCounter.Add(1)
	blockBytes := []byte{
		byte(block >> 56), byte(block >> 48), byte(block >> 40), byte(block >> 32),
		byte(block >> 24), byte(block >> 16), byte(block >> 8), byte(block),
	}
	return &ledger.TxRef{
		Hash:     ethcrypto.Keccak256(txDomain, id.Bytes(), payload, blockBytes),
		BlockRef: block,
	}
}

func contentHash(id types.SessionID, payload []byte) types.HexBytes {
	return ethcrypto.Keccak256(id.Bytes(), payload)
}
