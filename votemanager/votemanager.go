// Package votemanager orchestrates the commit-reveal flow for voters: it
// prepares commitments, submits them to the ledger, holds reveal material
// until the reveal phase and mirrors accepted commitments into the local
// accumulator. The ledger is always written first; local state changes only
// after the ledger has accepted.
package votemanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/crypto/votehash"
	"github.com/scrutin-io/scrutin-node/eligibility"
	"github.com/scrutin-io/scrutin-node/ledger"
	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/types"
)

const (
	// DefaultPendingTTL is how long prepared reveal material is kept
	// before cleanup discards it.
	DefaultPendingTTL = 48 * time.Hour

	// DefaultCleanupInterval is how often the background loop sweeps
	// expired pending material.
	DefaultCleanupInterval = 10 * time.Minute
)

// PreparedVote is the artifact returned to the voter after preparation. The
// voter needs the commitment to track acceptance, and the reveal material to
// reveal from another node if this one loses its pending store.
type PreparedVote struct {
	SessionID  types.SessionID    `json:"sessionId"`
	Commitment types.HexBytes     `json:"commitment"`
	Salt       types.HexBytes     `json:"salt"`
	Secret     types.HexBytes     `json:"secret"`
	Nullifier  types.HexBytes     `json:"nullifier"`
	Proof      *eligibility.Proof `json:"proof"`
}

// VoteManager drives commitments and reveals through the ledger.
type VoteManager struct {
	ledger  ledger.Ledger
	prover  eligibility.Prover
	acc     *accumulator.DB
	pending PendingStore
	ttl     time.Duration
}

// New creates a VoteManager. A nil pending store defaults to the in-memory
// one; ttl <= 0 defaults to DefaultPendingTTL.
func New(l ledger.Ledger, prover eligibility.Prover, acc *accumulator.DB, pending PendingStore, ttl time.Duration) *VoteManager {
	if pending == nil {
		pending = NewMemoryPendingStore()
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &VoteManager{
		ledger:  l,
		prover:  prover,
		acc:     acc,
		pending: pending,
		ttl:     ttl,
	}
}

// Prepare derives fresh commit-reveal material for a voter's choice and
// stores it pending. Nothing reaches the ledger yet: the voter decides when
// to submit the returned commitment.
func (m *VoteManager) Prepare(ctx context.Context, sessionID types.SessionID, voterID []byte, choice string) (*PreparedVote, error) {
	session, err := m.ledger.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsOpenAt(time.Now()) {
		return nil, fmt.Errorf("%w: session %s is %s", types.ErrSessionNotOpen, sessionID, session.Status)
	}

	salt, err := votehash.Salt()
	if err != nil {
		return nil, err
	}
	secret, err := votehash.Secret()
	if err != nil {
		return nil, err
	}
	nullifier, err := votehash.Nullifier(voterID, sessionID, secret)
	if err != nil {
		return nil, err
	}
	commitment, err := votehash.Commitment(choice, salt, nullifier)
	if err != nil {
		return nil, err
	}

	// The proof is bound to the commitment, so it is generated here and
	// cannot be replayed for a different vote.
	proof, err := m.prover.Prove(voterID, session.EligibilityRoot, commitment)
	if err != nil {
		return nil, err
	}
	voterKey, err := eligibility.VoterKey(voterID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := m.pending.Put(&PendingVote{
		SessionID:  sessionID,
		Commitment: commitment,
		VoterKey:   voterKey,
		Choice:     choice,
		Salt:       salt,
		Secret:     secret,
		Nullifier:  nullifier,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
		Proof:      proof,
	}); err != nil {
		return nil, err
	}

	log.Debugw("vote prepared", "session", sessionID.String(), "commitment", commitment.String())
	return &PreparedVote{
		SessionID:  sessionID,
		Commitment: commitment,
		Salt:       salt,
		Secret:     secret,
		Nullifier:  nullifier,
		Proof:      proof,
	}, nil
}

// SubmitCommitment sends a commitment to the ledger and, once accepted,
// mirrors it into the session accumulator. A nil proof falls back to the
// one stored at preparation time. The ledger write happens first: on
// rejection the accumulator is untouched, and when the voter already
// committed elsewhere the now-useless pending material is purged.
func (m *VoteManager) SubmitCommitment(ctx context.Context, sessionID types.SessionID, commitment types.HexBytes, proof *eligibility.Proof) (*ledger.TxRef, error) {
	if proof == nil {
		p, err := m.pending.Get(sessionID, commitment)
		if err != nil {
			if errors.Is(err, ErrPendingNotFound) {
				return nil, fmt.Errorf("%w: commitment %s was not prepared here and no proof was given",
					types.ErrCommitmentNotFound, commitment)
			}
			return nil, err
		}
		proof = p.Proof
	}
	if proof == nil {
		return nil, fmt.Errorf("%w: missing eligibility proof", types.ErrInvalidInput)
	}

	var txRef *ledger.TxRef
	err := ledger.Retry(ctx, ledger.DefaultRetryAttempts, ledger.DefaultRetryBackoff, func() error {
		var err error
		txRef, err = m.ledger.SubmitCommitment(ctx, sessionID, commitment, proof, proof.Key)
		return err
	})
	if err != nil {
		if errors.Is(err, types.ErrVoterAlreadyCommitted) {
			if derr := m.pending.Delete(sessionID, commitment); derr != nil {
				log.Warnw("purge pending after duplicate voter", "err", derr.Error())
			}
		}
		return nil, err
	}

	if err := m.acc.Add(sessionID, commitment); err != nil {
		// The ledger accepted, so the commitment is in; the local
		// accumulator will be rebuilt from it if needed.
		log.Errorw(err, "mirror commitment into accumulator")
	}
	log.Debugw("commitment submitted", "session", sessionID.String(),
		"commitment", commitment.String(), "block", txRef.BlockRef)
	return txRef, nil
}

// Reveal submits the reveal for a commitment using voter-supplied material.
// The triple is checked against the recorded commitment locally before the
// ledger is contacted, so a non-matching reveal never consumes a nullifier.
func (m *VoteManager) Reveal(ctx context.Context, sessionID types.SessionID, commitment types.HexBytes, choice string, salt, nullifier types.HexBytes) (*ledger.TxRef, error) {
	recomputed, err := votehash.Commitment(choice, salt, nullifier)
	if err != nil {
		return nil, err
	}
	if len(commitment) > 0 && !recomputed.Equal(commitment) {
		return nil, fmt.Errorf("%w: reveal does not reproduce the commitment", types.ErrCommitmentMismatch)
	}

	var txRef *ledger.TxRef
	err = ledger.Retry(ctx, ledger.DefaultRetryAttempts, ledger.DefaultRetryBackoff, func() error {
		var err error
		txRef, err = m.ledger.SubmitReveal(ctx, sessionID, choice, salt, nullifier)
		return err
	})
	if err != nil {
		if errors.Is(err, types.ErrNullifierAlreadyUsed) {
			// The nullifier is burned, so the material has no
			// further use here.
			if derr := m.pending.Delete(sessionID, recomputed); derr != nil {
				log.Warnw("purge pending after consumed nullifier", "err", derr.Error())
			}
		}
		return nil, err
	}

	if err := m.pending.Delete(sessionID, recomputed); err != nil {
		log.Warnw("purge pending after reveal", "err", err.Error())
	}
	log.Debugw("reveal submitted", "session", sessionID.String(), "choice", choice)
	return txRef, nil
}

// RevealPrepared reveals a commitment from the material this node stored at
// preparation time.
func (m *VoteManager) RevealPrepared(ctx context.Context, sessionID types.SessionID, commitment types.HexBytes) (*ledger.TxRef, error) {
	p, err := m.pending.Get(sessionID, commitment)
	if err != nil {
		if errors.Is(err, ErrPendingNotFound) {
			return nil, fmt.Errorf("%w: commitment %s", types.ErrNoPendingReveal, commitment)
		}
		return nil, err
	}
	return m.Reveal(ctx, sessionID, commitment, p.Choice, p.Salt, p.Nullifier)
}

// CleanupExpired removes pending material whose TTL has elapsed and returns
// how many entries were dropped.
func (m *VoteManager) CleanupExpired(now time.Time) (int, error) {
	expired, err := m.pending.Expired(now)
	if err != nil {
		return 0, err
	}
	for _, p := range expired {
		if err := m.pending.Delete(p.SessionID, p.Commitment); err != nil {
			return 0, err
		}
	}
	if len(expired) > 0 {
		log.Infow("expired pending votes removed", "count", len(expired))
	}
	return len(expired), nil
}

// Start runs the periodic cleanup loop until the context is canceled.
func (m *VoteManager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := m.CleanupExpired(now); err != nil {
					log.Errorw(err, "pending cleanup")
				}
			}
		}
	}()
}
