// Package ledger defines the boundary with the authoritative ledger that
// records sessions, commitments, reveals and the tally. The node treats the
// ledger as opaque: it is the single source of truth for "commitment
// accepted" and "nullifier consumed", and every entry in the audit log
// originates here.
package ledger

import (
	"context"
	"time"

	"github.com/scrutin-io/scrutin-node/eligibility"
	"github.com/scrutin-io/scrutin-node/types"
)

// TxRef identifies a ledger transaction and the block that sealed it.
type TxRef struct {
	Hash     types.HexBytes `json:"hash"`
	BlockRef uint64         `json:"blockRef"`
}

// Ledger is the contract with the authoritative vote ledger. All calls are
// blocking I/O against an external system: they honor context cancellation
// and deadlines, and a timeout must leave no partial local state behind.
type Ledger interface {
	// CreateSession registers a new voting session.
	CreateSession(ctx context.Context, id types.SessionID, proposalRef string, start, end time.Time) (*TxRef, error)

	// SubmitCommitment records a commitment, consuming the voter's
	// eligibility. Fails if the session is not open, the proof is
	// invalid, or the voter already committed.
	SubmitCommitment(ctx context.Context, id types.SessionID, commitment types.HexBytes, proof *eligibility.Proof, voterKey types.HexBytes) (*TxRef, error)

	// SubmitReveal opens a commitment for tallying. Fails if the
	// commitment is unknown, the reveal does not match it, or the
	// nullifier was already used.
	SubmitReveal(ctx context.Context, id types.SessionID, choice string, salt, nullifier types.HexBytes) (*TxRef, error)

	// Session returns the ledger's view of a session.
	Session(ctx context.Context, id types.SessionID) (*types.Session, error)

	// AuditEntriesBySession returns the session's event log.
	AuditEntriesBySession(ctx context.Context, id types.SessionID) ([]*types.AuditEntry, error)

	// IsNullifierUsed reports whether the nullifier has been consumed.
	IsNullifierUsed(ctx context.Context, id types.SessionID, nullifier types.HexBytes) (bool, error)

	// EligibilityRoot returns the currently published eligibility root.
	EligibilityRoot(ctx context.Context) (types.HexBytes, error)

	// FinalizeSession seals a session, recording its final accumulator
	// root and freezing the tally.
	FinalizeSession(ctx context.Context, id types.SessionID, root types.HexBytes) (*TxRef, error)
}
