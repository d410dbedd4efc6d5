package types

import "errors"

// Protocol errors. Every rejection in the voting pipeline wraps exactly one
// of these sentinels, so callers and auditors can always tell which invariant
// failed. Collapsing them into a generic "invalid vote" is considered a bug.
var (
	// ErrInvalidInput signals malformed bytes or identifiers. Caller error,
	// never retried: retrying a malformed commitment cannot fix it.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEligibilityRejected signals an eligibility proof that failed
	// verification. Not retriable without a fresh proof.
	ErrEligibilityRejected = errors.New("eligibility proof rejected")

	// ErrSessionNotFound signals an unknown session identifier.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotOpen signals an operation against a session that is not
	// in the required lifecycle state.
	ErrSessionNotOpen = errors.New("session not open")

	// ErrSessionFinalized signals a mutation attempt against a finalized,
	// immutable session.
	ErrSessionFinalized = errors.New("session already finalized")

	// ErrNullifierAlreadyUsed signals a double-vote attempt. Always
	// surfaced, never silently ignored.
	ErrNullifierAlreadyUsed = errors.New("nullifier already used")

	// ErrCommitmentNotFound signals a reveal or proof request for a
	// commitment the ledger never accepted.
	ErrCommitmentNotFound = errors.New("commitment not found")

	// ErrCommitmentMismatch signals a reveal whose (choice, salt, nullifier)
	// triple does not hash to the recorded commitment.
	ErrCommitmentMismatch = errors.New("reveal does not match commitment")

	// ErrVoterAlreadyCommitted signals a second commitment from the same
	// voter for the same session.
	ErrVoterAlreadyCommitted = errors.New("voter already committed")

	// ErrNoPendingReveal signals a reveal for which no pending material is
	// held locally. Recoverable only by re-preparing, which is not
	// equivalent to the original vote and is flagged as a distinct flow.
	ErrNoPendingReveal = errors.New("no pending reveal material")

	// ErrLedgerUnavailable signals transient ledger connectivity trouble,
	// eligible for bounded retry with backoff.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrIntegrityMismatch marks a failed audit reconciliation. Audit-only:
	// it taints the session report but never blocks ongoing voting.
	ErrIntegrityMismatch = errors.New("integrity mismatch")
)
