package types

import (
	"fmt"
	"time"
)

// AuditEntryKind discriminates the audit entry tagged union. Each kind
// carries only the payload fields relevant to it, so exported bundles stay
// machine-verifiable.
type AuditEntryKind string

const (
	AuditSessionCreated     AuditEntryKind = "session_created"
	AuditCommitmentRecorded AuditEntryKind = "commitment_recorded"
	AuditRevealRecorded     AuditEntryKind = "reveal_recorded"
	AuditSessionFinalized   AuditEntryKind = "session_finalized"
)

// Valid reports whether the kind is one of the known audit entry kinds.
func (k AuditEntryKind) Valid() bool {
	switch k {
	case AuditSessionCreated, AuditCommitmentRecorded, AuditRevealRecorded, AuditSessionFinalized:
		return true
	}
	return false
}

// AuditEntry is an immutable record of one lifecycle event, sourced from the
// ledger's event log and never authored locally. Entries are append-only.
type AuditEntry struct {
	Kind      AuditEntryKind `json:"kind" cbor:"1,keyasint"`
	Timestamp time.Time      `json:"timestamp" cbor:"2,keyasint"`
	// Seq is the ledger sequence number, the tie-breaker for timeline
	// ordering when timestamps collide.
	Seq       uint64    `json:"seq" cbor:"3,keyasint"`
	SessionID SessionID `json:"sessionId" cbor:"4,keyasint"`
	Actor     string    `json:"actor,omitempty" cbor:"5,keyasint,omitempty"`
	// ContentHash is the hash of the entry payload as recorded by the
	// ledger, so bundles can be checked for tampering.
	ContentHash HexBytes `json:"contentHash,omitempty" cbor:"6,keyasint,omitempty"`
	BlockRef    uint64   `json:"blockRef" cbor:"7,keyasint"`

	// Kind-specific payload. Exactly the fields for the entry's kind are
	// set; the rest stay empty.
	Commitment HexBytes `json:"commitment,omitempty" cbor:"8,keyasint,omitempty"`
	Nullifier  HexBytes `json:"nullifier,omitempty" cbor:"9,keyasint,omitempty"`
	Choice     string   `json:"choice,omitempty" cbor:"10,keyasint,omitempty"`
	Root       HexBytes `json:"root,omitempty" cbor:"11,keyasint,omitempty"`
}

// Check validates the tagged-union shape of the entry: a known kind and the
// payload fields that kind requires.
func (e *AuditEntry) Check() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown audit entry kind %q", ErrInvalidInput, e.Kind)
	}
	switch e.Kind {
	case AuditCommitmentRecorded:
		if len(e.Commitment) == 0 {
			return fmt.Errorf("%w: commitment entry without commitment", ErrInvalidInput)
		}
	case AuditRevealRecorded:
		if len(e.Nullifier) == 0 {
			return fmt.Errorf("%w: reveal entry without nullifier", ErrInvalidInput)
		}
	case AuditSessionFinalized:
		if len(e.Root) == 0 {
			return fmt.Errorf("%w: finalize entry without root", ErrInvalidInput)
		}
	}
	return nil
}
