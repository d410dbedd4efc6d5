package types

import (
	"encoding/hex"
	"fmt"
	"time"
)

// SessionIDLen is the byte length of a session identifier. Session IDs are
// fixed-length hashes, hex-encoded on the wire.
const SessionIDLen = 32

// SessionID identifies one voting session (one proposal).
type SessionID [SessionIDLen]byte

// SessionIDFromBytes builds a SessionID from a raw byte slice, rejecting any
// length other than SessionIDLen before it can reach a store lookup.
func SessionIDFromBytes(b []byte) (SessionID, error) {
	var id SessionID
	if len(b) != SessionIDLen {
		return id, fmt.Errorf("%w: session id must be %d bytes, got %d",
			ErrInvalidInput, SessionIDLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// SessionIDFromString parses a hex-encoded session identifier, with or
// without a 0x prefix.
func SessionIDFromString(s string) (SessionID, error) {
	b, err := HexStringToHexBytes(s)
	if err != nil {
		return SessionID{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return SessionIDFromBytes(b)
}

// Bytes returns the session ID as a byte slice.
func (id SessionID) Bytes() []byte { return id[:] }

// String returns the 0x-prefixed hex representation of the session ID.
func (id SessionID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// MarshalJSON encodes the session ID as a 0x-prefixed hex string.
func (id SessionID) MarshalJSON() ([]byte, error) {
	return HexBytes(id[:]).MarshalJSON()
}

// UnmarshalJSON decodes a hex string into the session ID, enforcing the
// fixed length.
func (id *SessionID) UnmarshalJSON(data []byte) error {
	var b HexBytes
	if err := b.UnmarshalJSON(data); err != nil {
		return err
	}
	parsed, err := SessionIDFromBytes(b)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SessionStatus is the lifecycle state of a session. The only legal path is
// CREATED → OPEN → CLOSED → FINALIZED, and FINALIZED is terminal.
type SessionStatus int

const (
	SessionStatusCreated SessionStatus = iota
	SessionStatusOpen
	SessionStatusClosed
	SessionStatusFinalized
)

// String returns the human readable name of the status.
func (s SessionStatus) String() string {
	switch s {
	case SessionStatusCreated:
		return "created"
	case SessionStatusOpen:
		return "open"
	case SessionStatusClosed:
		return "closed"
	case SessionStatusFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionStatusCreated:
		return next == SessionStatusOpen
	case SessionStatusOpen:
		return next == SessionStatusClosed
	case SessionStatusClosed:
		return next == SessionStatusFinalized
	default:
		return false
	}
}

// Session holds the full state of one vote. Counts only mutate through
// validated reveals while the session is open or closed-pending-finalization;
// once Finalized is set the record is immutable.
type Session struct {
	ID          SessionID `json:"id" cbor:"1,keyasint"`
	ProposalRef string    `json:"proposalRef" cbor:"2,keyasint"`
	StartTime   time.Time `json:"startTime" cbor:"3,keyasint"`
	EndTime     time.Time `json:"endTime" cbor:"4,keyasint"`
	// RevealDeadline is the grace deadline after EndTime until which
	// previously accepted commitments may still be revealed.
	RevealDeadline time.Time     `json:"revealDeadline" cbor:"5,keyasint"`
	Status         SessionStatus `json:"status" cbor:"6,keyasint"`

	// EligibilityRoot is the eligibility accumulator root snapshotted when
	// the session opened. Late eligibility changes never affect it.
	EligibilityRoot HexBytes `json:"eligibilityRoot" cbor:"7,keyasint"`

	ChoiceCounts   map[string]uint64 `json:"choiceCounts" cbor:"8,keyasint"`
	CommittedCount uint64            `json:"committedCount" cbor:"9,keyasint"`
	RevealedCount  uint64            `json:"revealedCount" cbor:"10,keyasint"`

	Finalized bool `json:"finalized" cbor:"11,keyasint"`
	// FinalRoot is the commitment accumulator root recorded at finalize
	// time. Empty until finalization.
	FinalRoot HexBytes `json:"finalRoot,omitempty" cbor:"12,keyasint,omitempty"`
}

// Clone returns a deep copy of the session. The choice counts map and the
// byte slices are copied, so a clone can be read while the original mutates.
func (s *Session) Clone() *Session {
	cp := *s
	if s.ChoiceCounts != nil {
		cp.ChoiceCounts = make(map[string]uint64, len(s.ChoiceCounts))
		for choice, count := range s.ChoiceCounts {
			cp.ChoiceCounts[choice] = count
		}
	}
	cp.EligibilityRoot = append(HexBytes(nil), s.EligibilityRoot...)
	cp.FinalRoot = append(HexBytes(nil), s.FinalRoot...)
	return &cp
}

// IsOpenAt reports whether the session accepts commitments at time t.
func (s *Session) IsOpenAt(t time.Time) bool {
	return s.Status == SessionStatusOpen && !t.Before(s.StartTime) && t.Before(s.EndTime)
}

// AcceptsRevealsAt reports whether the session accepts reveals at time t.
// Reveals are accepted while open and during the grace window after close.
func (s *Session) AcceptsRevealsAt(t time.Time) bool {
	if s.Finalized {
		return false
	}
	switch s.Status {
	case SessionStatusOpen:
		return true
	case SessionStatusClosed:
		return t.Before(s.RevealDeadline)
	default:
		return false
	}
}

// Tally returns the current tally of the session.
func (s *Session) Tally() Tally {
	t := Tally{Choices: make(map[string]uint64, len(s.ChoiceCounts))}
	for choice, count := range s.ChoiceCounts {
		t.Choices[choice] = count
		t.Total += count
	}
	return t
}

// Tally is a per-choice count with the derived total.
type Tally struct {
	Choices map[string]uint64 `json:"choices"`
	Total   uint64            `json:"total"`
}

// Consistent reports whether the recorded total equals the sum of the
// per-choice counts.
func (t Tally) Consistent() bool {
	var sum uint64
	for _, c := range t.Choices {
		sum += c
	}
	return sum == t.Total
}
