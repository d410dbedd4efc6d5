package api

import (
	"time"

	"github.com/scrutin-io/scrutin-node/eligibility"
	"github.com/scrutin-io/scrutin-node/types"
)

// NewSessionRequest is the body of POST /sessions.
type NewSessionRequest struct {
	SessionID   types.HexBytes `json:"sessionId"`
	ProposalRef string         `json:"proposalRef"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     time.Time      `json:"endTime"`
}

// NewSessionResponse is the response of POST /sessions.
type NewSessionResponse struct {
	SessionID types.SessionID `json:"sessionId"`
	TxHash    types.HexBytes  `json:"txHash"`
	BlockRef  uint64          `json:"blockRef"`
}

// SessionListResponse is the response of GET /sessions.
type SessionListResponse struct {
	Sessions []types.SessionID `json:"sessions"`
}

// PrepareVoteRequest is the body of POST /votes/prepare.
type PrepareVoteRequest struct {
	SessionID types.HexBytes `json:"sessionId"`
	VoterID   types.HexBytes `json:"voterId"`
	Choice    string         `json:"choice"`
}

// CommitVoteRequest is the body of POST /votes/commitments. Proof is
// optional when the vote was prepared on this node.
type CommitVoteRequest struct {
	SessionID  types.HexBytes     `json:"sessionId"`
	Commitment types.HexBytes     `json:"commitment"`
	Proof      *eligibility.Proof `json:"proof,omitempty"`
}

// RevealVoteRequest is the body of POST /votes/reveals. Either the full
// reveal material is given, or just the commitment to reveal from material
// this node stored at preparation time.
type RevealVoteRequest struct {
	SessionID  types.HexBytes `json:"sessionId"`
	Commitment types.HexBytes `json:"commitment,omitempty"`
	Choice     string         `json:"choice,omitempty"`
	Salt       types.HexBytes `json:"salt,omitempty"`
	Nullifier  types.HexBytes `json:"nullifier,omitempty"`
}

// TxResponse reports the ledger transaction that recorded an operation.
type TxResponse struct {
	TxHash   types.HexBytes `json:"txHash"`
	BlockRef uint64         `json:"blockRef"`
}

// VerifyProofRequest is the body of POST /proofs/verify.
type VerifyProofRequest struct {
	Commitment types.HexBytes   `json:"commitment"`
	Root       types.HexBytes   `json:"root"`
	Index      int              `json:"index"`
	Siblings   []types.HexBytes `json:"siblings"`
}

// VerifyProofResponse is the response of POST /proofs/verify.
type VerifyProofResponse struct {
	Valid bool `json:"valid"`
}
