package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/types"
)

// newSession handles POST /sessions. It registers a new voting session on
// the ledger.
func (a *API) newSession(w http.ResponseWriter, r *http.Request) {
	req := &NewSessionRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	id, ok := bodySessionID(req.SessionID)
	if !ok {
		ErrMalformedSessionID.Withf("%d bytes", len(req.SessionID)).Write(w)
		return
	}
	if req.ProposalRef == "" {
		ErrInvalidInput.With("missing proposal reference").Write(w)
		return
	}

	txRef, err := a.ledger.CreateSession(r.Context(), id, req.ProposalRef, req.StartTime, req.EndTime)
	if err != nil {
		if errors.Is(err, storage.ErrKeyAlreadyExists) {
			ErrSessionAlreadyExists.WithErr(err).Write(w)
			return
		}
		writeDomainError(w, err)
		return
	}
	httpWriteJSON(w, &NewSessionResponse{
		SessionID: id,
		TxHash:    txRef.Hash,
		BlockRef:  txRef.BlockRef,
	})
}

// listSessions handles GET /sessions.
func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	// The session list lives in local storage; the ledger is only needed
	// for per-session state.
	ids, err := a.storage.ListSessions()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &SessionListResponse{Sessions: ids})
}

// session handles GET /sessions/{sessionId}. The returned session includes
// the live tally counters.
func (a *API) session(w http.ResponseWriter, r *http.Request) {
	id, ok := urlSessionID(r)
	if !ok {
		ErrMalformedSessionID.Write(w)
		return
	}
	session, err := a.ledger.Session(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpWriteJSON(w, session)
}

// sessionProof handles GET /sessions/{sessionId}/proofs/{commitment}. It
// returns the accumulator membership proof for a recorded commitment.
func (a *API) sessionProof(w http.ResponseWriter, r *http.Request) {
	id, ok := urlSessionID(r)
	if !ok {
		ErrMalformedSessionID.Write(w)
		return
	}
	commitment, ok := urlCommitment(r)
	if !ok {
		ErrMalformedCommitment.Write(w)
		return
	}
	// The session must exist before the accumulator is consulted, so an
	// unknown session is not reported as a missing commitment.
	if _, err := a.ledger.Session(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	proof, err := a.acc.GenProof(id, commitment)
	if err != nil {
		if errors.Is(err, types.ErrCommitmentNotFound) {
			ErrCommitmentNotFound.WithErr(err).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, proof)
}

// verifyProof handles POST /proofs/verify. Verification is pure: it needs
// no node state beyond the request itself.
func (a *API) verifyProof(w http.ResponseWriter, r *http.Request) {
	req := &VerifyProofRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if len(req.Commitment) == 0 || len(req.Root) == 0 {
		ErrInvalidInput.With("missing commitment or root").Write(w)
		return
	}
	valid := accumulator.VerifyProof(req.Commitment, &accumulator.Proof{
		Leaf:     req.Commitment,
		Index:    req.Index,
		Siblings: req.Siblings,
	}, req.Root)
	httpWriteJSON(w, &VerifyProofResponse{Valid: valid})
}
