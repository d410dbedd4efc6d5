package api

import (
	"encoding/json"
	"net/http"

	"github.com/scrutin-io/scrutin-node/crypto/votehash"
)

// prepareVote handles POST /votes/prepare. It derives fresh commit-reveal
// material for the voter and returns it; nothing reaches the ledger yet.
func (a *API) prepareVote(w http.ResponseWriter, r *http.Request) {
	req := &PrepareVoteRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	id, ok := bodySessionID(req.SessionID)
	if !ok {
		ErrMalformedSessionID.Withf("%d bytes", len(req.SessionID)).Write(w)
		return
	}
	if len(req.VoterID) == 0 {
		ErrInvalidInput.With("missing voter ID").Write(w)
		return
	}
	if req.Choice == "" {
		ErrInvalidInput.With("missing choice").Write(w)
		return
	}

	prepared, err := a.votes.Prepare(r.Context(), id, req.VoterID, req.Choice)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpWriteJSON(w, prepared)
}

// commitVote handles POST /votes/commitments. The commitment is recorded on
// the ledger and mirrored into the session accumulator once accepted.
func (a *API) commitVote(w http.ResponseWriter, r *http.Request) {
	req := &CommitVoteRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	id, ok := bodySessionID(req.SessionID)
	if !ok {
		ErrMalformedSessionID.Withf("%d bytes", len(req.SessionID)).Write(w)
		return
	}
	if err := votehash.CheckCommitmentFormat(req.Commitment); err != nil {
		ErrMalformedCommitment.WithErr(err).Write(w)
		return
	}

	txRef, err := a.votes.SubmitCommitment(r.Context(), id, req.Commitment, req.Proof)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpWriteJSON(w, &TxResponse{TxHash: txRef.Hash, BlockRef: txRef.BlockRef})
}

// revealVote handles POST /votes/reveals. With full material the reveal is
// checked and forwarded to the ledger; with only a commitment the node
// reveals from the material it stored at preparation time.
func (a *API) revealVote(w http.ResponseWriter, r *http.Request) {
	req := &RevealVoteRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	id, ok := bodySessionID(req.SessionID)
	if !ok {
		ErrMalformedSessionID.Withf("%d bytes", len(req.SessionID)).Write(w)
		return
	}

	if req.Choice == "" && len(req.Salt) == 0 {
		// Commitment-only reveal from the pending store.
		if votehash.CheckCommitmentFormat(req.Commitment) != nil {
			ErrMalformedCommitment.Write(w)
			return
		}
		txRef, err := a.votes.RevealPrepared(r.Context(), id, req.Commitment)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		httpWriteJSON(w, &TxResponse{TxHash: txRef.Hash, BlockRef: txRef.BlockRef})
		return
	}

	txRef, err := a.votes.Reveal(r.Context(), id, req.Commitment, req.Choice, req.Salt, req.Nullifier)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpWriteJSON(w, &TxResponse{TxHash: txRef.Hash, BlockRef: txRef.BlockRef})
}
