package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scrutin-io/scrutin-node/crypto/votehash"
	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/types"
)

// httpWriteJSON helper function allows to write a JSON response.
func httpWriteJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	jdata, err := json.Marshal(data)
	if err != nil {
		ErrMarshalingServerJSONFailed.WithErr(err).Write(w)
		return
	}
	n, err := w.Write(jdata)
	if err != nil {
		log.Warnw("failed to write http response", "error", err)
		return
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
		return
	}
	if log.Level() == log.LogLevelDebug {
		log.Debugw("api response", "bytes", n, "data", strings.ReplaceAll(string(jdata), "\"", ""))
	}
}

// httpWriteOK helper function allows to write an OK response.
func httpWriteOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
}

// urlSessionID parses and validates the session ID URL parameter. The shape
// check runs before any lookup.
func urlSessionID(r *http.Request) (types.SessionID, bool) {
	id, err := types.SessionIDFromString(chi.URLParam(r, SessionURLParam))
	return id, err == nil
}

// urlCommitment parses and validates the commitment URL parameter.
func urlCommitment(r *http.Request) (types.HexBytes, bool) {
	b, err := types.HexStringToHexBytes(chi.URLParam(r, CommitmentURLParam))
	if err != nil || votehash.CheckCommitmentFormat(b) != nil {
		return nil, false
	}
	return b, true
}

// bodySessionID validates a session ID carried in a request body.
func bodySessionID(raw types.HexBytes) (types.SessionID, bool) {
	id, err := types.SessionIDFromBytes(raw)
	return id, err == nil
}

// writeDomainError maps a domain error to its API error code.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		ErrSessionNotFound.WithErr(err).Write(w)
	case errors.Is(err, types.ErrSessionFinalized):
		ErrSessionFinalized.WithErr(err).Write(w)
	case errors.Is(err, types.ErrSessionNotOpen):
		ErrSessionNotOpen.WithErr(err).Write(w)
	case errors.Is(err, types.ErrNullifierAlreadyUsed):
		ErrNullifierAlreadyUsed.WithErr(err).Write(w)
	case errors.Is(err, types.ErrVoterAlreadyCommitted):
		ErrVoterAlreadyCommitted.WithErr(err).Write(w)
	case errors.Is(err, types.ErrCommitmentNotFound):
		ErrCommitmentNotFound.WithErr(err).Write(w)
	case errors.Is(err, types.ErrCommitmentMismatch):
		ErrCommitmentMismatch.WithErr(err).Write(w)
	case errors.Is(err, types.ErrNoPendingReveal):
		ErrNoPendingReveal.WithErr(err).Write(w)
	case errors.Is(err, types.ErrEligibilityRejected):
		ErrEligibilityRejected.WithErr(err).Write(w)
	case errors.Is(err, types.ErrLedgerUnavailable):
		ErrLedgerUnavailable.WithErr(err).Write(w)
	case errors.Is(err, types.ErrInvalidInput):
		ErrInvalidInput.WithErr(err).Write(w)
	default:
		ErrGenericInternalServerError.WithErr(err).Write(w)
	}
}
