//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX.
// If a gap appears in the numbering, that code was used in the past and must not be reused.
var (
	ErrResourceNotFound       = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody          = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedSessionID     = Error{Code: 40003, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed session ID")}
	ErrSessionNotFound        = Error{Code: 40004, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("session not found")}
	ErrSessionNotOpen         = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("session is not accepting this operation")}
	ErrSessionFinalized       = Error{Code: 40006, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("session is finalized")}
	ErrMalformedCommitment    = Error{Code: 40007, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed commitment")}
	ErrCommitmentNotFound     = Error{Code: 40008, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("commitment not found")}
	ErrCommitmentMismatch     = Error{Code: 40009, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("reveal does not match commitment")}
	ErrNullifierAlreadyUsed   = Error{Code: 40010, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("nullifier already used")}
	ErrVoterAlreadyCommitted  = Error{Code: 40011, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("voter already committed in this session")}
	ErrEligibilityRejected    = Error{Code: 40012, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("eligibility proof rejected")}
	ErrNoPendingReveal        = Error{Code: 40013, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("no pending reveal material")}
	ErrMalformedParam         = Error{Code: 40014, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed parameter")}
	ErrInvalidInput           = Error{Code: 40015, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid input")}
	ErrSessionAlreadyExists   = Error{Code: 40016, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("session already exists")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrLedgerUnavailable          = Error{Code: 50003, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("ledger temporarily unavailable")}
)
