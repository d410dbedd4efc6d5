package api

import (
	"net/http"
)

// auditReport handles GET /audit/{sessionId}/report.
func (a *API) auditReport(w http.ResponseWriter, r *http.Request) {
	id, ok := urlSessionID(r)
	if !ok {
		ErrMalformedSessionID.Write(w)
		return
	}
	report, err := a.auditor.Report(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpWriteJSON(w, report)
}

// auditTimeline handles GET /audit/{sessionId}/timeline.
func (a *API) auditTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := urlSessionID(r)
	if !ok {
		ErrMalformedSessionID.Write(w)
		return
	}
	timeline, err := a.auditor.Timeline(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpWriteJSON(w, timeline)
}

// auditIntegrity handles GET /audit/{sessionId}/integrity. A failing check
// is reported in the body, not as an HTTP error: integrity problems are
// findings, not request failures.
func (a *API) auditIntegrity(w http.ResponseWriter, r *http.Request) {
	id, ok := urlSessionID(r)
	if !ok {
		ErrMalformedSessionID.Write(w)
		return
	}
	result, err := a.auditor.VerifyIntegrity(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpWriteJSON(w, result)
}

// auditExport handles GET /audit/{sessionId}/export.
func (a *API) auditExport(w http.ResponseWriter, r *http.Request) {
	id, ok := urlSessionID(r)
	if !ok {
		ErrMalformedSessionID.Write(w)
		return
	}
	bundle, err := a.auditor.Export(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpWriteJSON(w, bundle)
}
