package api

// Route constants for the API endpoints

const (
	// Health endpoints
	PingEndpoint = "/ping" // Health check endpoint

	// Session endpoints
	SessionURLParam        = "sessionId"                                                                       // URL parameter for session ID
	CommitmentURLParam     = "commitment"                                                                      // URL parameter for commitment
	SessionsEndpoint       = "/sessions"                                                                       // GET: List sessions, POST: Create session
	SessionEndpoint        = SessionsEndpoint + "/{" + SessionURLParam + "}"                                   // GET: Get session state and tally
	SessionProofEndpoint   = SessionEndpoint + "/proofs/{" + CommitmentURLParam + "}"                          // GET: Membership proof for a commitment

	// Vote endpoints
	VotePrepareEndpoint = "/votes/prepare"     // POST: Derive commit-reveal material
	VoteCommitEndpoint  = "/votes/commitments" // POST: Submit a commitment
	VoteRevealEndpoint  = "/votes/reveals"     // POST: Reveal a commitment

	// Proof endpoints
	ProofVerifyEndpoint = "/proofs/verify" // POST: Verify a membership proof offline

	// Audit endpoints
	AuditReportEndpoint    = "/audit/{" + SessionURLParam + "}/report"    // GET: Session audit report
	AuditTimelineEndpoint  = "/audit/{" + SessionURLParam + "}/timeline"  // GET: Ordered event timeline
	AuditIntegrityEndpoint = "/audit/{" + SessionURLParam + "}/integrity" // GET: Cross-source integrity checks
	AuditExportEndpoint    = "/audit/{" + SessionURLParam + "}/export"    // GET: Self-contained proof bundle
)
