// Package api exposes the node's HTTP boundary: session management, the
// commit-reveal vote flow, membership proofs and the audit surface. URL and
// body identifiers are validated for shape before any lookup, so malformed
// input is distinguishable from a missing resource.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/audit"
	"github.com/scrutin-io/scrutin-node/ledger"
	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/votemanager"
)

const maxRequestBodyLog = 512 // Maximum length of request body to log

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host    string
	Port    int
	Ledger  ledger.Ledger
	Votes   *votemanager.VoteManager
	Auditor *audit.Auditor
	Acc     *accumulator.DB
	Storage *storage.Storage
}

// API type represents the API HTTP server.
type API struct {
	router  *chi.Mux
	ledger  ledger.Ledger
	votes   *votemanager.VoteManager
	auditor *audit.Auditor
	acc     *accumulator.DB
	storage *storage.Storage
}

// New creates a new API instance with the given configuration and starts
// the HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Ledger == nil || conf.Votes == nil || conf.Auditor == nil || conf.Acc == nil || conf.Storage == nil {
		return nil, fmt.Errorf("missing API dependencies")
	}
	a := &API{
		ledger:  conf.Ledger,
		votes:   conf.Votes,
		auditor: conf.Auditor,
		acc:     conf.Acc,
		storage: conf.Storage,
	}
	a.initRouter()
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// NewRouterOnly builds the API without binding a listener. Used by tests
// that drive the router through httptest.
func NewRouterOnly(conf *APIConfig) (*API, error) {
	a := &API{
		ledger:  conf.Ledger,
		votes:   conf.Votes,
		auditor: conf.Auditor,
		acc:     conf.Acc,
		storage: conf.Storage,
	}
	a.initRouter()
	return a, nil
}

// Router returns the chi router for testing purposes.
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	// session endpoints
	log.Infow("register handler", "endpoint", SessionsEndpoint, "method", "POST")
	a.router.Post(SessionsEndpoint, a.newSession)
	log.Infow("register handler", "endpoint", SessionsEndpoint, "method", "GET")
	a.router.Get(SessionsEndpoint, a.listSessions)
	log.Infow("register handler", "endpoint", SessionEndpoint, "method", "GET")
	a.router.Get(SessionEndpoint, a.session)
	log.Infow("register handler", "endpoint", SessionProofEndpoint, "method", "GET")
	a.router.Get(SessionProofEndpoint, a.sessionProof)
	// vote endpoints
	log.Infow("register handler", "endpoint", VotePrepareEndpoint, "method", "POST")
	a.router.Post(VotePrepareEndpoint, a.prepareVote)
	log.Infow("register handler", "endpoint", VoteCommitEndpoint, "method", "POST")
	a.router.Post(VoteCommitEndpoint, a.commitVote)
	log.Infow("register handler", "endpoint", VoteRevealEndpoint, "method", "POST")
	a.router.Post(VoteRevealEndpoint, a.revealVote)
	// proof endpoints
	log.Infow("register handler", "endpoint", ProofVerifyEndpoint, "method", "POST")
	a.router.Post(ProofVerifyEndpoint, a.verifyProof)
	// audit endpoints
	log.Infow("register handler", "endpoint", AuditReportEndpoint, "method", "GET")
	a.router.Get(AuditReportEndpoint, a.auditReport)
	log.Infow("register handler", "endpoint", AuditTimelineEndpoint, "method", "GET")
	a.router.Get(AuditTimelineEndpoint, a.auditTimeline)
	log.Infow("register handler", "endpoint", AuditIntegrityEndpoint, "method", "GET")
	a.router.Get(AuditIntegrityEndpoint, a.auditIntegrity)
	log.Infow("register handler", "endpoint", AuditExportEndpoint, "method", "GET")
	a.router.Get(AuditExportEndpoint, a.auditExport)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}
