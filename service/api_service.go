// Package service wires the node components into start/stoppable units used
// by the command entrypoint.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/api"
	"github.com/scrutin-io/scrutin-node/audit"
	"github.com/scrutin-io/scrutin-node/ledger"
	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/votemanager"
)

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	API    *api.API
	mu     sync.Mutex
	cancel context.CancelFunc
	conf   *api.APIConfig
}

// NewAPI creates a new APIService instance.
func NewAPI(host string, port int, lgr ledger.Ledger, votes *votemanager.VoteManager,
	auditor *audit.Auditor, acc *accumulator.DB, stg *storage.Storage,
) *APIService {
	return &APIService{
		conf: &api.APIConfig{
			Host:    host,
			Port:    port,
			Ledger:  lgr,
			Votes:   votes,
			Auditor: auditor,
			Acc:     acc,
			Storage: stg,
		},
	}
}

// Start begins the API server. It returns an error if the service is
// already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}
	_, as.cancel = context.WithCancel(ctx)

	var err error
	as.API, err = api.New(as.conf)
	if err != nil {
		as.cancel()
		as.cancel = nil
		return fmt.Errorf("failed to start API service: %w", err)
	}
	log.Infow("API service started", "host", as.conf.Host, "port", as.conf.Port)
	return nil
}

// Stop halts the API service.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.cancel != nil {
		as.cancel()
		as.cancel = nil
		log.Infow("API service stopped")
	}
}
