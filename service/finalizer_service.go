package service

import (
	"context"
	"fmt"
	"time"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/finalizer"
	"github.com/scrutin-io/scrutin-node/ledger"
	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/storage"
)

// FinalizerService handles the finalization of voting sessions based on
// their reveal deadline or on-demand.
type FinalizerService struct {
	*finalizer.Finalizer
	cancel context.CancelFunc
}

// NewFinalizer creates a new finalizer service instance.
func NewFinalizer(lgr ledger.Ledger, stg *storage.Storage, acc *accumulator.DB) *FinalizerService {
	return &FinalizerService{
		Finalizer: finalizer.New(lgr, stg, acc),
	}
}

// Start begins the finalizer service. A zero interval disables the periodic
// deadline monitor; sessions are then only finalized on demand.
func (fs *FinalizerService) Start(ctx context.Context, interval time.Duration) error {
	if fs.cancel != nil {
		return fmt.Errorf("service already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	fs.cancel = cancel

	fs.Finalizer.Start(ctx, interval)

	log.Infow("finalizer service started")
	return nil
}

// Stop halts the finalizer service and waits for its goroutines to exit
// before the database can be closed.
func (fs *FinalizerService) Stop() {
	if fs.cancel != nil {
		fs.cancel()
		fs.cancel = nil
		if fs.Finalizer != nil {
			fs.Close()
		}
		log.Infow("finalizer service stopped")
	}
}
