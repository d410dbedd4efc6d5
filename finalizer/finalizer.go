// Package finalizer seals sessions once their reveal window has elapsed: it
// records the session's accumulator root on the ledger and freezes the
// tally. Sessions reach it either on demand through OndemandCh or through
// the periodic deadline monitor.
package finalizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/ledger"
	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/types"
)

const waitPollInterval = 100 * time.Millisecond

// Finalizer is responsible for finalizing sessions.
type Finalizer struct {
	lgr        ledger.Ledger
	stg        *storage.Storage
	acc        *accumulator.DB
	OndemandCh chan types.SessionID
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// New creates a new Finalizer instance.
func New(lgr ledger.Ledger, stg *storage.Storage, acc *accumulator.DB) *Finalizer {
	return &Finalizer{
		lgr:        lgr,
		stg:        stg,
		acc:        acc,
		OndemandCh: make(chan types.SessionID, 10),
	}
}

// Start launches the finalizer goroutines. Sessions arriving on OndemandCh
// are finalized immediately; the monitor checks reveal deadlines every
// monitorInterval. A zero interval disables the monitor.
func (f *Finalizer) Start(ctx context.Context, monitorInterval time.Duration) {
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case id := <-f.OndemandCh:
				if err := f.finalize(id); err != nil {
					log.Errorw(err, fmt.Sprintf("finalizing session %s", id))
				}
			case <-f.ctx.Done():
				return
			}
		}
	}()

	if monitorInterval > 0 {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			ticker := time.NewTicker(monitorInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					f.finalizeByDeadline(time.Now())
				case <-f.ctx.Done():
					return
				}
			}
		}()
	}

	log.Infow("finalizer started successfully")
}

// Close stops the finalizer goroutines and waits for them to exit. Call it
// before closing the database.
func (f *Finalizer) Close() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.cancel = nil

	waitCh := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
		log.Infow("finalizer closed successfully")
	case <-time.After(5 * time.Second):
		log.Warnw("some finalizer goroutines did not exit cleanly")
	}
}

// finalizeByDeadline queues every non-finalized session whose reveal
// deadline has passed.
func (f *Finalizer) finalizeByDeadline(date time.Time) {
	ids, err := f.stg.ListSessions()
	if err != nil {
		log.Errorw(err, "could not list sessions")
		return
	}
	for _, id := range ids {
		session, err := f.stg.Session(id)
		if err != nil {
			log.Errorw(err, "could not retrieve session")
			continue
		}
		if !session.Finalized && session.RevealDeadline.Before(date) {
			log.Debugw("found session to finalize by deadline", "session", id.String())
			select {
			case f.OndemandCh <- id:
			case <-f.ctx.Done():
				return
			}
		}
	}
}

// finalize seals one session: checks the reveal deadline has elapsed, takes
// the session's accumulator root and records it on the ledger.
func (f *Finalizer) finalize(id types.SessionID) error {
	log.Debugw("finalizing session", "session", id.String())
	session, err := f.lgr.Session(f.ctx, id)
	if err != nil {
		return err
	}
	if session.Finalized {
		return fmt.Errorf("session %s already finalized", id)
	}
	if time.Now().Before(session.RevealDeadline) {
		return fmt.Errorf("session %s reveal window still open until %s", id, session.RevealDeadline)
	}

	root, err := f.acc.Root(id)
	if err != nil {
		return fmt.Errorf("could not compute accumulator root for session %s: %w", id, err)
	}

	err = ledger.Retry(f.ctx, ledger.DefaultRetryAttempts, ledger.DefaultRetryBackoff, func() error {
		_, err := f.lgr.FinalizeSession(f.ctx, id, root)
		return err
	})
	if err != nil {
		return fmt.Errorf("could not finalize session %s: %w", id, err)
	}

	log.Infow("finalized session", "session", id.String(), "root", root.String(),
		"committed", session.CommittedCount, "revealed", session.RevealedCount)
	return nil
}

// WaitUntilFinalized blocks until the session is finalized and returns its
// frozen tally. Without a deadline on ctx it waits up to one minute.
func (f *Finalizer) WaitUntilFinalized(ctx context.Context, id types.SessionID) (*types.Tally, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Minute)
		defer cancel()
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		session, err := f.lgr.Session(ctx, id)
		if err != nil {
			return nil, err
		}
		if session.Finalized {
			tally := session.Tally()
			return &tally, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for session %s to finalize: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}
