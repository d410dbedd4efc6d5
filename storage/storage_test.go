package storage

import (
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/scrutin-io/scrutin-node/types"
	"github.com/scrutin-io/scrutin-node/util"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	c := qt.New(t)
	mdb, err := metadb.New(db.TypePebble, t.TempDir())
	c.Assert(err, qt.IsNil)
	stg := New(mdb)
	t.Cleanup(stg.Close)
	return stg
}

func newTestSession(t *testing.T) *types.Session {
	t.Helper()
	c := qt.New(t)
	id, err := types.SessionIDFromBytes(util.Random32())
	c.Assert(err, qt.IsNil)
	return &types.Session{
		ID:             id,
		ProposalRef:    "prop-1",
		StartTime:      time.Now().Truncate(time.Second),
		EndTime:        time.Now().Truncate(time.Second).Add(time.Hour),
		RevealDeadline: time.Now().Truncate(time.Second).Add(2 * time.Hour),
		Status:         types.SessionStatusOpen,
		ChoiceCounts:   make(map[string]uint64),
	}
}

func TestSessionCRUD(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	session := newTestSession(t)

	_, err := stg.Session(session.ID)
	c.Assert(err, qt.ErrorIs, types.ErrSessionNotFound)

	c.Assert(stg.NewSession(session), qt.IsNil)
	c.Assert(stg.NewSession(session), qt.ErrorIs, ErrKeyAlreadyExists)

	got, err := stg.Session(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.ProposalRef, qt.Equals, "prop-1")
	c.Assert(got.Status, qt.Equals, types.SessionStatusOpen)

	// Mutating the returned copy does not leak into the store.
	got.CommittedCount = 99
	again, err := stg.Session(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(again.CommittedCount, qt.Equals, uint64(0))

	err = stg.UpdateSession(session.ID, func(s *types.Session) error {
		s.CommittedCount++
		s.ChoiceCounts["yes"]++
		return nil
	})
	c.Assert(err, qt.IsNil)
	got, err = stg.Session(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.CommittedCount, qt.Equals, uint64(1))
	c.Assert(got.ChoiceCounts["yes"], qt.Equals, uint64(1))

	ids, err := stg.ListSessions()
	c.Assert(err, qt.IsNil)
	c.Assert(ids, qt.HasLen, 1)
	c.Assert(ids[0], qt.Equals, session.ID)
}

func TestUpdateSessionConcurrent(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	session := newTestSession(t)
	c.Assert(stg.NewSession(session), qt.IsNil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				err := stg.UpdateSession(session.ID, func(s *types.Session) error {
					s.RevealedCount++
					return nil
				})
				if err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := stg.Session(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.RevealedCount, qt.Equals, uint64(160))
}

func TestSessionCopiesDoNotShareChoiceCounts(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	session := newTestSession(t)
	c.Assert(stg.NewSession(session), qt.IsNil)

	// Mutating the caller's map after NewSession does not leak into the store.
	session.ChoiceCounts["stale"] = 7
	got, err := stg.Session(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.ChoiceCounts, qt.HasLen, 0)

	// A returned copy stays readable while reveals mutate the stored counts.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			err := stg.UpdateSession(session.ID, func(s *types.Session) error {
				s.ChoiceCounts["yes"]++
				s.RevealedCount++
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s, err := stg.Session(session.ID)
			if err != nil {
				t.Error(err)
				return
			}
			tally := s.Tally()
			if tally.Total != s.RevealedCount {
				t.Errorf("tally total %d diverged from revealed count %d", tally.Total, s.RevealedCount)
			}
		}
	}()
	wg.Wait()

	got, err = stg.Session(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(got.ChoiceCounts["yes"], qt.Equals, uint64(200))
}

func TestFinalizedSessionIsImmutable(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	session := newTestSession(t)
	c.Assert(stg.NewSession(session), qt.IsNil)

	err := stg.UpdateSession(session.ID, func(s *types.Session) error {
		s.Status = types.SessionStatusFinalized
		s.Finalized = true
		s.FinalRoot = util.Random32()
		return nil
	})
	c.Assert(err, qt.IsNil)

	err = stg.UpdateSession(session.ID, func(s *types.Session) error {
		s.RevealedCount++
		return nil
	})
	c.Assert(err, qt.ErrorIs, types.ErrSessionFinalized)
}

func TestNullifierConsumption(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	session := newTestSession(t)
	c.Assert(stg.NewSession(session), qt.IsNil)
	nullifier := util.Random32()

	used, err := stg.IsNullifierUsed(session.ID, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(used, qt.IsFalse)

	c.Assert(stg.MarkNullifierUsed(session.ID, nullifier), qt.IsNil)
	c.Assert(stg.MarkNullifierUsed(session.ID, nullifier), qt.ErrorIs, types.ErrNullifierAlreadyUsed)

	used, err = stg.IsNullifierUsed(session.ID, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(used, qt.IsTrue)

	// Consumption is scoped per session.
	other := newTestSession(t)
	c.Assert(stg.NewSession(other), qt.IsNil)
	used, err = stg.IsNullifierUsed(other.ID, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(used, qt.IsFalse)
}

func TestCommitmentRecords(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	session := newTestSession(t)
	c.Assert(stg.NewSession(session), qt.IsNil)

	rec := &CommitmentRecord{
		SessionID:   session.ID,
		Commitment:  util.Random32(),
		VoterKey:    util.RandomBytes(20),
		SubmittedAt: time.Now().Truncate(time.Second),
	}
	c.Assert(stg.SetCommitment(rec), qt.IsNil)

	// The exact same commitment cannot be stored twice.
	c.Assert(stg.SetCommitment(rec), qt.ErrorIs, ErrKeyAlreadyExists)

	// The same voter cannot store a different commitment.
	second := &CommitmentRecord{
		SessionID:   session.ID,
		Commitment:  util.Random32(),
		VoterKey:    rec.VoterKey,
		SubmittedAt: time.Now(),
	}
	c.Assert(stg.SetCommitment(second), qt.ErrorIs, types.ErrVoterAlreadyCommitted)

	got, err := stg.Commitment(session.ID, rec.Commitment)
	c.Assert(err, qt.IsNil)
	c.Assert(got.VoterKey, qt.DeepEquals, rec.VoterKey)
	c.Assert(got.Revealed, qt.IsFalse)

	_, err = stg.Commitment(session.ID, util.Random32())
	c.Assert(err, qt.ErrorIs, types.ErrCommitmentNotFound)

	c.Assert(stg.MarkCommitmentRevealed(session.ID, rec.Commitment), qt.IsNil)
	got, err = stg.Commitment(session.ID, rec.Commitment)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Revealed, qt.IsTrue)

	records, err := stg.ListCommitments(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(records, qt.HasLen, 1)
}

func TestAuditLogSequence(t *testing.T) {
	c := qt.New(t)
	stg := newTestStorage(t)
	session := newTestSession(t)
	c.Assert(stg.NewSession(session), qt.IsNil)

	for i := 0; i < 5; i++ {
		seq, err := stg.AppendAuditEntry(&types.AuditEntry{
			Kind:       types.AuditCommitmentRecorded,
			Timestamp:  time.Now(),
			SessionID:  session.ID,
			Commitment: util.Random32(),
			BlockRef:   uint64(i + 1),
		})
		c.Assert(err, qt.IsNil)
		c.Assert(seq, qt.Equals, uint64(i))
	}

	entries, err := stg.AuditEntries(session.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(entries, qt.HasLen, 5)
	for i, e := range entries {
		c.Assert(e.Seq, qt.Equals, uint64(i))
	}

	// Malformed entries are rejected before touching the log.
	_, err = stg.AppendAuditEntry(&types.AuditEntry{
		Kind:      types.AuditRevealRecorded,
		Timestamp: time.Now(),
		SessionID: session.ID,
	})
	c.Assert(err, qt.ErrorIs, types.ErrInvalidInput)

	n, err := stg.CountAuditEntries(session.ID, types.AuditCommitmentRecorded)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 5)
	n, err = stg.CountAuditEntries(session.ID, "")
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 5)
}
