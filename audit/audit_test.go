package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/crypto/votehash"
	"github.com/scrutin-io/scrutin-node/eligibility"
	"github.com/scrutin-io/scrutin-node/ledger/memledger"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/types"
	"github.com/scrutin-io/scrutin-node/util"
)

type testEnv struct {
	stg     *storage.Storage
	scheme  *eligibility.MerkleProofScheme
	ledger  *memledger.MemLedger
	acc     *accumulator.DB
	auditor *Auditor
	session types.SessionID
	root    types.HexBytes
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	c := qt.New(t)

	mdb, err := metadb.New(db.TypePebble, t.TempDir())
	c.Assert(err, qt.IsNil)
	stg := storage.New(mdb)
	t.Cleanup(stg.Close)

	censuses := eligibility.NewCensusDB(stg.EligibilityDB())
	censusID := uuid.New()
	_, err = censuses.New(censusID)
	c.Assert(err, qt.IsNil)
	for i := 0; i < 6; i++ {
		c.Assert(censuses.AddVoter(censusID, testVoterID(i)), qt.IsNil)
	}
	root, err := censuses.Root(censusID)
	c.Assert(err, qt.IsNil)

	scheme := eligibility.NewMerkleProofScheme(censuses)
	l := memledger.New(stg, scheme)
	l.PublishEligibilityRoot(root)

	sessionID, err := types.SessionIDFromBytes(util.Random32())
	c.Assert(err, qt.IsNil)
	_, err = l.CreateSession(context.Background(), sessionID, "prop-audit",
		time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	c.Assert(err, qt.IsNil)

	acc := accumulator.NewDB(stg.AccumulatorDB())
	return &testEnv{
		stg:     stg,
		scheme:  scheme,
		ledger:  l,
		acc:     acc,
		auditor: New(l, stg, acc),
		session: sessionID,
		root:    root,
	}
}

func testVoterID(i int) []byte {
	return []byte(fmt.Sprintf("voter-%04d", i))
}

func (env *testEnv) vote(t *testing.T, voter int, choice string, reveal bool) {
	t.Helper()
	c := qt.New(t)
	ctx := context.Background()

	voterID := testVoterID(voter)
	salt, err := votehash.Salt()
	c.Assert(err, qt.IsNil)
	secret, err := votehash.Secret()
	c.Assert(err, qt.IsNil)
	nullifier, err := votehash.Nullifier(voterID, env.session, secret)
	c.Assert(err, qt.IsNil)
	commitment, err := votehash.Commitment(choice, salt, nullifier)
	c.Assert(err, qt.IsNil)

	proof, err := env.scheme.Prove(voterID, env.root, commitment)
	c.Assert(err, qt.IsNil)
	_, err = env.ledger.SubmitCommitment(ctx, env.session, commitment, proof, proof.Key)
	c.Assert(err, qt.IsNil)
	c.Assert(env.acc.Add(env.session, commitment), qt.IsNil)

	if reveal {
		_, err = env.ledger.SubmitReveal(ctx, env.session, choice, salt, nullifier)
		c.Assert(err, qt.IsNil)
	}
}

func (env *testEnv) finalize(t *testing.T) {
	t.Helper()
	c := qt.New(t)
	err := env.stg.UpdateSession(env.session, func(s *types.Session) error {
		s.EndTime = time.Now().Add(-time.Minute)
		s.RevealDeadline = time.Now().Add(-time.Second)
		return nil
	})
	c.Assert(err, qt.IsNil)
	root, err := env.acc.Root(env.session)
	c.Assert(err, qt.IsNil)
	_, err = env.ledger.FinalizeSession(context.Background(), env.session, root)
	c.Assert(err, qt.IsNil)
}

func TestReport(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(t)
	ctx := context.Background()

	env.vote(t, 0, "yes", true)
	env.vote(t, 1, "yes", true)
	env.vote(t, 2, "no", true)
	env.vote(t, 3, "no", false)

	report, err := env.auditor.Report(ctx, env.session)
	c.Assert(err, qt.IsNil)
	c.Assert(report.CommittedCount, qt.Equals, uint64(4))
	c.Assert(report.RevealedCount, qt.Equals, uint64(3))
	c.Assert(report.Tally.Choices["yes"], qt.Equals, uint64(2))
	c.Assert(report.Tally.Choices["no"], qt.Equals, uint64(1))
	c.Assert(report.EntryCounts[types.AuditCommitmentRecorded], qt.Equals, 4)
	c.Assert(report.EntryCounts[types.AuditRevealRecorded], qt.Equals, 3)
	c.Assert(report.EligibilityRoot, qt.DeepEquals, env.root)
	c.Assert(report.Finalized, qt.IsFalse)
}

func TestTimelineOrdering(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(t)
	ctx := context.Background()

	env.vote(t, 0, "yes", true)
	env.vote(t, 1, "no", true)

	timeline, err := env.auditor.Timeline(ctx, env.session)
	c.Assert(err, qt.IsNil)
	c.Assert(timeline[0].Kind, qt.Equals, types.AuditSessionCreated)
	for i := 1; i < len(timeline); i++ {
		sameOrLater := !timeline[i].Timestamp.Before(timeline[i-1].Timestamp)
		c.Assert(sameOrLater, qt.IsTrue)
		if timeline[i].Timestamp.Equal(timeline[i-1].Timestamp) {
			c.Assert(timeline[i].Seq > timeline[i-1].Seq, qt.IsTrue)
		}
	}
}

func TestVerifyIntegrityClean(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(t)
	ctx := context.Background()

	env.vote(t, 0, "yes", true)
	env.vote(t, 1, "no", true)
	env.vote(t, 2, "yes", false)
	env.finalize(t)

	result, err := env.auditor.VerifyIntegrity(ctx, env.session)
	c.Assert(err, qt.IsNil)
	c.Assert(result.OK, qt.IsTrue)
	for _, check := range result.Checks {
		c.Assert(check.OK, qt.IsTrue, qt.Commentf("check %s: %s", check.Name, check.Detail))
	}
}

func TestVerifyIntegrityDetectsExtraLeaf(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(t)
	ctx := context.Background()

	env.vote(t, 0, "yes", true)
	env.finalize(t)

	// A leaf injected into the accumulator after finalization must show
	// up as a size and root mismatch.
	c.Assert(env.acc.Add(env.session, util.Random32()), qt.IsNil)

	result, err := env.auditor.VerifyIntegrity(ctx, env.session)
	c.Assert(err, qt.IsNil)
	c.Assert(result.OK, qt.IsFalse)

	failed := map[string]bool{}
	for _, check := range result.Checks {
		if !check.OK {
			failed[check.Name] = true
		}
	}
	c.Assert(failed["accumulator_size_matches"], qt.IsTrue)
	c.Assert(failed["final_root_matches_accumulator"], qt.IsTrue)
}

func TestExportAndVerifyBundle(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(t)
	ctx := context.Background()

	env.vote(t, 0, "yes", true)
	env.vote(t, 1, "no", true)
	env.finalize(t)

	bundle, err := env.auditor.Export(ctx, env.session)
	c.Assert(err, qt.IsNil)
	c.Assert(bundle.Proofs, qt.HasLen, 2)
	c.Assert(bundle.Session.Finalized, qt.IsTrue)
	c.Assert(VerifyBundle(bundle), qt.IsNil)

	// The bundle survives serialization.
	data, err := storage.EncodeArtifactJSON(bundle)
	c.Assert(err, qt.IsNil)
	decoded := &Bundle{}
	c.Assert(storage.DecodeArtifactJSON(data, decoded), qt.IsNil)
	c.Assert(VerifyBundle(decoded), qt.IsNil)

	// A tampered root is caught offline.
	decoded.AccumulatorRoot = util.Random32()
	c.Assert(VerifyBundle(decoded), qt.ErrorIs, types.ErrIntegrityMismatch)
}
