package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/audit"
	"github.com/scrutin-io/scrutin-node/eligibility"
	"github.com/scrutin-io/scrutin-node/ledger/memledger"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/types"
	"github.com/scrutin-io/scrutin-node/util"
	"github.com/scrutin-io/scrutin-node/votemanager"
)

type testServer struct {
	api *API
	stg *storage.Storage
}

func newTestServer(t *testing.T) *testServer {
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
	for i := 0; i < 4; i++ {
		c.Assert(censuses.AddVoter(censusID, testVoterID(i)), qt.IsNil)
	}
	root, err := censuses.Root(censusID)
	c.Assert(err, qt.IsNil)

	scheme := eligibility.NewMerkleProofScheme(censuses)
	l := memledger.New(stg, scheme)
	l.PublishEligibilityRoot(root)

	acc := accumulator.NewDB(stg.AccumulatorDB())
	votes := votemanager.New(l, scheme, acc, nil, 0)
	auditor := audit.New(l, stg, acc)

	a, err := NewRouterOnly(&APIConfig{
		Ledger:  l,
		Votes:   votes,
		Auditor: auditor,
		Acc:     acc,
		Storage: stg,
	})
	c.Assert(err, qt.IsNil)
	return &testServer{api: a, stg: stg}
}

func testVoterID(i int) []byte {
	return []byte(fmt.Sprintf("voter-%04d", i))
}

// request runs one request against the router and decodes the JSON response
// into out when it is non-nil.
func (ts *testServer) request(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	c := qt.New(t)

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		c.Assert(err, qt.IsNil)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.api.Router().ServeHTTP(rec, req)

	if out != nil && rec.Code == http.StatusOK {
		c.Assert(json.NewDecoder(rec.Body).Decode(out), qt.IsNil)
	}
	return rec.Code
}

func (ts *testServer) createSession(t *testing.T) types.SessionID {
	t.Helper()
	c := qt.New(t)
	raw := util.Random32()
	resp := &NewSessionResponse{}
	code := ts.request(t, http.MethodPost, SessionsEndpoint, &NewSessionRequest{
		SessionID:   raw,
		ProposalRef: "prop-api",
		StartTime:   time.Now().Add(-time.Minute),
		EndTime:     time.Now().Add(time.Hour),
	}, resp)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(resp.BlockRef > 0, qt.IsTrue)
	return resp.SessionID
}

func TestPing(t *testing.T) {
	c := qt.New(t)
	ts := newTestServer(t)
	c.Assert(ts.request(t, http.MethodGet, PingEndpoint, nil, nil), qt.Equals, http.StatusOK)
}

func TestSessionEndpoints(t *testing.T) {
	c := qt.New(t)
	ts := newTestServer(t)

	id := ts.createSession(t)

	session := &types.Session{}
	code := ts.request(t, http.MethodGet, SessionsEndpoint+"/"+id.String(), nil, session)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(session.Status, qt.Equals, types.SessionStatusOpen)

	list := &SessionListResponse{}
	code = ts.request(t, http.MethodGet, SessionsEndpoint, nil, list)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(list.Sessions, qt.HasLen, 1)

	// Duplicate creation conflicts.
	code = ts.request(t, http.MethodPost, SessionsEndpoint, &NewSessionRequest{
		SessionID:   id.Bytes(),
		ProposalRef: "prop-dup",
		StartTime:   time.Now(),
		EndTime:     time.Now().Add(time.Hour),
	}, nil)
	c.Assert(code, qt.Equals, http.StatusConflict)

	// Malformed and unknown session IDs are distinguishable.
	code = ts.request(t, http.MethodGet, SessionsEndpoint+"/0x1234", nil, nil)
	c.Assert(code, qt.Equals, http.StatusBadRequest)
	code = ts.request(t, http.MethodGet, SessionsEndpoint+"/0x"+fmt.Sprintf("%064x", 42), nil, nil)
	c.Assert(code, qt.Equals, http.StatusNotFound)
}

func TestVoteFlow(t *testing.T) {
	c := qt.New(t)
	ts := newTestServer(t)
	id := ts.createSession(t)

	// Prepare.
	prepared := &votemanager.PreparedVote{}
	code := ts.request(t, http.MethodPost, VotePrepareEndpoint, &PrepareVoteRequest{
		SessionID: id.Bytes(),
		VoterID:   testVoterID(0),
		Choice:    "yes",
	}, prepared)
	c.Assert(code, qt.Equals, http.StatusOK)

	// Commit.
	tx := &TxResponse{}
	code = ts.request(t, http.MethodPost, VoteCommitEndpoint, &CommitVoteRequest{
		SessionID:  id.Bytes(),
		Commitment: prepared.Commitment,
	}, tx)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(tx.BlockRef > 0, qt.IsTrue)

	// Membership proof for the recorded commitment.
	proof := &accumulator.Proof{}
	code = ts.request(t, http.MethodGet,
		SessionsEndpoint+"/"+id.String()+"/proofs/"+prepared.Commitment.String(), nil, proof)
	c.Assert(code, qt.Equals, http.StatusOK)

	// Offline verification of that proof against the reported root.
	report := &audit.Report{}
	code = ts.request(t, http.MethodGet, "/audit/"+id.String()+"/report", nil, report)
	c.Assert(code, qt.Equals, http.StatusOK)

	verify := &VerifyProofResponse{}
	code = ts.request(t, http.MethodPost, ProofVerifyEndpoint, &VerifyProofRequest{
		Commitment: prepared.Commitment,
		Root:       report.AccumulatorRoot,
		Index:      proof.Index,
		Siblings:   proof.Siblings,
	}, verify)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(verify.Valid, qt.IsTrue)

	code = ts.request(t, http.MethodPost, ProofVerifyEndpoint, &VerifyProofRequest{
		Commitment: prepared.Commitment,
		Root:       util.Random32(),
		Index:      proof.Index,
		Siblings:   proof.Siblings,
	}, verify)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(verify.Valid, qt.IsFalse)

	// Reveal from node-held material.
	code = ts.request(t, http.MethodPost, VoteRevealEndpoint, &RevealVoteRequest{
		SessionID:  id.Bytes(),
		Commitment: prepared.Commitment,
	}, tx)
	c.Assert(code, qt.Equals, http.StatusOK)

	// Replaying the reveal with full material burns on the nullifier.
	code = ts.request(t, http.MethodPost, VoteRevealEndpoint, &RevealVoteRequest{
		SessionID:  id.Bytes(),
		Commitment: prepared.Commitment,
		Choice:     "yes",
		Salt:       prepared.Salt,
		Nullifier:  prepared.Nullifier,
	}, nil)
	c.Assert(code, qt.Equals, http.StatusConflict)

	session := &types.Session{}
	code = ts.request(t, http.MethodGet, SessionsEndpoint+"/"+id.String(), nil, session)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(session.ChoiceCounts["yes"], qt.Equals, uint64(1))
}

func TestVoteFlowRejections(t *testing.T) {
	c := qt.New(t)
	ts := newTestServer(t)
	id := ts.createSession(t)

	// Voter outside the census.
	code := ts.request(t, http.MethodPost, VotePrepareEndpoint, &PrepareVoteRequest{
		SessionID: id.Bytes(),
		VoterID:   []byte("stranger"),
		Choice:    "yes",
	}, nil)
	c.Assert(code, qt.Equals, http.StatusForbidden)

	// Malformed commitment.
	code = ts.request(t, http.MethodPost, VoteCommitEndpoint, &CommitVoteRequest{
		SessionID:  id.Bytes(),
		Commitment: []byte{1, 2, 3},
	}, nil)
	c.Assert(code, qt.Equals, http.StatusBadRequest)

	// Unknown commitment reveal.
	code = ts.request(t, http.MethodPost, VoteRevealEndpoint, &RevealVoteRequest{
		SessionID:  id.Bytes(),
		Commitment: util.Random32(),
	}, nil)
	c.Assert(code, qt.Equals, http.StatusNotFound)

	// Double commit by the same voter.
	prepared := &votemanager.PreparedVote{}
	code = ts.request(t, http.MethodPost, VotePrepareEndpoint, &PrepareVoteRequest{
		SessionID: id.Bytes(),
		VoterID:   testVoterID(0),
		Choice:    "yes",
	}, prepared)
	c.Assert(code, qt.Equals, http.StatusOK)
	code = ts.request(t, http.MethodPost, VoteCommitEndpoint, &CommitVoteRequest{
		SessionID:  id.Bytes(),
		Commitment: prepared.Commitment,
	}, nil)
	c.Assert(code, qt.Equals, http.StatusOK)

	second := &votemanager.PreparedVote{}
	code = ts.request(t, http.MethodPost, VotePrepareEndpoint, &PrepareVoteRequest{
		SessionID: id.Bytes(),
		VoterID:   testVoterID(0),
		Choice:    "no",
	}, second)
	c.Assert(code, qt.Equals, http.StatusOK)
	code = ts.request(t, http.MethodPost, VoteCommitEndpoint, &CommitVoteRequest{
		SessionID:  id.Bytes(),
		Commitment: second.Commitment,
	}, nil)
	c.Assert(code, qt.Equals, http.StatusConflict)
}

func TestAuditEndpoints(t *testing.T) {
	c := qt.New(t)
	ts := newTestServer(t)
	id := ts.createSession(t)

	prepared := &votemanager.PreparedVote{}
	code := ts.request(t, http.MethodPost, VotePrepareEndpoint, &PrepareVoteRequest{
		SessionID: id.Bytes(),
		VoterID:   testVoterID(0),
		Choice:    "yes",
	}, prepared)
	c.Assert(code, qt.Equals, http.StatusOK)
	code = ts.request(t, http.MethodPost, VoteCommitEndpoint, &CommitVoteRequest{
		SessionID:  id.Bytes(),
		Commitment: prepared.Commitment,
	}, nil)
	c.Assert(code, qt.Equals, http.StatusOK)
	code = ts.request(t, http.MethodPost, VoteRevealEndpoint, &RevealVoteRequest{
		SessionID:  id.Bytes(),
		Commitment: prepared.Commitment,
	}, nil)
	c.Assert(code, qt.Equals, http.StatusOK)

	report := &audit.Report{}
	code = ts.request(t, http.MethodGet, "/audit/"+id.String()+"/report", nil, report)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(report.CommittedCount, qt.Equals, uint64(1))
	c.Assert(report.RevealedCount, qt.Equals, uint64(1))

	var timeline []*types.AuditEntry
	code = ts.request(t, http.MethodGet, "/audit/"+id.String()+"/timeline", nil, &timeline)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(timeline, qt.HasLen, 3)

	integrity := &audit.IntegrityResult{}
	code = ts.request(t, http.MethodGet, "/audit/"+id.String()+"/integrity", nil, integrity)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(integrity.OK, qt.IsTrue)

	bundle := &audit.Bundle{}
	code = ts.request(t, http.MethodGet, "/audit/"+id.String()+"/export", nil, bundle)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(bundle.Proofs, qt.HasLen, 1)
	c.Assert(audit.VerifyBundle(bundle), qt.IsNil)
}
