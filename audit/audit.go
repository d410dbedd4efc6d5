// Package audit produces the verification artifacts for a session: summary
// reports, the ordered event timeline, cross-source integrity checks and
// exportable proof bundles. Everything it reads comes from the ledger's
// event log, the session records and the local accumulator; it never writes.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scrutin-io/scrutin-node/accumulator"
	"github.com/scrutin-io/scrutin-node/ledger"
	"github.com/scrutin-io/scrutin-node/log"
	"github.com/scrutin-io/scrutin-node/storage"
	"github.com/scrutin-io/scrutin-node/types"
)

// Auditor answers audit queries for sessions.
type Auditor struct {
	lgr ledger.Ledger
	stg *storage.Storage
	acc *accumulator.DB
}

// New creates an Auditor over the given sources.
func New(lgr ledger.Ledger, stg *storage.Storage, acc *accumulator.DB) *Auditor {
	return &Auditor{lgr: lgr, stg: stg, acc: acc}
}

// Report is the summary view of a session's audit state.
type Report struct {
	SessionID       types.SessionID           `json:"sessionId"`
	Status          string                    `json:"status"`
	ProposalRef     string                    `json:"proposalRef"`
	CommittedCount  uint64                    `json:"committedCount"`
	RevealedCount   uint64                    `json:"revealedCount"`
	Tally           types.Tally               `json:"tally"`
	EligibilityRoot types.HexBytes            `json:"eligibilityRoot"`
	AccumulatorRoot types.HexBytes            `json:"accumulatorRoot"`
	FinalRoot       types.HexBytes            `json:"finalRoot,omitempty"`
	Finalized       bool                      `json:"finalized"`
	EntryCounts     map[types.AuditEntryKind]int `json:"entryCounts"`
	GeneratedAt     time.Time                 `json:"generatedAt"`
}

// Report builds the summary report for a session.
func (a *Auditor) Report(ctx context.Context, id types.SessionID) (*Report, error) {
	session, err := a.lgr.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := a.lgr.AuditEntriesBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	root, err := a.acc.Root(id)
	if err != nil {
		return nil, err
	}

	counts := make(map[types.AuditEntryKind]int)
	for _, e := range entries {
		counts[e.Kind]++
	}
	return &Report{
		SessionID:       id,
		Status:          session.Status.String(),
		ProposalRef:     session.ProposalRef,
		CommittedCount:  session.CommittedCount,
		RevealedCount:   session.RevealedCount,
		Tally:           session.Tally(),
		EligibilityRoot: session.EligibilityRoot,
		AccumulatorRoot: root,
		FinalRoot:       session.FinalRoot,
		Finalized:       session.Finalized,
		EntryCounts:     counts,
		GeneratedAt:     time.Now(),
	}, nil
}

// Timeline returns the session's audit entries ordered by timestamp, with
// the ledger sequence number breaking ties.
func (a *Auditor) Timeline(ctx context.Context, id types.SessionID) ([]*types.AuditEntry, error) {
	entries, err := a.lgr.AuditEntriesBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// IntegrityCheck is the outcome of one cross-source consistency check.
type IntegrityCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// IntegrityResult aggregates all checks for a session. OK is the
// conjunction of every individual check.
type IntegrityResult struct {
	SessionID types.SessionID  `json:"sessionId"`
	OK        bool             `json:"ok"`
	Checks    []IntegrityCheck `json:"checks"`
	CheckedAt time.Time        `json:"checkedAt"`
}

func (r *IntegrityResult) add(name string, ok bool, detail string) {
	if !ok {
		r.OK = false
		log.Warnw("integrity check failed", "session", r.SessionID.String(), "check", name, "detail", detail)
	}
	r.Checks = append(r.Checks, IntegrityCheck{Name: name, OK: ok, Detail: detail})
}

// VerifyIntegrity cross-checks the session counters, the commitment
// records, the audit log and the accumulator against each other. Every
// check runs even after one fails, so the result names all discrepancies.
func (a *Auditor) VerifyIntegrity(ctx context.Context, id types.SessionID) (*IntegrityResult, error) {
	session, err := a.lgr.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := a.lgr.AuditEntriesBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := a.stg.ListCommitments(id)
	if err != nil {
		return nil, err
	}
	tree, err := a.acc.Tree(id)
	if err != nil {
		return nil, err
	}

	result := &IntegrityResult{SessionID: id, OK: true, CheckedAt: time.Now()}

	// Session counters against the stored commitment records.
	var revealed uint64
	for _, rec := range records {
		if rec.Revealed {
			revealed++
		}
	}
	result.add("committed_count_matches_records",
		uint64(len(records)) == session.CommittedCount,
		fmt.Sprintf("records=%d counter=%d", len(records), session.CommittedCount))
	result.add("revealed_count_matches_records",
		revealed == session.RevealedCount,
		fmt.Sprintf("records=%d counter=%d", revealed, session.RevealedCount))
	result.add("revealed_not_above_committed",
		session.RevealedCount <= session.CommittedCount,
		fmt.Sprintf("revealed=%d committed=%d", session.RevealedCount, session.CommittedCount))

	// Tally internal consistency.
	tally := session.Tally()
	result.add("tally_consistent",
		tally.Consistent() && tally.Total == session.RevealedCount,
		fmt.Sprintf("total=%d revealed=%d", tally.Total, session.RevealedCount))

	// Audit log against the counters, and its ordering invariants.
	var commitEntries, revealEntries int
	ordered := true
	for i, e := range entries {
		switch e.Kind {
		case types.AuditCommitmentRecorded:
			commitEntries++
		case types.AuditRevealRecorded:
			revealEntries++
		}
		if i > 0 && (e.Seq <= entries[i-1].Seq || e.BlockRef < entries[i-1].BlockRef) {
			ordered = false
		}
	}
	result.add("audit_log_matches_commitments",
		uint64(commitEntries) == session.CommittedCount,
		fmt.Sprintf("entries=%d counter=%d", commitEntries, session.CommittedCount))
	result.add("audit_log_matches_reveals",
		uint64(revealEntries) == session.RevealedCount,
		fmt.Sprintf("entries=%d counter=%d", revealEntries, session.RevealedCount))
	result.add("audit_log_ordered", ordered, "sequence and block refs must be monotonic")

	// Accumulator against the commitment records.
	result.add("accumulator_size_matches",
		tree.Size() == len(records),
		fmt.Sprintf("accumulator=%d records=%d", tree.Size(), len(records)))
	missing := 0
	for _, rec := range records {
		if !tree.Contains(rec.Commitment) {
			missing++
		}
	}
	result.add("accumulator_contains_commitments", missing == 0,
		fmt.Sprintf("missing=%d", missing))

	// Every revealed nullifier in the log must be marked consumed.
	unspent := 0
	for _, e := range entries {
		if e.Kind != types.AuditRevealRecorded {
			continue
		}
		used, err := a.lgr.IsNullifierUsed(ctx, id, e.Nullifier)
		if err != nil {
			return nil, err
		}
		if !used {
			unspent++
		}
	}
	result.add("revealed_nullifiers_consumed", unspent == 0,
		fmt.Sprintf("unspent=%d", unspent))

	// The frozen root of a finalized session must match the accumulator.
	if session.Finalized {
		result.add("final_root_matches_accumulator",
			tree.Root().Equal(session.FinalRoot),
			fmt.Sprintf("accumulator=%s final=%s", tree.Root(), session.FinalRoot))
	}

	return result, nil
}

// BundleProof pairs a commitment with its accumulator membership proof.
type BundleProof struct {
	Commitment types.HexBytes     `json:"commitment"`
	Revealed   bool               `json:"revealed"`
	Proof      *accumulator.Proof `json:"proof"`
}

// Bundle is a self-contained export of everything needed to re-verify a
// session offline: the session state, the full event log and a membership
// proof for every commitment.
type Bundle struct {
	Session         *types.Session      `json:"session"`
	EligibilityRoot types.HexBytes      `json:"eligibilityRoot"`
	AccumulatorRoot types.HexBytes      `json:"accumulatorRoot"`
	Entries         []*types.AuditEntry `json:"entries"`
	Proofs          []BundleProof       `json:"proofs"`
	ExportedAt      time.Time           `json:"exportedAt"`
}

// Export builds the verification bundle for a session.
func (a *Auditor) Export(ctx context.Context, id types.SessionID) (*Bundle, error) {
	session, err := a.lgr.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := a.Timeline(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := a.stg.ListCommitments(id)
	if err != nil {
		return nil, err
	}
	root, err := a.acc.Root(id)
	if err != nil {
		return nil, err
	}

	// Proof generation is read-only per leaf, so it parallelizes cleanly
	// for large sessions.
	proofs := make([]BundleProof, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			proof, err := a.acc.GenProof(id, rec.Commitment)
			if err != nil {
				return fmt.Errorf("proof for commitment %s: %w", rec.Commitment, err)
			}
			proofs[i] = BundleProof{
				Commitment: rec.Commitment,
				Revealed:   rec.Revealed,
				Proof:      proof,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debugw("audit bundle exported", "session", id.String(), "proofs", len(proofs))
	return &Bundle{
		Session:         session,
		EligibilityRoot: session.EligibilityRoot,
		AccumulatorRoot: root,
		Entries:         entries,
		Proofs:          proofs,
		ExportedAt:      time.Now(),
	}, nil
}

// VerifyBundle re-checks an exported bundle without any node state: every
// included proof must verify against the bundle's accumulator root.
func VerifyBundle(b *Bundle) error {
	if b.Session == nil {
		return fmt.Errorf("%w: bundle without session", types.ErrInvalidInput)
	}
	for _, p := range b.Proofs {
		if !accumulator.VerifyProof(p.Commitment, p.Proof, b.AccumulatorRoot) {
			return fmt.Errorf("%w: proof for commitment %s does not verify",
				types.ErrIntegrityMismatch, p.Commitment)
		}
	}
	if b.Session.Finalized && !b.AccumulatorRoot.Equal(b.Session.FinalRoot) {
		return fmt.Errorf("%w: bundle root does not match the finalized root",
			types.ErrIntegrityMismatch)
	}
	return nil
}
