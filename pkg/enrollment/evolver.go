// Package enrollment - The reconciliation algorithm.
//
// Evolve diffs the previously applied catalog against the incoming one and
// computes the next record set. The pass is deterministic: experiments are
// visited in slug order, with experiments that already hold a live enrollment
// visited first so that an existing enrollment always wins a feature conflict
// against a newcomer (first-applied-wins).
//
// Failure isolation is a hard requirement here: a targeting expression that
// fails to evaluate marks only its own experiment as non-matching and is
// reported as an issue; every other experiment still evolves.
package enrollment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/skuld/pkg/bucketing"
	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/jexl"
)

// Common errors
var (
	// ErrInterrupted reports cooperative cancellation between experiments.
	ErrInterrupted = errors.New("interrupted")

	// ErrNoSuchExperiment reports an opt-in/opt-out against an unknown slug.
	ErrNoSuchExperiment = errors.New("no such experiment")

	// ErrNoSuchBranch reports an opt-in against an unknown branch.
	ErrNoSuchBranch = errors.New("no such branch")
)

// EvalIssue reports a targeting expression that failed to evaluate. The
// experiment was treated as non-matching (fail closed); the issue exists so
// callers can log and report the failure distinctly from a clean false.
type EvalIssue struct {
	Slug       catalog.Slug
	Expression string
	Err        error
}

// Result is the outcome of one Evolve pass.
type Result struct {
	// Records is the complete next record set, replacing the previous one.
	Records map[catalog.Slug]Record

	// Events lists every kind-changing transition, in slug visit order.
	Events []ChangeEvent

	// Issues lists targeting expressions that failed to evaluate.
	Issues []EvalIssue
}

// Evolver computes enrollment decisions for one client.
type Evolver struct {
	// RandomizationID feeds the bucketing hash for the client_id unit.
	RandomizationID string

	// Coenrolling is the set of features that accept overrides from more
	// than one simultaneously enrolled experiment.
	Coenrolling map[catalog.FeatureID]bool

	// Targeting is the base evaluation context. Per-experiment values
	// (experiment, is_already_enrolled) are layered on top per evaluation.
	Targeting *jexl.Context

	// NewEnrollmentID mints enrollment identifiers. Defaults to UUIDv4.
	NewEnrollmentID func() string

	// Now is the clock used to stamp status transitions. Defaults to
	// time.Now.
	Now func() time.Time
}

func (e *Evolver) newEnrollmentID() string {
	if e.NewEnrollmentID != nil {
		return e.NewEnrollmentID()
	}
	return uuid.NewString()
}

func (e *Evolver) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Evolve computes the next record set for the incoming catalog.
//
// The pass works on copies: the records argument is never mutated, so a
// caller whose commit fails keeps serving the previous snapshot unchanged.
// ctx is checked between experiments; cancellation surfaces as
// ErrInterrupted with no partial result.
func (e *Evolver) Evolve(ctx context.Context, participating bool, prev, next *catalog.Catalog, records map[catalog.Slug]Record) (*Result, error) {
	if prev == nil {
		prev = catalog.Empty()
	}
	if next == nil {
		next = catalog.Empty()
	}

	res := &Result{Records: make(map[catalog.Slug]Record, len(next.Experiments))}
	claims := newFeatureClaims(e.Coenrolling)

	// Live enrollments claim their features before anything else so a
	// newcomer can never steal a feature from an existing enrollment.
	var actives, fresh []*catalog.Experiment
	for i := range next.Experiments {
		exp := &next.Experiments[i]
		if rec, ok := records[exp.Slug]; ok && rec.Active() {
			actives = append(actives, exp)
		} else {
			fresh = append(fresh, exp)
		}
	}

	for _, pass := range [][]*catalog.Experiment{actives, fresh} {
		for _, exp := range pass {
			if ctx.Err() != nil {
				return nil, ErrInterrupted
			}
			prevRec, has := records[exp.Slug]
			res.Records[exp.Slug] = e.evolveOne(participating, exp, prevRec, has, claims, res)
		}
	}

	e.unenrollAbsent(next, records, res)
	return res, nil
}

// evolveOne computes the next record for a single experiment present in the
// incoming catalog.
func (e *Evolver) evolveOne(participating bool, exp *catalog.Experiment, prev Record, has bool, claims *featureClaims, res *Result) Record {
	if has && prev.Active() {
		return e.evolveEnrolled(participating, exp, prev, claims, res)
	}

	rec := Record{Slug: exp.Slug}
	if has {
		rec = prev
	}

	// A standing disqualification only lifts when it came from a global
	// opt-out that has since been reversed.
	if has && prev.Status.Kind == StatusDisqualified {
		if !participating || prev.Status.Reason != ReasonGlobalOptOut {
			return prev
		}
	}

	status, event := e.attemptEnrollment(participating, exp, claims, res)
	rec.Status = status
	if status.Kind == StatusEnrolled {
		rec.EnrollmentID = e.newEnrollmentID()
	}
	if event != nil {
		event.EnrollmentID = rec.EnrollmentID
		res.Events = append(res.Events, *event)
	}
	return rec
}

// attemptEnrollment runs the decision procedure of a fresh enrollment:
// participation, pause, targeting, bucketing, feature conflict, branch
// selection.
func (e *Evolver) attemptEnrollment(participating bool, exp *catalog.Experiment, claims *featureClaims, res *Result) (Status, *ChangeEvent) {
	now := e.now()

	if !participating {
		return Status{Kind: StatusNotEnrolled, Reason: ReasonGlobalOptOut, When: now}, nil
	}
	if exp.IsEnrollmentPaused {
		return Status{Kind: StatusNotEnrolled, Reason: ReasonEnrollmentsPaused, When: now}, nil
	}

	match, err := e.matchTargeting(exp, false)
	if err != nil {
		res.Issues = append(res.Issues, EvalIssue{Slug: exp.Slug, Expression: exp.Targeting, Err: err})
		return Status{Kind: StatusNotEnrolled, Reason: ReasonError, When: now},
			&ChangeEvent{Slug: exp.Slug, Change: ChangeEnrollFailed, Reason: ReasonError}
	}
	if !match {
		return Status{Kind: StatusNotEnrolled, Reason: ReasonNotTargeted, When: now}, nil
	}

	if !bucketing.Eligible(e.RandomizationID, exp.Slug, exp.BucketConfig) {
		return Status{Kind: StatusNotEnrolled, Reason: ReasonNotSelected, When: now}, nil
	}

	if _, ok := claims.conflict(exp); ok {
		return Status{Kind: StatusNotEnrolled, Reason: ReasonFeatureConflict, When: now},
			&ChangeEvent{Slug: exp.Slug, Change: ChangeEnrollFailed, Reason: ReasonFeatureConflict}
	}

	branch, err := bucketing.SelectBranch(e.RandomizationID, exp.Slug, exp.Branches)
	if err != nil {
		return Status{Kind: StatusNotEnrolled, Reason: ReasonError, When: now},
			&ChangeEvent{Slug: exp.Slug, Change: ChangeEnrollFailed, Reason: ReasonError}
	}

	claims.claim(exp)
	return Status{Kind: StatusEnrolled, Branch: branch.Slug, Reason: ReasonQualified, When: now},
		&ChangeEvent{Slug: exp.Slug, Branch: branch.Slug, Change: ChangeEnrollment, Reason: ReasonQualified}
}

// evolveEnrolled refreshes a live enrollment against the incoming
// descriptor. Staying enrolled is a same-state refresh and emits nothing;
// leaving emits a Disqualification.
func (e *Evolver) evolveEnrolled(participating bool, exp *catalog.Experiment, prev Record, claims *featureClaims, res *Result) Record {
	now := e.now()
	disqualify := func(reason string) Record {
		rec := prev
		rec.Status = Status{Kind: StatusDisqualified, Branch: prev.Status.Branch, Reason: reason, When: now}
		res.Events = append(res.Events, ChangeEvent{
			Slug:         exp.Slug,
			Branch:       prev.Status.Branch,
			EnrollmentID: prev.EnrollmentID,
			Change:       ChangeDisqualification,
			Reason:       reason,
		})
		return rec
	}

	if !participating {
		return disqualify(ReasonGlobalOptOut)
	}
	if exp.Branch(prev.Status.Branch) == nil {
		return disqualify(ReasonBranchRemoved)
	}

	// Opted-in enrollments bypass targeting entirely.
	if prev.Status.Reason != ReasonOptIn {
		match, err := e.matchTargeting(exp, true)
		if err != nil {
			res.Issues = append(res.Issues, EvalIssue{Slug: exp.Slug, Expression: exp.Targeting, Err: err})
			return disqualify(ReasonError)
		}
		if !match {
			return disqualify(ReasonNotTargeted)
		}
	}

	// Still enrolled. Bucketing is deliberately not re-evaluated: a bucket
	// config change must not evict clients already enrolled.
	claims.claim(exp)
	return prev
}

// unenrollAbsent handles experiments that were in the previous record set
// but are absent from the incoming catalog.
func (e *Evolver) unenrollAbsent(next *catalog.Catalog, records map[catalog.Slug]Record, res *Result) {
	now := e.now()
	for _, slug := range sortedSlugs(records) {
		if _, still := next.Get(slug); still {
			continue
		}
		rec := records[slug]
		switch rec.Status.Kind {
		case StatusEnrolled:
			res.Events = append(res.Events, ChangeEvent{
				Slug:         slug,
				Branch:       rec.Status.Branch,
				EnrollmentID: rec.EnrollmentID,
				Change:       ChangeUnenrollment,
				Reason:       ReasonExperimentEnded,
			})
			rec.Status = Status{Kind: StatusWasEnrolled, Branch: rec.Status.Branch, Reason: ReasonExperimentEnded, When: now}
			res.Records[slug] = rec
		case StatusDisqualified:
			rec.Status = Status{Kind: StatusWasEnrolled, Branch: rec.Status.Branch, Reason: rec.Status.Reason, When: now}
			res.Records[slug] = rec
		default:
			// Terminal records for vanished experiments are garbage
			// collected: nothing to resume, nothing to report.
		}
	}
}

// matchTargeting evaluates the experiment's predicate. The empty expression
// always matches.
func (e *Evolver) matchTargeting(exp *catalog.Experiment, alreadyEnrolled bool) (bool, error) {
	if exp.Targeting == "" {
		return true, nil
	}
	base := e.Targeting
	if base == nil {
		base = &jexl.Context{}
	}
	ctx := *base
	extra := make(map[string]any, len(base.Extra)+2)
	for k, v := range base.Extra {
		extra[k] = v
	}
	extra["experiment"] = string(exp.Slug)
	extra["is_already_enrolled"] = alreadyEnrolled
	ctx.Extra = extra
	if ctx.RandomizationID == "" {
		ctx.RandomizationID = e.RandomizationID
	}
	return jexl.Evaluate(exp.Targeting, &ctx)
}

// featureClaims tracks which experiment holds each feature during a pass.
// Experiments conflict only with experiments and rollouts only with
// rollouts: a feature may carry one of each at the same time, with the
// resolver layering the experiment override on top of the rollout.
// Coenrolling features never conflict.
type featureClaims struct {
	coenrolling map[catalog.FeatureID]bool
	experiment  map[catalog.FeatureID]catalog.Slug
	rollout     map[catalog.FeatureID]catalog.Slug
}

func newFeatureClaims(coenrolling map[catalog.FeatureID]bool) *featureClaims {
	return &featureClaims{
		coenrolling: coenrolling,
		experiment:  make(map[catalog.FeatureID]catalog.Slug),
		rollout:     make(map[catalog.FeatureID]catalog.Slug),
	}
}

func (c *featureClaims) table(isRollout bool) map[catalog.FeatureID]catalog.Slug {
	if isRollout {
		return c.rollout
	}
	return c.experiment
}

func (c *featureClaims) conflict(exp *catalog.Experiment) (catalog.Slug, bool) {
	table := c.table(exp.IsRollout)
	for _, feature := range exp.FeatureIDs {
		if c.coenrolling[feature] {
			continue
		}
		if holder, taken := table[feature]; taken && holder != exp.Slug {
			return holder, true
		}
	}
	return "", false
}

func (c *featureClaims) claim(exp *catalog.Experiment) {
	table := c.table(exp.IsRollout)
	for _, feature := range exp.FeatureIDs {
		if c.coenrolling[feature] {
			continue
		}
		if _, taken := table[feature]; !taken {
			table[feature] = exp.Slug
		}
	}
}
