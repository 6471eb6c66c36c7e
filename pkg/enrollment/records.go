// Package enrollment implements the per-experiment enrollment lifecycle and
// the reconciliation algorithm that diffs catalog snapshots.
//
// Each experiment slug ever seen owns exactly one Record. Records move
// through a small state machine:
//
//	(none) -> Enrolled | NotEnrolled
//	Enrolled -> Disqualified | WasEnrolled
//	Disqualified -> WasEnrolled | Enrolled (only when a global opt-out lifts)
//	NotEnrolled -> Enrolled | NotEnrolled | (deleted)
//	WasEnrolled -> (deleted)
//
// Transitions are computed by the Evolver against a copy of prior state; the
// caller commits the result atomically, so readers never observe a partially
// evolved record set.
package enrollment

import (
	"time"

	"github.com/orneryd/skuld/pkg/catalog"
)

// StatusKind is the coarse lifecycle state of a record.
type StatusKind string

const (
	// StatusEnrolled means the client participates in the experiment under
	// Status.Branch.
	StatusEnrolled StatusKind = "Enrolled"

	// StatusNotEnrolled means the client was considered and rejected;
	// Status.Reason says why.
	StatusNotEnrolled StatusKind = "NotEnrolled"

	// StatusDisqualified means the client was enrolled and has since been
	// removed (targeting mismatch, opt-out). The branch is retained for
	// telemetry continuity.
	StatusDisqualified StatusKind = "Disqualified"

	// StatusWasEnrolled is the tombstone for an enrollment whose experiment
	// left the catalog. The branch is retained for telemetry continuity.
	StatusWasEnrolled StatusKind = "WasEnrolled"
)

// Enrollment and unenrollment reasons, recorded on statuses and change
// events.
const (
	ReasonQualified         = "qualified"
	ReasonOptIn             = "opt_in"
	ReasonOptOut            = "opt_out"
	ReasonGlobalOptOut      = "global_opt_out"
	ReasonNotTargeted       = "not_targeted"
	ReasonNotSelected       = "not_selected"
	ReasonEnrollmentsPaused = "enrollments_paused"
	ReasonFeatureConflict   = "feature_conflict"
	ReasonExperimentEnded   = "experiment_ended"
	ReasonBranchRemoved     = "branch_removed"
	ReasonError             = "error"
)

// Status is the tagged lifecycle state of one record. Branch is set for
// Enrolled, Disqualified, and WasEnrolled; When is set when the status was
// entered.
type Status struct {
	Kind   StatusKind   `json:"kind"`
	Branch catalog.Slug `json:"branch,omitempty"`
	Reason string       `json:"reason,omitempty"`
	When   time.Time    `json:"when,omitempty"`
}

// Record is the persisted enrollment state for one experiment slug.
type Record struct {
	Slug catalog.Slug `json:"slug"`

	// EnrollmentID is a fresh identifier minted at enrollment time, carried
	// on telemetry so analyses can join exposure events to enrollments. It
	// survives disqualification and the WasEnrolled tombstone.
	EnrollmentID string `json:"enrollment_id,omitempty"`

	Status Status `json:"status"`
}

// Active reports whether the record is a live enrollment.
func (r *Record) Active() bool {
	return r.Status.Kind == StatusEnrolled
}

// Terminal reports whether the record can be garbage collected once its
// experiment is gone from every catalog snapshot.
func (r *Record) Terminal() bool {
	return r.Status.Kind == StatusNotEnrolled || r.Status.Kind == StatusWasEnrolled
}
