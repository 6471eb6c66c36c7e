// Package enrollment - Change events emitted by the state machine.
package enrollment

import "github.com/orneryd/skuld/pkg/catalog"

// ChangeKind classifies an enrollment state transition.
type ChangeKind string

const (
	// ChangeEnrollment is a new or resumed enrollment.
	ChangeEnrollment ChangeKind = "enrollment"

	// ChangeEnrollFailed is an enrollment attempt that failed for a
	// reportable reason (feature conflict, branch selection failure,
	// targeting evaluation error). Quiet rejections like not-targeted or
	// not-selected do not produce events.
	ChangeEnrollFailed ChangeKind = "enroll_failed"

	// ChangeDisqualification is a live enrollment forced out while its
	// experiment is still in the catalog.
	ChangeDisqualification ChangeKind = "disqualification"

	// ChangeUnenrollment is an enrollment ending because its experiment
	// left the catalog or the client opted out.
	ChangeUnenrollment ChangeKind = "unenrollment"

	// ChangeUnenrollFailed is an opt-out attempt against an experiment or
	// record that cannot be unenrolled.
	ChangeUnenrollFailed ChangeKind = "unenroll_failed"
)

// ChangeEvent describes one state transition that changed the kind of a
// record's status. Same-state refreshes (an enrolled client staying
// enrolled across an apply) do not emit events.
//
// Events are returned to the caller of apply and forwarded to the metrics
// sink.
type ChangeEvent struct {
	Slug         catalog.Slug `json:"slug"`
	Branch       catalog.Slug `json:"branch,omitempty"`
	EnrollmentID string       `json:"enrollment_id,omitempty"`
	Change       ChangeKind   `json:"change"`
	Reason       string       `json:"reason,omitempty"`
}
