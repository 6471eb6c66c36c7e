// Package skuld - Non-blocking read surface.
//
// Every getter here serves from the last committed snapshot and never blocks
// on an in-flight apply. Before Initialize has loaded persisted state the
// getters return empty results.
package skuld

import (
	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/enrollment"
)

// EnrolledExperiment describes one live enrollment.
type EnrolledExperiment struct {
	Slug                  catalog.Slug
	Branch                catalog.Slug
	EnrollmentID          string
	FeatureIDs            []catalog.FeatureID
	UserFacingName        string
	UserFacingDescription string
}

// AvailableExperiment describes one experiment in the applied catalog,
// whether or not the client is enrolled. Used by opt-in UIs.
type AvailableExperiment struct {
	Slug                  catalog.Slug
	Branches              []catalog.Slug
	IsRollout             bool
	UserFacingName        string
	UserFacingDescription string
}

// GetExperimentBranch returns the branch the client is enrolled in for the
// given experiment, or false when there is no live enrollment.
func (c *Client) GetExperimentBranch(slug catalog.Slug) (catalog.Slug, bool) {
	snap := c.snap.Load()
	rec, ok := snap.records[slug]
	if !ok || !rec.Active() {
		return "", false
	}
	return rec.Status.Branch, true
}

// GetActiveExperiments lists every live enrollment, in slug order.
func (c *Client) GetActiveExperiments() []EnrolledExperiment {
	snap := c.snap.Load()
	var out []EnrolledExperiment
	for _, slug := range sortedRecordSlugs(snap.records) {
		rec := snap.records[slug]
		if !rec.Active() {
			continue
		}
		entry := EnrolledExperiment{
			Slug:         slug,
			Branch:       rec.Status.Branch,
			EnrollmentID: rec.EnrollmentID,
		}
		if exp, ok := snap.applied.Get(slug); ok {
			entry.FeatureIDs = exp.FeatureIDs
			entry.UserFacingName = exp.UserFacingName
			entry.UserFacingDescription = exp.UserFacingDescription
		}
		out = append(out, entry)
	}
	return out
}

// GetAvailableExperiments lists every experiment in the applied catalog.
func (c *Client) GetAvailableExperiments() []AvailableExperiment {
	snap := c.snap.Load()
	out := make([]AvailableExperiment, 0, len(snap.applied.Experiments))
	for i := range snap.applied.Experiments {
		exp := &snap.applied.Experiments[i]
		branches := make([]catalog.Slug, len(exp.Branches))
		for j := range exp.Branches {
			branches[j] = exp.Branches[j].Slug
		}
		out = append(out, AvailableExperiment{
			Slug:                  exp.Slug,
			Branches:              branches,
			IsRollout:             exp.IsRollout,
			UserFacingName:        exp.UserFacingName,
			UserFacingDescription: exp.UserFacingDescription,
		})
	}
	return out
}

// GetEnrollmentRecord returns the full lifecycle record for a slug,
// including disqualifications and tombstones.
func (c *Client) GetEnrollmentRecord(slug catalog.Slug) (enrollment.Record, bool) {
	snap := c.snap.Load()
	rec, ok := snap.records[slug]
	return rec, ok
}
