// Package enrollment - Manual opt-in and opt-out.
//
// Opt-in forces enrollment in a named branch, bypassing targeting and
// bucketing. It exists for QA and for user-facing "try this experiment"
// surfaces. An opted-in enrollment is marked with ReasonOptIn and survives
// re-apply until the client opts out or the experiment leaves the catalog.
package enrollment

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/skuld/pkg/catalog"
)

// OptIn returns the forced-enrollment record for the given experiment and
// branch, plus the change event to report. The records map is not mutated.
func OptIn(cat *catalog.Catalog, slug, branch catalog.Slug, now time.Time) (Record, ChangeEvent, error) {
	exp, ok := cat.Get(slug)
	if !ok {
		return Record{}, ChangeEvent{}, fmt.Errorf("%w: %q", ErrNoSuchExperiment, slug)
	}
	if exp.Branch(branch) == nil {
		return Record{}, ChangeEvent{}, fmt.Errorf("%w: %q in %q", ErrNoSuchBranch, branch, slug)
	}
	rec := Record{
		Slug:         slug,
		EnrollmentID: uuid.NewString(),
		Status:       Status{Kind: StatusEnrolled, Branch: branch, Reason: ReasonOptIn, When: now},
	}
	event := ChangeEvent{
		Slug:         slug,
		Branch:       branch,
		EnrollmentID: rec.EnrollmentID,
		Change:       ChangeEnrollment,
		Reason:       ReasonOptIn,
	}
	return rec, event, nil
}

// OptOut returns the record and event for leaving the given experiment. The
// record must exist and be a live enrollment; anything else fails with
// ErrNoSuchExperiment and an UnenrollFailed event the caller may report.
func OptOut(records map[catalog.Slug]Record, slug catalog.Slug, now time.Time) (Record, ChangeEvent, error) {
	rec, ok := records[slug]
	if !ok || !rec.Active() {
		event := ChangeEvent{Slug: slug, Change: ChangeUnenrollFailed, Reason: ReasonError}
		return Record{}, event, fmt.Errorf("%w: %q", ErrNoSuchExperiment, slug)
	}
	out := rec
	out.Status = Status{Kind: StatusDisqualified, Branch: rec.Status.Branch, Reason: ReasonOptOut, When: now}
	event := ChangeEvent{
		Slug:         slug,
		Branch:       rec.Status.Branch,
		EnrollmentID: rec.EnrollmentID,
		Change:       ChangeUnenrollment,
		Reason:       ReasonOptOut,
	}
	return out, event, nil
}

func sortedSlugs(records map[catalog.Slug]Record) []catalog.Slug {
	slugs := make([]catalog.Slug, 0, len(records))
	for slug := range records {
		slugs = append(slugs, slug)
	}
	sort.Slice(slugs, func(i, j int) bool { return slugs[i] < slugs[j] })
	return slugs
}
