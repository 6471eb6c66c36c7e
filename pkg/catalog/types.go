// Package catalog defines the experiment catalog data model for Skuld.
//
// A catalog is the server-delivered list of experiment descriptors that the
// enrollment engine evaluates against a client. Descriptors are immutable once
// fetched and identified by slug, which is unique within a catalog snapshot.
//
// Design Principles:
//   - Descriptors are plain data; all decision logic lives in pkg/enrollment
//   - Experiments and rollouts share one type (IsRollout flag), not a hierarchy
//   - Parsing is lenient per descriptor: one malformed entry never rejects the
//     rest of the catalog
//
// Example Usage:
//
//	cat, errs := catalog.Parse(payload)
//	for _, err := range errs {
//		log.Printf("[catalog] skipped descriptor: %v", err)
//	}
//	exp, ok := cat.Get("pocket-newtab")
//	if ok {
//		fmt.Println(exp.UserFacingName)
//	}
package catalog

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrInvalidExperimentFormat = errors.New("invalid experiment format")
	ErrInvalidCatalogFormat    = errors.New("invalid catalog format")
)

// Slug is a strongly-typed unique identifier for experiments and branches.
//
// Using a custom type provides:
//   - Type safety (can't accidentally use a feature id where a slug is expected)
//   - Clear API semantics
//
// Example:
//
//	slug := catalog.Slug("about-welcome-dismiss-button")
//	exp, ok := cat.Get(slug)
type Slug string

// FeatureID identifies a remotely configurable feature surface in the host
// application, e.g. "newtab" or "onboarding".
type FeatureID string

// RandomizationUnit selects which client identifier feeds the bucketing hash.
type RandomizationUnit string

const (
	// RandomizationClientID buckets on the per-install client id. This is the
	// default unit and survives until the profile is deleted or the telemetry
	// identifiers are reset.
	RandomizationClientID RandomizationUnit = "client_id"

	// RandomizationUserID buckets on an account-scoped user id so that the
	// same user lands in the same branch across devices.
	RandomizationUserID RandomizationUnit = "user_id"
)

// BucketConfig defines the eligible slice of the bucket space for an
// experiment.
//
// Every client hashes to a stable point in [0, Total). The client is eligible
// when the point falls inside [Start, Start+Count) modulo Total, which allows
// wraparound configurations such as Start=9500, Count=1000, Total=10000.
type BucketConfig struct {
	RandomizationUnit RandomizationUnit `json:"randomizationUnit"`
	Namespace         string            `json:"namespace"`
	Start             int               `json:"start"`
	Count             int               `json:"count"`
	Total             int               `json:"total"`
}

// Branch is one arm of an experiment.
//
// Ratios across the branches of one experiment define relative allocation
// weight. They need not sum to any fixed total: branches with ratios 1 and 3
// allocate 25% and 75% of enrolled clients.
type Branch struct {
	Slug  Slug `json:"slug"`
	Ratio int  `json:"ratio"`

	// Features carries the per-branch feature configuration overrides.
	Features []FeatureConfig `json:"features,omitempty"`
}

// FeatureConfig is a branch's configuration override for one feature.
// Value is the raw variable map merged over feature defaults by the resolver.
type FeatureConfig struct {
	FeatureID FeatureID      `json:"featureId"`
	Value     map[string]any `json:"value,omitempty"`
}

// Experiment is one descriptor in the catalog. Rollouts use the same shape
// with IsRollout set and exactly one branch.
type Experiment struct {
	Slug     Slug   `json:"slug"`
	AppName  string `json:"appName,omitempty"`
	AppID    string `json:"appId,omitempty"`
	Channel  string `json:"channel,omitempty"`

	UserFacingName        string `json:"userFacingName,omitempty"`
	UserFacingDescription string `json:"userFacingDescription,omitempty"`

	IsEnrollmentPaused bool `json:"isEnrollmentPaused"`
	IsRollout          bool `json:"isRollout,omitempty"`

	BucketConfig BucketConfig `json:"bucketConfig"`
	Branches     []Branch     `json:"branches"`

	// FeatureIDs lists every feature any branch of this experiment touches.
	FeatureIDs []FeatureID `json:"featureIds"`

	// Targeting is the JEXL predicate gating eligibility. Empty means
	// always-on.
	Targeting string `json:"targeting,omitempty"`

	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`

	// ProposedDuration and ProposedEnrollment are advisory day counts used by
	// telemetry and tooling, not by the enrollment decision itself.
	ProposedDuration   int `json:"proposedDuration,omitempty"`
	ProposedEnrollment int `json:"proposedEnrollment,omitempty"`
}

// Branch returns the branch with the given slug, or nil when absent.
func (e *Experiment) Branch(slug Slug) *Branch {
	for i := range e.Branches {
		if e.Branches[i].Slug == slug {
			return &e.Branches[i]
		}
	}
	return nil
}

// FeatureConfig returns the configuration the given branch carries for a
// feature, or nil when the branch does not configure it.
func (b *Branch) FeatureConfig(id FeatureID) *FeatureConfig {
	for i := range b.Features {
		if b.Features[i].FeatureID == id {
			return &b.Features[i]
		}
	}
	return nil
}

// HasFeature reports whether the experiment touches the given feature.
func (e *Experiment) HasFeature(id FeatureID) bool {
	for _, f := range e.FeatureIDs {
		if f == id {
			return true
		}
	}
	return false
}
