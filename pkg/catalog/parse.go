// Package catalog - Lenient catalog parsing.
//
// Parsing follows the partial-failure isolation rule: the payload is split
// into raw descriptors first, then each descriptor is decoded and validated
// on its own. A descriptor that fails to decode or validate is skipped and
// reported; the remainder of the catalog still loads.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Catalog is an ordered, validated snapshot of experiment descriptors.
// Experiments are kept sorted by slug so that enrollment evolution iterates
// in a deterministic order.
type Catalog struct {
	Experiments []Experiment `json:"experiments"`
}

// Parse decodes a JSON array of experiment descriptors.
//
// Malformed descriptors are skipped, each contributing one error wrapping
// ErrInvalidExperimentFormat. A payload that is not a JSON array at all fails
// with ErrInvalidCatalogFormat and a nil catalog.
//
// Example:
//
//	cat, errs := catalog.Parse([]byte(`[{"slug": "exp-a", ...}]`))
//	for _, err := range errs {
//		log.Printf("[catalog] %v", err)
//	}
func Parse(data []byte) (*Catalog, []error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Some servers wrap the array in {"data": [...]}.
		var wrapper struct {
			Data []json.RawMessage `json:"data"`
		}
		if err2 := json.Unmarshal(data, &wrapper); err2 != nil || wrapper.Data == nil {
			return nil, []error{fmt.Errorf("%w: %v", ErrInvalidCatalogFormat, err)}
		}
		raw = wrapper.Data
	}

	var errs []error
	cat := &Catalog{Experiments: make([]Experiment, 0, len(raw))}
	for i, msg := range raw {
		var exp Experiment
		if err := json.Unmarshal(msg, &exp); err != nil {
			errs = append(errs, fmt.Errorf("%w: descriptor %d: %v", ErrInvalidExperimentFormat, i, err))
			continue
		}
		if err := exp.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: descriptor %d (%q): %v", ErrInvalidExperimentFormat, i, exp.Slug, err))
			continue
		}
		cat.Experiments = append(cat.Experiments, exp)
	}
	cat.sort()
	return cat, errs
}

// New builds a catalog from already-decoded experiments, validating each and
// skipping invalid ones the same way Parse does.
func New(experiments []Experiment) (*Catalog, []error) {
	var errs []error
	cat := &Catalog{Experiments: make([]Experiment, 0, len(experiments))}
	for _, exp := range experiments {
		if err := exp.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q: %v", ErrInvalidExperimentFormat, exp.Slug, err))
			continue
		}
		cat.Experiments = append(cat.Experiments, exp)
	}
	cat.sort()
	return cat, errs
}

// Empty returns a catalog with no experiments.
func Empty() *Catalog {
	return &Catalog{}
}

func (c *Catalog) sort() {
	sort.Slice(c.Experiments, func(i, j int) bool {
		return c.Experiments[i].Slug < c.Experiments[j].Slug
	})
}

// Get returns the experiment with the given slug.
func (c *Catalog) Get(slug Slug) (*Experiment, bool) {
	for i := range c.Experiments {
		if c.Experiments[i].Slug == slug {
			return &c.Experiments[i], true
		}
	}
	return nil, false
}

// Slugs returns every experiment slug in sorted order.
func (c *Catalog) Slugs() []Slug {
	slugs := make([]Slug, len(c.Experiments))
	for i := range c.Experiments {
		slugs[i] = c.Experiments[i].Slug
	}
	return slugs
}

// FilterForApp drops descriptors whose appName or channel does not match the
// client. Empty descriptor fields match anything, so catalogs that predate
// app targeting still apply.
func (c *Catalog) FilterForApp(appName, channel string) *Catalog {
	out := &Catalog{}
	for _, exp := range c.Experiments {
		if exp.AppName != "" && appName != "" && exp.AppName != appName {
			continue
		}
		if exp.Channel != "" && channel != "" && exp.Channel != channel {
			continue
		}
		out.Experiments = append(out.Experiments, exp)
	}
	return out
}

// Validate checks structural invariants of a single descriptor.
//
// Rules:
//   - slug must be non-empty
//   - at least one branch, each with a non-empty slug and non-negative ratio
//   - bucket config must have a positive total, non-negative start/count,
//     and count <= total
//   - rollouts must have exactly one branch
func (e *Experiment) Validate() error {
	if e.Slug == "" {
		return fmt.Errorf("empty slug")
	}
	if len(e.Branches) == 0 {
		return fmt.Errorf("no branches")
	}
	if e.IsRollout && len(e.Branches) != 1 {
		return fmt.Errorf("rollout with %d branches", len(e.Branches))
	}
	seen := map[Slug]bool{}
	for _, b := range e.Branches {
		if b.Slug == "" {
			return fmt.Errorf("branch with empty slug")
		}
		if b.Ratio < 0 {
			return fmt.Errorf("branch %q: negative ratio %d", b.Slug, b.Ratio)
		}
		if seen[b.Slug] {
			return fmt.Errorf("duplicate branch slug %q", b.Slug)
		}
		seen[b.Slug] = true
	}
	bc := e.BucketConfig
	if bc.Total <= 0 {
		return fmt.Errorf("bucket config: non-positive total %d", bc.Total)
	}
	if bc.Start < 0 || bc.Count < 0 {
		return fmt.Errorf("bucket config: negative start or count")
	}
	if bc.Count > bc.Total {
		return fmt.Errorf("bucket config: count %d exceeds total %d", bc.Count, bc.Total)
	}
	return nil
}
