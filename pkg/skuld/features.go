// Package skuld - Feature resolver.
//
// Resolution order for one feature:
//
//   - Coenrolling feature: rollout configs first, then every enrolled
//     experiment's override merged on top, in slug order
//   - Otherwise: a live experiment enrollment fully replaces any rollout
//     config; with no experiment, the rollout config applies alone
//
// Merging is shallow: later keys overwrite earlier keys wholesale.
package skuld

import (
	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/telemetry"
)

// GetFeatureConfigVariables returns the merged configuration for a feature,
// or nil when no live enrollment configures it.
func (c *Client) GetFeatureConfigVariables(featureID catalog.FeatureID) map[string]any {
	snap := c.snap.Load()
	slot, ok := snap.features[featureID]
	if !ok {
		return nil
	}

	if c.coenrolling[featureID] {
		var merged map[string]any
		for _, ef := range slot.rollouts {
			merged = mergeConfig(merged, ef.config)
		}
		for _, ef := range slot.experiments {
			merged = mergeConfig(merged, ef.config)
		}
		return merged
	}

	if len(slot.experiments) > 0 {
		return mergeConfig(nil, slot.experiments[0].config)
	}
	if len(slot.rollouts) > 0 {
		return mergeConfig(nil, slot.rollouts[0].config)
	}
	return nil
}

func mergeConfig(base, overlay map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any, len(overlay))
	}
	for k, v := range overlay {
		base[k] = v
	}
	return base
}

// RecordFeatureExposure reports that the feature's configuration was shown
// to the user. The signal is suppressed unless a live non-rollout
// enrollment covers the feature, so rollout-only features never generate
// exposure noise.
func (c *Client) RecordFeatureExposure(featureID catalog.FeatureID) {
	snap := c.snap.Load()
	slot, ok := snap.features[featureID]
	if !ok || len(slot.experiments) == 0 {
		return
	}
	for _, ef := range slot.experiments {
		c.sink.RecordFeatureExposure(telemetry.FeatureRecord{
			FeatureID:      featureID,
			ExperimentSlug: ef.slug,
			Branch:         ef.branch,
		})
	}
}

// RecordFeatureActivation reports that the feature surface was activated.
// Unlike exposure it fires regardless of enrollment, carrying the covering
// enrollment when one exists.
func (c *Client) RecordFeatureActivation(featureID catalog.FeatureID) {
	rec := telemetry.FeatureRecord{FeatureID: featureID}
	if slug, branch, ok := c.coveringEnrollment(featureID); ok {
		rec.ExperimentSlug = slug
		rec.Branch = branch
	}
	c.sink.RecordFeatureActivation(rec)
}

// RecordMalformedFeatureConfig reports configuration the host could not
// use. part optionally names the offending variable.
func (c *Client) RecordMalformedFeatureConfig(featureID catalog.FeatureID, part string) {
	rec := telemetry.FeatureRecord{FeatureID: featureID, Part: part}
	if slug, branch, ok := c.coveringEnrollment(featureID); ok {
		rec.ExperimentSlug = slug
		rec.Branch = branch
	}
	c.sink.RecordMalformedConfig(rec)
}

func (c *Client) coveringEnrollment(featureID catalog.FeatureID) (catalog.Slug, catalog.Slug, bool) {
	snap := c.snap.Load()
	slot, ok := snap.features[featureID]
	if !ok {
		return "", "", false
	}
	if len(slot.experiments) > 0 {
		return slot.experiments[0].slug, slot.experiments[0].branch, true
	}
	if len(slot.rollouts) > 0 {
		return slot.rollouts[0].slug, slot.rollouts[0].branch, true
	}
	return "", "", false
}
