package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor(slug string) string {
	return `{
		"slug": "` + slug + `",
		"branches": [
			{"slug": "control", "ratio": 1},
			{"slug": "treatment", "ratio": 1, "features": [{"featureId": "newtab", "value": {"enabled": true}}]}
		],
		"bucketConfig": {"randomizationUnit": "client_id", "namespace": "ns", "start": 0, "count": 10000, "total": 10000},
		"featureIds": ["newtab"]
	}`
}

func TestParse(t *testing.T) {
	t.Run("valid catalog", func(t *testing.T) {
		cat, errs := Parse([]byte(`[` + validDescriptor("exp-b") + `,` + validDescriptor("exp-a") + `]`))
		require.Empty(t, errs)
		require.NotNil(t, cat)
		assert.Equal(t, []Slug{"exp-a", "exp-b"}, cat.Slugs(), "experiments sorted by slug")
	})

	t.Run("malformed descriptor is skipped, rest loads", func(t *testing.T) {
		cat, errs := Parse([]byte(`[` + validDescriptor("exp-a") + `, {"slug": 42}, ` + validDescriptor("exp-c") + `]`))
		require.NotNil(t, cat)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrInvalidExperimentFormat)
		assert.Equal(t, []Slug{"exp-a", "exp-c"}, cat.Slugs())
	})

	t.Run("invalid descriptor is skipped, rest loads", func(t *testing.T) {
		noBranches := `{"slug": "broken", "branches": [], "bucketConfig": {"total": 10000}, "featureIds": []}`
		cat, errs := Parse([]byte(`[` + validDescriptor("exp-a") + `,` + noBranches + `]`))
		require.NotNil(t, cat)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrInvalidExperimentFormat)
		assert.Equal(t, []Slug{"exp-a"}, cat.Slugs())
	})

	t.Run("non-array payload fails whole catalog", func(t *testing.T) {
		cat, errs := Parse([]byte(`"nonsense"`))
		assert.Nil(t, cat)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrInvalidCatalogFormat)
	})

	t.Run("data wrapper is accepted", func(t *testing.T) {
		cat, errs := Parse([]byte(`{"data": [` + validDescriptor("exp-a") + `]}`))
		require.Empty(t, errs)
		require.NotNil(t, cat)
		assert.Equal(t, []Slug{"exp-a"}, cat.Slugs())
	})

	t.Run("empty array yields empty catalog", func(t *testing.T) {
		cat, errs := Parse([]byte(`[]`))
		require.Empty(t, errs)
		require.NotNil(t, cat)
		assert.Empty(t, cat.Experiments)
	})
}

func TestValidate(t *testing.T) {
	valid := Experiment{
		Slug:         "exp",
		Branches:     []Branch{{Slug: "control", Ratio: 1}},
		BucketConfig: BucketConfig{Namespace: "ns", Count: 100, Total: 10000},
		FeatureIDs:   []FeatureID{"newtab"},
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("empty slug", func(t *testing.T) {
		exp := valid
		exp.Slug = ""
		assert.Error(t, exp.Validate())
	})

	t.Run("no branches", func(t *testing.T) {
		exp := valid
		exp.Branches = nil
		assert.Error(t, exp.Validate())
	})

	t.Run("duplicate branch slugs", func(t *testing.T) {
		exp := valid
		exp.Branches = []Branch{{Slug: "a", Ratio: 1}, {Slug: "a", Ratio: 1}}
		assert.Error(t, exp.Validate())
	})

	t.Run("negative ratio", func(t *testing.T) {
		exp := valid
		exp.Branches = []Branch{{Slug: "a", Ratio: -1}}
		assert.Error(t, exp.Validate())
	})

	t.Run("rollout needs exactly one branch", func(t *testing.T) {
		exp := valid
		exp.IsRollout = true
		exp.Branches = []Branch{{Slug: "a", Ratio: 1}, {Slug: "b", Ratio: 1}}
		assert.Error(t, exp.Validate())

		exp.Branches = exp.Branches[:1]
		assert.NoError(t, exp.Validate())
	})

	t.Run("bucket config bounds", func(t *testing.T) {
		exp := valid
		exp.BucketConfig.Total = 0
		assert.Error(t, exp.Validate())

		exp = valid
		exp.BucketConfig.Count = 20000
		assert.Error(t, exp.Validate())

		exp = valid
		exp.BucketConfig.Start = -1
		assert.Error(t, exp.Validate())
	})
}

func TestFilterForApp(t *testing.T) {
	cat, errs := New([]Experiment{
		{
			Slug:         "for-fenix",
			AppName:      "fenix",
			Channel:      "release",
			Branches:     []Branch{{Slug: "control", Ratio: 1}},
			BucketConfig: BucketConfig{Total: 10000},
		},
		{
			Slug:         "for-desktop",
			AppName:      "firefox-desktop",
			Branches:     []Branch{{Slug: "control", Ratio: 1}},
			BucketConfig: BucketConfig{Total: 10000},
		},
		{
			Slug:         "for-anyone",
			Branches:     []Branch{{Slug: "control", Ratio: 1}},
			BucketConfig: BucketConfig{Total: 10000},
		},
	})
	require.Empty(t, errs)

	t.Run("matching app and channel", func(t *testing.T) {
		got := cat.FilterForApp("fenix", "release")
		assert.Equal(t, []Slug{"for-anyone", "for-fenix"}, got.Slugs())
	})

	t.Run("channel mismatch drops descriptor", func(t *testing.T) {
		got := cat.FilterForApp("fenix", "nightly")
		assert.Equal(t, []Slug{"for-anyone"}, got.Slugs())
	})

	t.Run("empty client fields match anything", func(t *testing.T) {
		got := cat.FilterForApp("", "")
		assert.Len(t, got.Experiments, 3)
	})
}

func TestExperimentAccessors(t *testing.T) {
	exp := Experiment{
		Slug: "exp",
		Branches: []Branch{
			{Slug: "control", Ratio: 1},
			{Slug: "treatment", Ratio: 1, Features: []FeatureConfig{{FeatureID: "newtab", Value: map[string]any{"enabled": true}}}},
		},
		FeatureIDs: []FeatureID{"newtab"},
	}

	t.Run("Branch", func(t *testing.T) {
		require.NotNil(t, exp.Branch("treatment"))
		assert.Nil(t, exp.Branch("missing"))
	})

	t.Run("FeatureConfig", func(t *testing.T) {
		branch := exp.Branch("treatment")
		fc := branch.FeatureConfig("newtab")
		require.NotNil(t, fc)
		assert.Equal(t, true, fc.Value["enabled"])
		assert.Nil(t, branch.FeatureConfig("missing"))
	})

	t.Run("HasFeature", func(t *testing.T) {
		assert.True(t, exp.HasFeature("newtab"))
		assert.False(t, exp.HasFeature("onboarding"))
	})
}
