package bucketing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/skuld/pkg/catalog"
)

func TestPointDeterminism(t *testing.T) {
	t.Run("same inputs same point", func(t *testing.T) {
		a := Point("client-1", "ns", "exp")
		b := Point("client-1", "ns", "exp")
		assert.Equal(t, a, b)
	})

	t.Run("point is in range", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			p := Point(fmt.Sprintf("client-%d", i), "ns", "exp")
			assert.GreaterOrEqual(t, p, 0)
			assert.Less(t, p, TotalBuckets)
		}
	})

	t.Run("different ids diverge", func(t *testing.T) {
		seen := map[int]bool{}
		for i := 0; i < 50; i++ {
			seen[Point(fmt.Sprintf("client-%d", i), "ns", "exp")] = true
		}
		assert.Greater(t, len(seen), 40, "points should spread out")
	})

	t.Run("namespaces decorrelate", func(t *testing.T) {
		same := 0
		for i := 0; i < 100; i++ {
			id := fmt.Sprintf("client-%d", i)
			if Point(id, "ns-a", "exp") == Point(id, "ns-b", "exp") {
				same++
			}
		}
		assert.Less(t, same, 10, "different namespaces should rarely collide")
	})
}

func TestInRange(t *testing.T) {
	t.Run("plain range", func(t *testing.T) {
		assert.True(t, InRange(0, 0, 1000, 10000))
		assert.True(t, InRange(999, 0, 1000, 10000))
		assert.False(t, InRange(1000, 0, 1000, 10000))
	})

	t.Run("count equal to total matches everything", func(t *testing.T) {
		for _, p := range []int{0, 1, 5000, 9999} {
			assert.True(t, InRange(p, 3000, 10000, 10000))
		}
	})

	t.Run("count above total matches everything", func(t *testing.T) {
		assert.True(t, InRange(42, 0, 20000, 10000))
	})

	t.Run("zero count matches nothing", func(t *testing.T) {
		assert.False(t, InRange(0, 0, 0, 10000))
	})

	t.Run("wraparound", func(t *testing.T) {
		// [9500, 10000) plus [0, 500)
		assert.True(t, InRange(9750, 9500, 1000, 10000))
		assert.True(t, InRange(250, 9500, 1000, 10000))
		assert.False(t, InRange(5000, 9500, 1000, 10000))
		assert.False(t, InRange(500, 9500, 1000, 10000))
	})
}

func TestEligible(t *testing.T) {
	cfg := catalog.BucketConfig{
		RandomizationUnit: catalog.RandomizationClientID,
		Namespace:         "newtab-ns",
		Start:             0,
		Count:             10000,
		Total:             10000,
	}

	t.Run("full slice always eligible", func(t *testing.T) {
		assert.True(t, Eligible("any-client", "exp", cfg))
	})

	t.Run("half slice splits the population", func(t *testing.T) {
		half := cfg
		half.Count = 5000
		in := 0
		for i := 0; i < 1000; i++ {
			if Eligible(fmt.Sprintf("client-%d", i), "exp", half) {
				in++
			}
		}
		assert.InDelta(t, 500, in, 100, "about half the clients should fall in a 50%% slice")
	})
}

func TestSelectBranch(t *testing.T) {
	branches := []catalog.Branch{
		{Slug: "control", Ratio: 1},
		{Slug: "treatment", Ratio: 1},
	}

	t.Run("deterministic", func(t *testing.T) {
		a, err := SelectBranch("client-1", "exp", branches)
		require.NoError(t, err)
		b, err := SelectBranch("client-1", "exp", branches)
		require.NoError(t, err)
		assert.Equal(t, a.Slug, b.Slug)
	})

	t.Run("roughly even 1:1 split", func(t *testing.T) {
		counts := map[catalog.Slug]int{}
		for i := 0; i < 1000; i++ {
			b, err := SelectBranch(fmt.Sprintf("client-%d", i), "exp", branches)
			require.NoError(t, err)
			counts[b.Slug]++
		}
		assert.InDelta(t, 500, counts["control"], 100)
		assert.InDelta(t, 500, counts["treatment"], 100)
	})

	t.Run("zero-ratio branch is never selected", func(t *testing.T) {
		weighted := []catalog.Branch{
			{Slug: "never", Ratio: 0},
			{Slug: "always", Ratio: 1},
		}
		for i := 0; i < 100; i++ {
			b, err := SelectBranch(fmt.Sprintf("client-%d", i), "exp", weighted)
			require.NoError(t, err)
			assert.Equal(t, catalog.Slug("always"), b.Slug)
		}
	})

	t.Run("empty or zero-sum branch list fails", func(t *testing.T) {
		_, err := SelectBranch("client-1", "exp", nil)
		assert.ErrorIs(t, err, ErrNoBranches)

		_, err = SelectBranch("client-1", "exp", []catalog.Branch{{Slug: "a", Ratio: 0}})
		assert.ErrorIs(t, err, ErrNoBranches)
	})

	t.Run("independent of eligibility hash", func(t *testing.T) {
		// Clients at the low edge of the eligibility space must not all land
		// in the first branch.
		counts := map[catalog.Slug]int{}
		for i := 0; i < 2000; i++ {
			id := fmt.Sprintf("client-%d", i)
			if Point(id, "ns", "exp") > 100 {
				continue
			}
			b, err := SelectBranch(id, "exp", branches)
			require.NoError(t, err)
			counts[b.Slug]++
		}
		if counts["control"]+counts["treatment"] >= 10 {
			assert.Greater(t, counts["control"], 0)
			assert.Greater(t, counts["treatment"], 0)
		}
	})
}
