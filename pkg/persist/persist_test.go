package persist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/enrollment"
	"github.com/orneryd/skuld/pkg/events"
	"github.com/orneryd/skuld/pkg/store"
)

func testClock() time.Time {
	return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, errs := catalog.New([]catalog.Experiment{{
		Slug:         "exp-a",
		Branches:     []catalog.Branch{{Slug: "control", Ratio: 1}},
		BucketConfig: catalog.BucketConfig{Namespace: "ns", Count: 10000, Total: 10000},
		FeatureIDs:   []catalog.FeatureID{"newtab"},
	}})
	require.Empty(t, errs)
	return cat
}

func TestLoadFreshStore(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	a := New(st)

	state, err := a.Load(testClock())
	require.NoError(t, err)

	assert.Empty(t, state.Applied.Experiments)
	assert.Empty(t, state.Records)
	assert.Nil(t, state.PendingRaw)
	assert.True(t, state.Participating)
	assert.NotNil(t, state.Events)
	assert.NotEmpty(t, state.RandomizationID, "fresh store mints a randomization id")

	// The minted id is persisted: a second load sees the same one.
	again, err := a.Load(testClock())
	require.NoError(t, err)
	assert.Equal(t, state.RandomizationID, again.RandomizationID)
}

func TestCommitApplyRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	a := New(st)

	_, err := a.Load(testClock())
	require.NoError(t, err)

	cat := testCatalog(t)
	records := map[catalog.Slug]enrollment.Record{
		"exp-a": {
			Slug:         "exp-a",
			EnrollmentID: "enr-1",
			Status:       enrollment.Status{Kind: enrollment.StatusEnrolled, Branch: "control", Reason: enrollment.ReasonQualified},
		},
	}
	ev := events.NewStore(testClock())
	ev.RecordEvent("app_launched", 2)

	require.NoError(t, a.SetPending([]byte("[]")))
	require.NoError(t, a.CommitApply(cat, records, ev, true))

	state, err := a.Load(testClock())
	require.NoError(t, err)

	assert.Equal(t, []catalog.Slug{"exp-a"}, state.Applied.Slugs())
	require.Contains(t, state.Records, catalog.Slug("exp-a"))
	assert.Equal(t, "enr-1", state.Records["exp-a"].EnrollmentID)
	assert.Nil(t, state.PendingRaw, "commit with clearPending drops the pending catalog")

	sum, err := state.Events.Query("app_launched", 7, events.StatisticSum)
	require.NoError(t, err)
	assert.Equal(t, 2.0, sum)
}

func TestCommitApplyDropsStaleRecords(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	a := New(st)

	_, err := a.Load(testClock())
	require.NoError(t, err)

	ev := events.NewStore(testClock())
	first := map[catalog.Slug]enrollment.Record{
		"exp-old": {Slug: "exp-old", Status: enrollment.Status{Kind: enrollment.StatusEnrolled, Branch: "control"}},
	}
	require.NoError(t, a.CommitApply(testCatalog(t), first, ev, false))

	second := map[catalog.Slug]enrollment.Record{
		"exp-new": {Slug: "exp-new", Status: enrollment.Status{Kind: enrollment.StatusEnrolled, Branch: "control"}},
	}
	require.NoError(t, a.CommitApply(testCatalog(t), second, ev, false))

	state, err := a.Load(testClock())
	require.NoError(t, err)
	assert.NotContains(t, state.Records, catalog.Slug("exp-old"))
	assert.Contains(t, state.Records, catalog.Slug("exp-new"))
}

func TestPendingLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	a := New(st)

	_, err := a.Load(testClock())
	require.NoError(t, err)

	payload := []byte(`[{"slug": "exp-a"}]`)
	require.NoError(t, a.SetPending(payload))

	state, err := a.Load(testClock())
	require.NoError(t, err)
	assert.Equal(t, payload, state.PendingRaw)

	require.NoError(t, a.ClearPending())

	state, err = a.Load(testClock())
	require.NoError(t, err)
	assert.Nil(t, state.PendingRaw)
}

func TestLoadRecoversFromCorruption(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	a := New(st)

	_, err := a.Load(testClock())
	require.NoError(t, err)

	require.NoError(t, st.Set("catalog:applied", []byte("{corrupt")))
	require.NoError(t, st.Set("enrollment:broken", []byte("not json")))
	require.NoError(t, st.Set("enrollment:good", mustRecordJSON(t)))
	require.NoError(t, st.Set("events:store", []byte("also corrupt")))

	state, err := a.Load(testClock())
	require.NoError(t, err, "corruption never fails the load")

	assert.Empty(t, state.Applied.Experiments, "corrupt applied catalog resets")
	assert.NotContains(t, state.Records, catalog.Slug("broken"))
	assert.Contains(t, state.Records, catalog.Slug("good"), "healthy records still load")
	assert.NotNil(t, state.Events, "corrupt event store resets to empty")

	// The corrupt keys were deleted, not left to fail again.
	_, err = st.Get("enrollment:broken")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func mustRecordJSON(t *testing.T) []byte {
	t.Helper()
	return []byte(`{"slug": "good", "enrollment_id": "enr-1", "status": {"kind": "Enrolled", "branch": "control"}}`)
}

func TestUnknownSchemaVersionWipesState(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	a := New(st)

	require.NoError(t, st.Set("schema:version", []byte("99")))
	require.NoError(t, st.Set("enrollment:exp", mustRecordJSON(t)))

	state, err := a.Load(testClock())
	require.NoError(t, err)

	assert.Empty(t, state.Records, "unknown schema wipes everything")

	version, err := st.Get("schema:version")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), version)
}

func TestParticipationAndRandomizationID(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	a := New(st)

	_, err := a.Load(testClock())
	require.NoError(t, err)

	require.NoError(t, a.SetParticipation(false))
	require.NoError(t, a.SetRandomizationID("new-id"))

	state, err := a.Load(testClock())
	require.NoError(t, err)
	assert.False(t, state.Participating)
	assert.Equal(t, "new-id", state.RandomizationID)
}

func TestResetEnrollments(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	a := New(st)

	_, err := a.Load(testClock())
	require.NoError(t, err)

	records := map[catalog.Slug]enrollment.Record{
		"exp-a": {Slug: "exp-a", Status: enrollment.Status{Kind: enrollment.StatusEnrolled, Branch: "control"}},
	}
	ev := events.NewStore(testClock())
	ev.RecordEvent("app_launched", 1)
	require.NoError(t, a.CommitApply(testCatalog(t), records, ev, false))

	require.NoError(t, a.ResetEnrollments())

	state, err := a.Load(testClock())
	require.NoError(t, err)
	assert.Empty(t, state.Records)
	assert.Empty(t, state.Applied.Experiments)

	// Events survive an enrollment reset.
	sum, err := state.Events.Query("app_launched", 7, events.StatisticSum)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sum)
}
