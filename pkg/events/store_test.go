package events

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock() time.Time {
	return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
}

func TestRecordAndQuery(t *testing.T) {
	t.Run("sum over window", func(t *testing.T) {
		store := NewStore(testClock())
		store.RecordEvent("app_launched", 2)
		store.RecordEvent("app_launched", 1)

		got, err := store.Query("app_launched", 7, StatisticSum)
		require.NoError(t, err)
		assert.Equal(t, 3.0, got)
	})

	t.Run("unknown event behaves as all-zero", func(t *testing.T) {
		store := NewStore(testClock())

		got, err := store.Query("never_happened", 7, StatisticSum)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})

	t.Run("events age out of the window", func(t *testing.T) {
		store := NewStore(testClock())
		store.RecordEvent("app_launched", 1)

		require.NoError(t, store.AdvanceTime(8*86400))

		recent, err := store.Query("app_launched", 7, StatisticSum)
		require.NoError(t, err)
		assert.Equal(t, 0.0, recent, "8-day-old event outside a 7-day window")

		wide, err := store.Query("app_launched", 30, StatisticSum)
		require.NoError(t, err)
		assert.Equal(t, 1.0, wide, "still inside a 30-day window")
	})

	t.Run("countNonZero counts days, not occurrences", func(t *testing.T) {
		store := NewStore(testClock())
		store.RecordEvent("sync", 5)
		require.NoError(t, store.RecordPastEvent("sync", 2*86400, 3))

		got, err := store.Query("sync", 7, StatisticCountNonZero)
		require.NoError(t, err)
		assert.Equal(t, 2.0, got)
	})

	t.Run("average divides by window length", func(t *testing.T) {
		store := NewStore(testClock())
		store.RecordEvent("sync", 10)

		got, err := store.Query("sync", 4, StatisticAverage)
		require.NoError(t, err)
		assert.Equal(t, 2.5, got)
	})

	t.Run("lastSeen", func(t *testing.T) {
		store := NewStore(testClock())
		require.NoError(t, store.RecordPastEvent("sync", 3*86400, 1))

		got, err := store.Query("sync", 7, StatisticLastSeen)
		require.NoError(t, err)
		assert.Equal(t, 3.0, got)
	})

	t.Run("lastSeen is infinite when never seen", func(t *testing.T) {
		store := NewStore(testClock())

		got, err := store.Query("sync", 7, StatisticLastSeen)
		require.NoError(t, err)
		assert.True(t, math.IsInf(got, 1))
	})

	t.Run("non-positive window returns zero", func(t *testing.T) {
		store := NewStore(testClock())
		store.RecordEvent("sync", 1)

		got, err := store.Query("sync", 0, StatisticSum)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})

	t.Run("unknown statistic errors", func(t *testing.T) {
		store := NewStore(testClock())

		_, err := store.Query("sync", 7, Statistic("median"))
		assert.ErrorIs(t, err, ErrUnknownStatistic)
	})
}

func TestRecordPastEvent(t *testing.T) {
	t.Run("rejects non-positive seconds", func(t *testing.T) {
		store := NewStore(testClock())

		assert.ErrorIs(t, store.RecordPastEvent("sync", 0, 1), ErrNonPositiveSeconds)
		assert.ErrorIs(t, store.RecordPastEvent("sync", -5, 1), ErrNonPositiveSeconds)
	})
}

func TestAdvanceTime(t *testing.T) {
	t.Run("rejects non-positive seconds", func(t *testing.T) {
		store := NewStore(testClock())

		assert.ErrorIs(t, store.AdvanceTime(0), ErrNonPositiveSeconds)
		assert.ErrorIs(t, store.AdvanceTime(-1), ErrNonPositiveSeconds)
	})

	t.Run("prunes buckets past retention", func(t *testing.T) {
		store := NewStore(testClock())
		store.RecordEvent("old", 1)

		require.NoError(t, store.AdvanceTime((DefaultRetentionDays+5)*86400))

		got, err := store.Query("old", DefaultRetentionDays+10, StatisticSum)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got, "bucket past retention should be gone")
	})
}

func TestClear(t *testing.T) {
	store := NewStore(testClock())
	store.RecordEvent("sync", 3)
	before := store.Now()

	store.Clear()

	got, err := store.Query("sync", 7, StatisticSum)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
	assert.Equal(t, before, store.Now(), "clock untouched by Clear")
}

func TestSerializationRoundTrip(t *testing.T) {
	store := NewStore(testClock())
	store.RecordEvent("app_launched", 4)
	require.NoError(t, store.RecordPastEvent("app_launched", 5*86400, 2))
	store.RecordEvent("sync", 1)

	raw, err := store.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(raw)
	require.NoError(t, err)

	for _, tc := range []struct {
		id   string
		stat Statistic
		want float64
	}{
		{"app_launched", StatisticSum, 6},
		{"app_launched", StatisticCountNonZero, 2},
		{"sync", StatisticLastSeen, 0},
	} {
		got, err := restored.Query(tc.id, 30, tc.stat)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %s", tc.id, tc.stat)
	}
}

func TestDeserializeCorrupt(t *testing.T) {
	_, err := Deserialize([]byte("{not json"))
	assert.Error(t, err)
}
