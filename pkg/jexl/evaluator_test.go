package jexl

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/skuld/pkg/events"
	"github.com/orneryd/skuld/pkg/targeting"
)

func testContext() *Context {
	install := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	appCtx := targeting.AppContext{
		AppName:    "fenix",
		AppID:      "org.mozilla.fenix",
		Channel:    "release",
		AppVersion: "135.0.1",
		Locale:     "en-US",
		OS:         "Android",
		Custom: map[string]any{
			"is_default_browser": true,
			"bookmark_count":     12,
		},
		InstallationDate: &install,
	}
	return &Context{
		AppContext:        appCtx,
		Calculated:        targeting.Calculate(now, appCtx.InstallationDate, appCtx.UpdateDate, appCtx.Locale),
		ActiveExperiments: []string{"other-experiment"},
		RandomizationID:   "d4a09b32-0c05-4bfa-9b48-9dcb41d6d742",
		Now:               now,
	}
}

func TestEvaluateLiterals(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"2 == 2", true},
		{"2 == 3", false},
		{"1 + 1 == 2", true},
		{"10 / 4 == 2.5", true},
		{"10 // 4 == 2", true},
		{"10 % 3 == 1", true},
		{"2 ^ 10 == 1024", true},
		{"-(3) == 0 - 3", true},
		{"'a' + 'b' == 'ab'", true},
		{"!false", true},
		{"1 < 2 && 2 <= 2", true},
		{"'b' > 'a'", true},
		{"true ? 1 : 0", true},
		{"false ? 1 : 0", false},
		{"2 in [1, 2, 3]", true},
		{"5 in [1, 2, 3]", false},
		{"'oz' in 'mozilla'", true},
		{"[1, 2][1] == 2", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, testContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateContextAttributes(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"app_id == 'org.mozilla.fenix'", true},
		{"app_name == 'fenix' && channel == 'release'", true},
		{"locale == 'en-US'", true},
		{"language == 'en' && region == 'US'", true},
		{"days_since_install == 14", true},
		{"days_since_install < 7", false},
		{"is_default_browser", true},
		{"bookmark_count >= 10", true},
		{"'other-experiment' in active_experiments", true},
		{"'missing' in active_experiments", false},
		{"os == 'Android'", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, testContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUndefinedSemantics(t *testing.T) {
	ctx := testContext()

	t.Run("unknown identifier is falsy", func(t *testing.T) {
		got, err := Evaluate("no_such_attribute", ctx)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("undefined equals only itself", func(t *testing.T) {
		got, err := Evaluate("no_such_attribute == also_missing", ctx)
		require.NoError(t, err)
		assert.True(t, got)

		got, err = Evaluate("no_such_attribute == 'x'", ctx)
		require.NoError(t, err)
		assert.False(t, got)

		got, err = Evaluate("no_such_attribute != 5", ctx)
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("arithmetic on undefined fails", func(t *testing.T) {
		_, err := Evaluate("no_such_attribute + 1", ctx)
		assert.ErrorIs(t, err, ErrEvaluation)
	})

	t.Run("ordering on undefined fails", func(t *testing.T) {
		_, err := Evaluate("no_such_attribute < 5", ctx)
		assert.ErrorIs(t, err, ErrEvaluation)
	})

	t.Run("member access on undefined stays undefined", func(t *testing.T) {
		got, err := Evaluate("no_such_attribute.deeply.nested == another_missing", ctx)
		require.NoError(t, err)
		assert.True(t, got)
	})
}

func TestSyntaxErrors(t *testing.T) {
	exprs := []string{
		"",
		"1 +",
		"(1 + 2",
		"[1, 2",
		"&&",
		"a ? b",
		"'unterminated",
		"1 ===== 2",
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr, testContext())
			assert.ErrorIs(t, err, ErrInvalidExpression)
		})
	}
}

func TestRuntimeErrors(t *testing.T) {
	ctx := testContext()

	t.Run("division by zero", func(t *testing.T) {
		_, err := Evaluate("1 / 0", ctx)
		assert.ErrorIs(t, err, ErrEvaluation)
	})

	t.Run("modulo by zero", func(t *testing.T) {
		_, err := Evaluate("1 % 0", ctx)
		assert.ErrorIs(t, err, ErrEvaluation)
	})

	t.Run("unknown function", func(t *testing.T) {
		_, err := Evaluate("frobnicate(1)", ctx)
		assert.ErrorIs(t, err, ErrEvaluation)
	})

	t.Run("unknown transform", func(t *testing.T) {
		_, err := Evaluate("'x'|frobnicate", ctx)
		assert.ErrorIs(t, err, ErrEvaluation)
	})

	t.Run("wrong arity", func(t *testing.T) {
		_, err := Evaluate("lower('A', 'B')", ctx)
		assert.ErrorIs(t, err, ErrEvaluation)
	})
}

func TestParseDepthLimit(t *testing.T) {
	expr := strings.Repeat("(", 200) + "1" + strings.Repeat(")", 200)
	_, err := Evaluate(expr, testContext())
	assert.ErrorIs(t, err, ErrInvalidExpression)
}

func TestShortCircuit(t *testing.T) {
	ctx := testContext()

	// The right side would fail if evaluated; short-circuit must skip it.
	got, err := Evaluate("false && (1 / 0 == 1)", ctx)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Evaluate("true || (1 / 0 == 1)", ctx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestFunctions(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"lower('ABC') == 'abc'", true},
		{"upper('abc') == 'ABC'", true},
		{"trim('  x  ') == 'x'", true},
		{"len('abcd') == 4", true},
		{"len([1, 2, 3]) == 3", true},
		{"date('2026-03-01') < now()", true},
		{"date('2026-03-01T00:00:00Z') == date('2026-03-01')", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, testContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"app_version|versionCompare('135.0.1') == 0", true},
		{"app_version|versionCompare('100.0') > 0", true},
		{"app_version|versionCompare('200.0') < 0", true},
		{"'100'|versionCompare('100.0') == 0", true},
		{"'1.10'|versionCompare('1.9') > 0", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, testContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventTransforms(t *testing.T) {
	ctx := testContext()
	store := events.NewStore(ctx.Now)
	store.RecordEvent("app_launched", 3)
	require.NoError(t, store.RecordPastEvent("app_launched", 2*86400, 1))
	ctx.Events = store

	tests := []struct {
		expr string
		want bool
	}{
		{"'app_launched'|eventSum(7) == 4", true},
		{"'app_launched'|eventCountNonZero(7) == 2", true},
		{"'app_launched'|eventAverage(4) == 1", true},
		{"'app_launched'|eventLastSeen(7) == 0", true},
		{"'never_recorded'|eventSum(7) == 0", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("event transforms fail without a store", func(t *testing.T) {
		_, err := Evaluate("'app_launched'|eventSum(7) > 0", testContext())
		assert.ErrorIs(t, err, ErrEvaluation)
	})
}

func TestBucketSample(t *testing.T) {
	ctx := testContext()

	t.Run("deterministic", func(t *testing.T) {
		first, err := Evaluate("client_id|bucketSample(0, 5000, 10000)", ctx)
		require.NoError(t, err)
		second, err := Evaluate("client_id|bucketSample(0, 5000, 10000)", ctx)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("full range always matches", func(t *testing.T) {
		got, err := Evaluate("client_id|bucketSample(0, 10000, 10000)", ctx)
		require.NoError(t, err)
		assert.True(t, got)
	})

	t.Run("empty range never matches", func(t *testing.T) {
		got, err := Evaluate("client_id|bucketSample(0, 0, 10000)", ctx)
		require.NoError(t, err)
		assert.False(t, got)
	})

	t.Run("non-positive total fails", func(t *testing.T) {
		_, err := Evaluate("client_id|bucketSample(0, 1, 0)", ctx)
		assert.ErrorIs(t, err, ErrEvaluation)
	})
}

func TestExtraShadowsEverything(t *testing.T) {
	ctx := testContext()
	ctx.Extra = map[string]any{
		"app_id":     "shadowed",
		"experiment": "my-experiment",
	}

	got, err := Evaluate("app_id == 'shadowed' && experiment == 'my-experiment'", ctx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluateValue(t *testing.T) {
	v, err := EvaluateValue("1 + 2 * 3", testContext())
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	v, err = EvaluateValue("'a' + 'b'", testContext())
	require.NoError(t, err)
	assert.Equal(t, "ab", v)
}
