package targeting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("days since install and update", func(t *testing.T) {
		install := now.AddDate(0, 0, -30)
		update := now.AddDate(0, 0, -3)

		calc := Calculate(now, &install, &update, "")

		require.NotNil(t, calc.DaysSinceInstall)
		require.NotNil(t, calc.DaysSinceUpdate)
		assert.Equal(t, 30, *calc.DaysSinceInstall)
		assert.Equal(t, 3, *calc.DaysSinceUpdate)
	})

	t.Run("missing dates yield nil", func(t *testing.T) {
		calc := Calculate(now, nil, nil, "en-US")

		assert.Nil(t, calc.DaysSinceInstall)
		assert.Nil(t, calc.DaysSinceUpdate)
	})

	t.Run("future install date yields nil, not negative", func(t *testing.T) {
		future := now.AddDate(0, 0, 5)

		calc := Calculate(now, &future, nil, "")

		assert.Nil(t, calc.DaysSinceInstall)
	})

	t.Run("partial day does not count", func(t *testing.T) {
		install := now.Add(-36 * time.Hour)

		calc := Calculate(now, &install, nil, "")

		require.NotNil(t, calc.DaysSinceInstall)
		assert.Equal(t, 1, *calc.DaysSinceInstall)
	})

	t.Run("locale split", func(t *testing.T) {
		calc := Calculate(now, nil, nil, "en-US")

		require.NotNil(t, calc.Language)
		require.NotNil(t, calc.Region)
		assert.Equal(t, "en", *calc.Language)
		assert.Equal(t, "US", *calc.Region)
	})

	t.Run("bare language locale has no region", func(t *testing.T) {
		calc := Calculate(now, nil, nil, "de")

		require.NotNil(t, calc.Language)
		assert.Equal(t, "de", *calc.Language)
		assert.Nil(t, calc.Region)
	})

	t.Run("empty locale yields nil language", func(t *testing.T) {
		calc := Calculate(now, nil, nil, "")

		assert.Nil(t, calc.Language)
		assert.Nil(t, calc.Region)
	})
}

func TestSplitLocale(t *testing.T) {
	tests := []struct {
		locale   string
		language string
		region   string
		ok       bool
	}{
		{"en-US", "en", "US", true},
		{"en_US", "en", "US", true},
		{"EN-us", "en", "US", true},
		{"en", "en", "", true},
		{"zh-Hans-CN", "zh", "CN", true},
		{"es-419", "es", "419", true},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			language, region, ok := splitLocale(tt.locale)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.language, language)
			assert.Equal(t, tt.region, region)
		})
	}
}
