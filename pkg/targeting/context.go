// Package targeting provides the client context model used by targeting
// expressions.
//
// The context comes in two halves:
//   - AppContext: an immutable snapshot of client attributes supplied by the
//     host application (app id, channel, locale, install/update dates, custom
//     attributes)
//   - CalculatedAttributes: derived attributes (days since install, days since
//     update, language, region) recomputed from the clock at evaluation time
//
// Both halves are plain data with no behavior beyond derivation; evaluation
// lives in pkg/jexl.
//
// Example Usage:
//
//	appCtx := targeting.AppContext{
//		AppName: "fenix",
//		AppID:   "org.mozilla.fenix",
//		Channel: "release",
//		Locale:  "en-US",
//	}
//	calc := targeting.Calculate(time.Now(), appCtx.InstallationDate, appCtx.UpdateDate, appCtx.Locale)
//	fmt.Println(calc.Language, calc.Region) // "en" "US"
package targeting

import (
	"strings"
	"time"
)

// AppContext is the host-supplied snapshot of client attributes. It is
// immutable for the lifetime of a client instance; anything that varies with
// the clock belongs in CalculatedAttributes instead.
type AppContext struct {
	AppName       string `json:"app_name" yaml:"app_name"`
	AppID         string `json:"app_id" yaml:"app_id"`
	Channel       string `json:"channel" yaml:"channel"`
	AppVersion    string `json:"app_version,omitempty" yaml:"app_version,omitempty"`
	AppBuild      string `json:"app_build,omitempty" yaml:"app_build,omitempty"`
	Architecture  string `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	DeviceModel   string `json:"device_model,omitempty" yaml:"device_model,omitempty"`
	DeviceVendor  string `json:"device_manufacturer,omitempty" yaml:"device_manufacturer,omitempty"`
	Locale        string `json:"locale,omitempty" yaml:"locale,omitempty"`
	OS            string `json:"os,omitempty" yaml:"os,omitempty"`
	OSVersion     string `json:"os_version,omitempty" yaml:"os_version,omitempty"`

	InstallationDate *time.Time `json:"installation_date,omitempty" yaml:"installation_date,omitempty"`
	UpdateDate       *time.Time `json:"update_date,omitempty" yaml:"update_date,omitempty"`

	// Custom carries host-defined targeting attributes. Values must be
	// JSON-representable (bool, float64, string, slices, maps).
	Custom map[string]any `json:"custom_targeting_attributes,omitempty" yaml:"custom_targeting_attributes,omitempty"`
}

// CalculatedAttributes are clock-derived attributes recomputed at evaluation
// time. Nil pointer fields mean "unknown": the source date was absent, or the
// clock reads earlier than the date (clock skew).
type CalculatedAttributes struct {
	DaysSinceInstall *int
	DaysSinceUpdate  *int
	Language         *string
	Region           *string
}

// Calculate derives CalculatedAttributes from the clock, the install/update
// dates, and the locale. It is a pure function of its inputs.
//
// Day counts are whole elapsed days, floor division. A date in the future
// yields nil rather than a negative count.
func Calculate(now time.Time, installDate, updateDate *time.Time, locale string) CalculatedAttributes {
	calc := CalculatedAttributes{
		DaysSinceInstall: daysSince(now, installDate),
		DaysSinceUpdate:  daysSince(now, updateDate),
	}
	if lang, region, ok := splitLocale(locale); ok {
		calc.Language = &lang
		if region != "" {
			calc.Region = &region
		}
	}
	return calc
}

func daysSince(now time.Time, date *time.Time) *int {
	if date == nil || now.Before(*date) {
		return nil
	}
	days := int(now.Sub(*date).Hours() / 24)
	return &days
}

// splitLocale splits a BCP 47-ish locale tag into language and region.
// "en-US" and "en_US" both yield ("en", "US"); a bare "en" yields ("en", "").
func splitLocale(locale string) (language, region string, ok bool) {
	if locale == "" {
		return "", "", false
	}
	parts := strings.FieldsFunc(locale, func(r rune) bool {
		return r == '-' || r == '_'
	})
	if len(parts) == 0 {
		return "", "", false
	}
	language = strings.ToLower(parts[0])
	if len(parts) > 1 {
		// Skip script subtags like "Hans" in "zh-Hans-CN": regions are
		// two letters or three digits.
		for _, p := range parts[1:] {
			if len(p) == 2 || (len(p) == 3 && p[0] >= '0' && p[0] <= '9') {
				region = strings.ToUpper(p)
				break
			}
		}
	}
	return language, region, true
}
