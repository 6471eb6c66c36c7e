// Package telemetry defines the metrics sink that receives structured
// records about enrollment changes, feature exposure and activation,
// malformed configurations, and targeting evaluation failures.
//
// The engine only ever produces records; emission, batching, and transport
// belong to the sink implementation. Three sinks ship with the module:
//
//   - NoopSink: drops everything (the default)
//   - LogSink: prints records through the standard logger, for development
//   - OTelSink: exports counters through OpenTelemetry metrics
package telemetry

import (
	"log"

	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/enrollment"
)

// FeatureRecord describes a feature-level signal: exposure, activation, or a
// malformed configuration.
type FeatureRecord struct {
	FeatureID      catalog.FeatureID
	ExperimentSlug catalog.Slug
	Branch         catalog.Slug
	// Part names the malformed piece of configuration, when applicable.
	Part string
}

// EvaluationErrorRecord reports a targeting expression that failed to
// evaluate. Distinct from a clean non-match so dashboards can alert on
// broken expressions.
type EvaluationErrorRecord struct {
	ExperimentSlug catalog.Slug
	Expression     string
	Message        string
}

// Sink receives structured telemetry records. Implementations must be safe
// for concurrent use and must never block the caller for long: the engine
// calls sinks while holding its write lock.
type Sink interface {
	// RecordEnrollmentChanges reports the change events of one apply,
	// opt-in, opt-out, or participation change.
	RecordEnrollmentChanges(events []enrollment.ChangeEvent)

	// RecordFeatureExposure reports that a feature's configuration was
	// shown to the user under a live experiment enrollment.
	RecordFeatureExposure(rec FeatureRecord)

	// RecordFeatureActivation reports that a feature surface was
	// activated, regardless of enrollment.
	RecordFeatureActivation(rec FeatureRecord)

	// RecordMalformedConfig reports a feature configuration the host could
	// not use.
	RecordMalformedConfig(rec FeatureRecord)

	// RecordEvaluationError reports a targeting expression failure.
	RecordEvaluationError(rec EvaluationErrorRecord)
}

// NoopSink drops every record.
type NoopSink struct{}

func (NoopSink) RecordEnrollmentChanges([]enrollment.ChangeEvent) {}
func (NoopSink) RecordFeatureExposure(FeatureRecord)              {}
func (NoopSink) RecordFeatureActivation(FeatureRecord)            {}
func (NoopSink) RecordMalformedConfig(FeatureRecord)              {}
func (NoopSink) RecordEvaluationError(EvaluationErrorRecord)      {}

// LogSink prints records through the standard logger. Development use only.
type LogSink struct{}

func (LogSink) RecordEnrollmentChanges(events []enrollment.ChangeEvent) {
	for _, ev := range events {
		log.Printf("[telemetry] %s slug=%s branch=%s reason=%s", ev.Change, ev.Slug, ev.Branch, ev.Reason)
	}
}

func (LogSink) RecordFeatureExposure(rec FeatureRecord) {
	log.Printf("[telemetry] exposure feature=%s slug=%s branch=%s", rec.FeatureID, rec.ExperimentSlug, rec.Branch)
}

func (LogSink) RecordFeatureActivation(rec FeatureRecord) {
	log.Printf("[telemetry] activation feature=%s slug=%s branch=%s", rec.FeatureID, rec.ExperimentSlug, rec.Branch)
}

func (LogSink) RecordMalformedConfig(rec FeatureRecord) {
	log.Printf("[telemetry] malformed-config feature=%s slug=%s part=%s", rec.FeatureID, rec.ExperimentSlug, rec.Part)
}

func (LogSink) RecordEvaluationError(rec EvaluationErrorRecord) {
	log.Printf("[telemetry] evaluation-error slug=%s expr=%q: %s", rec.ExperimentSlug, rec.Expression, rec.Message)
}
