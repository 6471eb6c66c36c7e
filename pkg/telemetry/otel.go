// Package telemetry - OpenTelemetry metrics sink.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/orneryd/skuld/pkg/enrollment"
)

const (
	serviceName    = "skuld"
	serviceVersion = "0.1.0"
)

// OTelConfig configures the OTLP metrics exporter behind OTelSink.
type OTelConfig struct {
	Endpoint string
	Insecure bool
}

// OTelSink exports enrollment and feature counters through an OpenTelemetry
// meter. Construct with NewOTelSink and Shutdown when done so the final
// batch flushes.
type OTelSink struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	enrollmentChanges metric.Int64Counter
	featureExposures  metric.Int64Counter
	featureActivation metric.Int64Counter
	malformedConfigs  metric.Int64Counter
	evaluationErrors  metric.Int64Counter
}

// NewOTelSink creates a sink backed by an OTLP/gRPC periodic exporter.
func NewOTelSink(ctx context.Context, cfg OTelConfig) (*OTelSink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otel sink: endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)
	sink := &OTelSink{provider: provider, meter: meter}

	sink.enrollmentChanges, err = meter.Int64Counter(
		"skuld_enrollment_changes_total",
		metric.WithDescription("Enrollment state transitions by change kind and reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating enrollment counter: %w", err)
	}
	sink.featureExposures, err = meter.Int64Counter(
		"skuld_feature_exposures_total",
		metric.WithDescription("Feature exposure events"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating exposure counter: %w", err)
	}
	sink.featureActivation, err = meter.Int64Counter(
		"skuld_feature_activations_total",
		metric.WithDescription("Feature activation events"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating activation counter: %w", err)
	}
	sink.malformedConfigs, err = meter.Int64Counter(
		"skuld_malformed_feature_configs_total",
		metric.WithDescription("Feature configurations the host could not use"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating malformed-config counter: %w", err)
	}
	sink.evaluationErrors, err = meter.Int64Counter(
		"skuld_targeting_evaluation_errors_total",
		metric.WithDescription("Targeting expressions that failed to evaluate"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating evaluation-error counter: %w", err)
	}
	return sink, nil
}

// Shutdown flushes pending metrics and releases the provider.
func (s *OTelSink) Shutdown(ctx context.Context) error {
	return s.provider.Shutdown(ctx)
}

func (s *OTelSink) RecordEnrollmentChanges(events []enrollment.ChangeEvent) {
	ctx := context.Background()
	for _, ev := range events {
		s.enrollmentChanges.Add(ctx, 1, metric.WithAttributes(
			attribute.String("slug", string(ev.Slug)),
			attribute.String("branch", string(ev.Branch)),
			attribute.String("change", string(ev.Change)),
			attribute.String("reason", ev.Reason),
		))
	}
}

func (s *OTelSink) RecordFeatureExposure(rec FeatureRecord) {
	s.featureExposures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("feature_id", string(rec.FeatureID)),
		attribute.String("slug", string(rec.ExperimentSlug)),
		attribute.String("branch", string(rec.Branch)),
	))
}

func (s *OTelSink) RecordFeatureActivation(rec FeatureRecord) {
	s.featureActivation.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("feature_id", string(rec.FeatureID)),
		attribute.String("slug", string(rec.ExperimentSlug)),
		attribute.String("branch", string(rec.Branch)),
	))
}

func (s *OTelSink) RecordMalformedConfig(rec FeatureRecord) {
	s.malformedConfigs.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("feature_id", string(rec.FeatureID)),
		attribute.String("slug", string(rec.ExperimentSlug)),
		attribute.String("part", rec.Part),
	))
}

func (s *OTelSink) RecordEvaluationError(rec EvaluationErrorRecord) {
	s.evaluationErrors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("slug", string(rec.ExperimentSlug)),
	))
}
