package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("period", "hourly"),
		attribute.String("user_id", "u-1"),
		attribute.String("endpoint", "/api/v1/connections/start"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" {
			t.Fatalf("expected user_id to be dropped")
		}
	}
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordSessionOpened(ctx)
	m.RecordSessionClosed(ctx, "ended")
	m.RecordSettlement(ctx, "SESSION_SETTLEMENT")
	m.RecordAggregatesUpserted(ctx, "hourly", 4)
	m.RecordRateLimitDenied(ctx, "edge_report", "limit")

	var nilMetrics *Metrics
	nilMetrics.RecordSessionOpened(ctx)
}
