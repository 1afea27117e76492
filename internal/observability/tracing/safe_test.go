package tracing

import (
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	got := SafeAttributes(
		attribute.String("http.route", "/api/v1/tokens/withdraw"),
		attribute.String("wallet_address", "0xabc"),
		attribute.String("purchase_token", "receipt"),
	)
	if len(got) != 1 || got[0].Key != "http.route" {
		t.Fatalf("unexpected attributes: %v", got)
	}
}

func TestSafeErrorTruncates(t *testing.T) {
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
	err := SafeError(errors.New(strings.Repeat("x", 400)))
	if len(err.Error()) != 256 {
		t.Fatalf("expected truncated message, got %d chars", len(err.Error()))
	}
}
