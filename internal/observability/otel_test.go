package observability

import (
	"context"
	"testing"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

func TestOtelConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-tenant=bf, broken ,=nokey")
	t.Setenv("OTEL_SAMPLER_RATIO", "3")
	t.Setenv("OTEL_TRACES_EXPORTER", "")

	cfg := OtelConfigFromEnv("botforge", "test", "v1")
	if !cfg.Enabled || cfg.Exporter != ExporterOTLP {
		t.Fatalf("expected enabled otlp, got %+v", cfg)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("expected ratio clamped to 1 got %v", cfg.SampleRatio)
	}
	if len(cfg.Headers) != 1 || cfg.Headers["x-tenant"] != "bf" {
		t.Fatalf("unexpected headers %v", cfg.Headers)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if got := OtelConfigFromEnv("", "", "").Exporter; got != ExporterStdout {
		t.Fatalf("expected stdout fallback got %q", got)
	}
}

func TestInitOTelDisabledIsNoop(t *testing.T) {
	shutdown := InitOTel(context.Background(), logger.Nop(), OtelConfig{})
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitOTelUnknownExporterStillInstallsProvider(t *testing.T) {
	shutdown := InitOTel(context.Background(), logger.Nop(), OtelConfig{Enabled: true, Exporter: "carrier-pigeon", SampleRatio: 1})
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
