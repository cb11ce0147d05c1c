package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/yungbote/botforge-backend/internal/platform/envutil"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

// Trace exporters selectable through OTEL_TRACES_EXPORTER.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string

	Enabled     bool
	Exporter    string
	Endpoint    string
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

// OtelConfigFromEnv fills the exporter settings from OTEL_* variables. The
// exporter defaults to otlp when an endpoint is set and stdout otherwise.
func OtelConfigFromEnv(serviceName, environment, version string) OtelConfig {
	cfg := OtelConfig{
		ServiceName: serviceName,
		Environment: environment,
		Version:     version,
		Enabled:     envutil.Bool("OTEL_ENABLED", false),
		Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Headers:     parseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
		Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		SampleRatio: clampRatio(envutil.Float("OTEL_SAMPLER_RATIO", 0.1)),
	}
	cfg.Exporter = strings.ToLower(envutil.String("OTEL_TRACES_EXPORTER", ""))
	if cfg.Exporter == "" {
		cfg.Exporter = ExporterStdout
		if cfg.Endpoint != "" {
			cfg.Exporter = ExporterOTLP
		}
	}
	return cfg
}

// InitOTel installs the global tracer provider and propagator. Tracing is a
// no-op when disabled; exporter failures degrade to an unexported provider so
// spans in the ingestion pipeline still carry trace ids into logs.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "botforge"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
		attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
	))
	if err != nil {
		log.Warn("otel resource incomplete", "error", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	}
	exporter, err := newExporter(ctx, cfg)
	switch {
	case err != nil:
		log.Warn("otel exporter unavailable, spans will not be exported", "exporter", cfg.Exporter, "error", err)
	case exporter != nil:
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	log.Info("otel tracing initialized", "service", serviceName, "exporter", cfg.Exporter, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown
}

func newExporter(ctx context.Context, cfg OtelConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required for the otlp exporter")
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

func clampRatio(f float64) float64 {
	return min(max(f, 0), 1)
}

// parseHeaders reads "k1=v1,k2=v2"; malformed pairs are skipped.
func parseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			headers[k] = v
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}
