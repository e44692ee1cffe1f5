package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingOptionsFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	opts, err := TracingOptionsFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Endpoint != "collector:4317" || !opts.Insecure || opts.SampleRatio != 0.25 {
		t.Errorf("options = %+v", opts)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	if opts, _ := TracingOptionsFromEnv(); opts.Insecure {
		t.Error("insecure should be off")
	}
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "2")
	if _, err := TracingOptionsFromEnv(); err == nil {
		t.Error("expected error for ratio above 1")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing("ghostbot", "test", TracingOptions{})
	if err != nil {
		t.Fatal(err)
	}
	shutdown()
}

func TestFinish(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("test")
	ctx := WithCorrelation(context.Background(), "corr-1")

	_, ok := tracer.Start(ctx, "ok")
	Finish(ok, nil)
	_, failed := tracer.Start(ctx, "failed")
	Finish(failed, errors.New("boom"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("ok span status = %v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Errorf("failed span status = %v", spans[1].Status())
	}
}
