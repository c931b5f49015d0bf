package observability

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	logger, _ := test.NewNullLogger()

	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), providers, logger))
}

func TestSampler(t *testing.T) {
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       traceID,
		Name:          "sign-in",
	}

	assert.Equal(t, sdktrace.RecordAndSample, sampler(1).ShouldSample(params).Decision)
	assert.Equal(t, sdktrace.RecordAndSample, sampler(2).ShouldSample(params).Decision)
	assert.Equal(t, sdktrace.Drop, sampler(0).ShouldSample(params).Decision)
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestTracer(t *testing.T) {
	_, span := Tracer("portal/test").Start(context.Background(), "op")
	defer span.End()
	assert.NotNil(t, span)
}
