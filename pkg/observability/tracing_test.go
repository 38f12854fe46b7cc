package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestStartSpanFinish(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartSpan(context.Background(), "integrator.start", attribute.String("integrator", "filestream"))
	span.SetAttribute("connectors", 2)
	span.SetAttribute("names", []string{"a", "b"})
	span.Finish(errors.New("boom"))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "integrator.start", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "filestream", attrs["integrator"].AsString())
	assert.Equal(t, int64(2), attrs["connectors"].AsInt64())
	assert.Contains(t, attrs, attribute.Key("duration_ms"))
}

func TestFinishOK(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartSpan(context.Background(), "op")
	span.AddEvent("created")
	span.Finish(nil)

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, codes.Ok, rec.Ended()[0].Status().Code)
}

func TestTracingMiddleware(t *testing.T) {
	rec := withRecorder(t)

	h := TracingMiddleware("plugin-server")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plugin.tar", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, "GET /plugin.tar", rec.Ended()[0].Name())
}

func TestInitializeAndShutdown(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var out bytes.Buffer
	require.NoError(t, Initialize(TracingConfig{ServiceName: "kafkacl", SamplingRate: 1, Output: &out}))

	_, span := StartSpan(context.Background(), "exported")
	span.End()

	require.NoError(t, Shutdown(context.Background()))
	assert.Contains(t, out.String(), "exported")
	assert.NoError(t, Shutdown(context.Background()))
}
