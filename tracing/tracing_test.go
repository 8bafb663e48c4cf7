package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/approver/model"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("approver", "0.0.1", exporter))

	ctx, parent := StartSpan(context.Background(), "orchestrator.ProcessAction", KindInternal)
	parent.WithAttributes(map[string]string{"transactionId": "t1"})
	_, child := StartSpan(ctx, "store.ConditionalUpdateStep", KindClient)
	EndSpan(child, model.NewError(model.KindConflict, "ProcessAction", "lost race"))
	EndSpan(parent, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "store.ConditionalUpdateStep", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	var kind string
	for _, attr := range spans[0].Attributes {
		if attr.Key == "approval.error_kind" {
			kind = attr.Value.AsString()
		}
	}
	assert.Equal(t, "Conflict", kind)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
	require.NoError(t, Shutdown(context.Background()))
}
