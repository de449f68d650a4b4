package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestEmitPlanAndRunStepSuccess(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := EmitPlan(context.Background(), tracer, "query", AttemptPlan(2), attribute.String("mcpforge.query_id", "q1"))
	if err != nil {
		t.Fatalf("EmitPlan() error = %v", err)
	}

	if err := op.RunStep(op.Context(), "retrieve", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	op.End(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended span count = %d, want 2", len(spans))
	}

	root := findSpanByName(spans, "query")
	if root == nil {
		t.Fatal("missing root span")
	}
	if getAttr(root.Attributes(), "mcpforge.query_id") != "q1" {
		t.Fatal("extra root attributes not applied")
	}
	planEvent := root.Events()[0]
	if planEvent.Name != PlanEventName {
		t.Fatalf("plan event name = %q, want %q", planEvent.Name, PlanEventName)
	}

	child := findSpanByName(spans, "retrieve")
	if child == nil {
		t.Fatal("missing child step span")
	}
	if child.Parent().SpanID() != root.SpanContext().SpanID() {
		t.Fatalf("step parent span id = %s, want %s", child.Parent().SpanID(), root.SpanContext().SpanID())
	}
}

func TestRunStepFailureSetsErrorStatus(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := EmitPlan(context.Background(), tracer, "query", AttemptPlan(1))
	if err != nil {
		t.Fatalf("EmitPlan() error = %v", err)
	}

	boom := errors.New("boom")
	err = op.RunStep(op.Context(), "attempt-1", func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunStep() error = %v, want boom", err)
	}
	op.End(err)

	child := findSpanByName(recorder.Ended(), "attempt-1")
	if child == nil {
		t.Fatal("missing failed step span")
	}
	if child.Status().Code != codes.Error || child.Status().Description != "boom" {
		t.Fatalf("step status = %+v", child.Status())
	}
}

func TestNilOperationRunsSteps(t *testing.T) {
	var op *Operation
	ran := false
	if err := op.RunStep(context.Background(), "x", func(context.Context) error { ran = true; return nil }); err != nil {
		t.Fatal(err)
	}
	op.End(errors.New("ignored"))
	if !ran {
		t.Fatal("step did not run")
	}
}

func TestAttemptPlan(t *testing.T) {
	plan := AttemptPlan(3)
	want := []string{"retrieve", "generate", "attempt-1", "regenerate-2", "attempt-2", "regenerate-3", "attempt-3"}
	if len(plan.Steps) != len(want) {
		t.Fatalf("steps = %+v", plan.Steps)
	}
	for i, id := range want {
		if plan.Steps[i].ID != id {
			t.Fatalf("step %d = %q, want %q", i, plan.Steps[i].ID, id)
		}
	}
	if _, err := plan.titles(); err != nil {
		t.Fatal(err)
	}
}

func TestStepAttributesAndRunCount(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := EmitPlan(context.Background(), tracer, "query", AttemptPlan(2))
	if err != nil {
		t.Fatal(err)
	}
	noop := func(context.Context) error { return nil }
	_ = op.RunStep(op.Context(), "retrieve", noop)
	_ = op.RunStep(op.Context(), "retrieve", noop)
	_ = op.RunStep(op.Context(), "cleanup", noop)
	op.End(nil)

	spans := recorder.Ended()
	root := findSpanByName(spans, "query")
	if got := getInt(root.Attributes(), stepsPlannedKey); got != 5 {
		t.Fatalf("planned = %d, want 5", got)
	}
	if got := getInt(root.Attributes(), stepsRunKey); got != 2 {
		t.Fatalf("run = %d, want 2 distinct steps", got)
	}
	if getAttr(findSpanByName(spans, "retrieve").Attributes(), stepTitleKey) != "Retrieve descriptors" {
		t.Fatal("planned step missing its title")
	}
	unplanned := findSpanByName(spans, "cleanup")
	found := false
	for _, a := range unplanned.Attributes() {
		if string(a.Key) == stepUnplannedKey && a.Value.AsBool() {
			found = true
		}
	}
	if !found {
		t.Fatal("unplanned step not marked")
	}
}

func TestEmitPlanValidationFailure(t *testing.T) {
	t.Parallel()

	tracer, _ := newTestTracer()
	_, err := EmitPlan(context.Background(), tracer, "query", Plan{Steps: []PlannedStep{
		{ID: "retrieve", Title: "retrieve"},
		{ID: "retrieve", Title: "duplicated"},
	}})
	if err == nil {
		t.Fatal("EmitPlan() error = nil, want duplicate id error")
	}
}

func newTestTracer() (trace.Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return provider.Tracer("telemetry-test"), recorder
}

func findSpanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, span := range spans {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

func getInt(attrs []attribute.KeyValue, key string) int64 {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsInt64()
		}
	}
	return -1
}

func getAttr(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}
