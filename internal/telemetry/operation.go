package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	PlanEventName = "mcpforge.plan"
	PlanJSONKey   = "mcpforge.plan.json"

	stepTitleKey     = "mcpforge.step.title"
	stepUnplannedKey = "mcpforge.step.unplanned"
	stepsPlannedKey  = "mcpforge.steps.planned"
	stepsRunKey      = "mcpforge.steps.run"
)

type PlannedStep struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Plan lists the steps an operation may run, in order. It is attached to the
// root span so a trace shows which steps a query never reached.
type Plan struct {
	Steps []PlannedStep `json:"steps"`
}

// AttemptPlan lists the steps of a query allowed up to attempts build+run
// cycles.
func AttemptPlan(attempts int) Plan {
	steps := []PlannedStep{
		{ID: "retrieve", Title: "Retrieve descriptors"},
		{ID: "generate", Title: "Generate artifact"},
	}
	for n := 1; n <= attempts; n++ {
		if n > 1 {
			steps = append(steps, PlannedStep{ID: fmt.Sprintf("regenerate-%d", n), Title: fmt.Sprintf("Regenerate artifact for attempt %d", n)})
		}
		steps = append(steps, PlannedStep{ID: fmt.Sprintf("attempt-%d", n), Title: fmt.Sprintf("Build and run attempt %d", n)})
	}
	return Plan{Steps: steps}
}

func (p Plan) titles() (map[string]string, error) {
	titles := make(map[string]string, len(p.Steps))
	for i, step := range p.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return nil, fmt.Errorf("step %d has empty id", i)
		}
		if _, dup := titles[id]; dup {
			return nil, fmt.Errorf("duplicate step id %q", id)
		}
		titles[id] = step.Title
	}
	return titles, nil
}

// Operation is a root span with one child span per step. A nil *Operation
// runs steps without tracing.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
	titles map[string]string

	mu  sync.Mutex
	ran map[string]struct{}
}

// EmitPlan starts the root span for operation and records plan on it.
func EmitPlan(ctx context.Context, tracer trace.Tracer, operation string, plan Plan, attrs ...attribute.KeyValue) (*Operation, error) {
	if tracer == nil {
		return nil, fmt.Errorf("emit plan: tracer is required")
	}
	titles, err := plan.titles()
	if err != nil {
		return nil, fmt.Errorf("emit plan: %w", err)
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("emit plan: %w", err)
	}
	if operation = strings.TrimSpace(operation); operation == "" {
		operation = "operation"
	}

	attrs = append(attrs, attribute.Int(stepsPlannedKey, len(plan.Steps)))
	spanCtx, span := tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	span.AddEvent(PlanEventName, trace.WithAttributes(attribute.String(PlanJSONKey, string(planJSON))))

	return &Operation{
		ctx:    spanCtx,
		tracer: tracer,
		span:   span,
		titles: titles,
		ran:    make(map[string]struct{}, len(plan.Steps)),
	}, nil
}

// Context carries the root span. Without an operation it is Background.
func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

func (o *Operation) SetAttributes(attrs ...attribute.KeyValue) {
	if o == nil || o.span == nil {
		return
	}
	o.span.SetAttributes(attrs...)
}

// RunStep runs fn inside a child span named id. Steps missing from the plan
// still run and are marked unplanned.
func (o *Operation) RunStep(ctx context.Context, id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	var attr attribute.KeyValue
	if title, ok := o.titles[id]; ok {
		attr = attribute.String(stepTitleKey, title)
	} else {
		attr = attribute.Bool(stepUnplannedKey, true)
	}
	o.mu.Lock()
	o.ran[id] = struct{}{}
	o.mu.Unlock()

	stepCtx, span := o.tracer.Start(ctx, id, trace.WithAttributes(attr))
	defer span.End()

	if err := fn(stepCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// End closes the root span, recording how many distinct steps ran.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	o.mu.Lock()
	ran := len(o.ran)
	o.mu.Unlock()
	o.span.SetAttributes(attribute.Int(stepsRunKey, ran))
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}
