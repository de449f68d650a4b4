package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mcpforge/internal/check"
	"mcpforge/internal/forge"
	"mcpforge/internal/telemetry"
)

const (
	DefaultMaxRetries        = 2
	DefaultRetrievalK        = 2
	DefaultGenerationTimeout = 2 * time.Minute
	defaultSinkTimeout       = 10 * time.Second
)

// Attempter runs one build+run attempt.
// Production: *supervisor.Supervisor
type Attempter interface {
	Attempt(ctx context.Context, art forge.Artifact, name string) forge.Outcome
}

type Config struct {
	// MaxRetries is R: a query performs at most R+1 attempts.
	MaxRetries        int
	RetrievalK        int
	GenerationTimeout time.Duration
	// LogLimit bounds each history entry's logs in regeneration requests.
	LogLimit int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = DefaultRetrievalK
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	if c.LogLimit <= 0 {
		c.LogLimit = forge.DefaultLogLimit
	}
	return c
}

// Result is the terminal state of one query.
type Result struct {
	QueryID     string
	Query       string
	Phase       forge.QueryPhase
	Name        string
	Descriptors []forge.Descriptor
	// Artifact is the last artifact attempted, or the last one generated
	// when no attempt ran.
	Artifact   forge.Artifact
	Logs       string
	Endpoint   string
	Deployment *forge.Deployment
	Attempts   int
	// History holds one record per failed attempt, ascending.
	History []forge.AttemptRecord
	Err     error
}

// Coordinator drives the retrieve, generate, attempt, regenerate loop. It
// holds no per-query state; each Run is an independent sequential loop.
type Coordinator struct {
	retriever  forge.Retriever
	generator  forge.Generator
	attempter  Attempter
	cfg        Config
	classifier Classifier
	sinks      []ResultSink
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	clock      forge.Clock
	log        *slog.Logger
}

type Option func(*Coordinator)

func WithClassifier(c Classifier) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.classifier = c
		}
	}
}

func WithSinks(sinks ...ResultSink) Option {
	return func(co *Coordinator) { co.sinks = append(co.sinks, sinks...) }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(co *Coordinator) { co.tracer = t }
}

func WithClock(c forge.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

func New(retriever forge.Retriever, generator forge.Generator, attempter Attempter, cfg Config, opts ...Option) (*Coordinator, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if attempter == nil {
		return nil, fmt.Errorf("attempter is required")
	}
	c := &Coordinator{
		retriever:  retriever,
		generator:  generator,
		attempter:  attempter,
		cfg:        cfg.withDefaults(),
		classifier: ClassifierFunc(func(context.Context, forge.AttemptRecord, forge.Outcome) (Decision, error) { return Regenerate, nil }),
		clock:      forge.RealClock{},
		log:        slog.With("component", "coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Handle runs query and renders the response.
func (c *Coordinator) Handle(ctx context.Context, query string) Response {
	return NewResponse(c.Run(ctx, query))
}

// Run drives one query to a terminal phase. An empty query is rejected before
// retrieval.
func (c *Coordinator) Run(ctx context.Context, query string) Result {
	q := &queryRun{
		Coordinator: c,
		res: Result{
			QueryID: uuid.NewString(),
			Query:   query,
			Phase:   forge.PhaseRetrieving,
		},
	}
	q.log = c.log.With("query_id", q.res.QueryID)

	if strings.TrimSpace(query) == "" {
		q.fail(forge.ErrEmptyQuery)
		c.finish(ctx, q.res)
		return q.res
	}

	q.op = c.startOperation(ctx, q.res.QueryID)
	if q.op != nil {
		ctx = q.op.Context()
	}
	q.run(ctx)
	q.op.SetAttributes(
		attribute.String("mcpforge.phase", q.res.Phase.String()),
		attribute.Int("mcpforge.attempts", q.res.Attempts),
	)
	q.op.End(q.res.Err)

	c.finish(ctx, q.res)
	return q.res
}

type queryRun struct {
	*Coordinator
	res Result
	op  *telemetry.Operation
	log *slog.Logger
}

func (q *queryRun) run(ctx context.Context) {
	var docs []forge.Descriptor
	err := q.op.RunStep(ctx, "retrieve", func(ctx context.Context) error {
		var err error
		docs, err = q.retriever.Retrieve(ctx, q.res.Query, q.cfg.RetrievalK)
		if err != nil {
			return &forge.RetrievalError{Query: q.res.Query, Err: err}
		}
		if len(docs) == 0 {
			return &forge.RetrievalError{Query: q.res.Query, Err: forge.ErrNoMatch}
		}
		return nil
	})
	if err != nil {
		q.fail(err)
		return
	}
	q.res.Descriptors = docs
	q.res.Name = docs[0].Name
	q.log = q.log.With("adapter", q.res.Name)
	q.log.Info("descriptors retrieved", "count", len(docs))

	if !q.advance(forge.PhaseGenerating) {
		return
	}
	var art forge.Artifact
	err = q.op.RunStep(ctx, "generate", func(ctx context.Context) error {
		genCtx, cancel := context.WithTimeout(ctx, q.cfg.GenerationTimeout)
		defer cancel()
		var err error
		art, err = q.generator.Generate(genCtx, q.res.Query, docs)
		if err != nil {
			return &forge.GenerationError{Op: "generate", Err: err}
		}
		return nil
	})
	if err != nil {
		q.fail(err)
		return
	}
	q.res.Artifact = art

	for n := 1; ; n++ {
		if !q.advance(forge.PhaseAttempting) {
			return
		}
		check.Assertf(n <= q.cfg.MaxRetries+1, "attempt %d exceeds bound %d", n, q.cfg.MaxRetries+1)
		out := q.attempt(ctx, n, art)
		q.res.Attempts = n
		q.res.Artifact = art

		if out.Succeeded() {
			q.res.Logs = out.Logs
			q.res.Endpoint = out.Endpoint
			q.res.Deployment = out.Deployment
			q.advance(forge.PhaseSucceeded)
			q.log.Info("query succeeded", "attempts", n, "endpoint", out.Endpoint)
			return
		}

		rec := forge.AttemptRecord{
			AttemptNumber: n,
			Artifact:      art.Clone(),
			Status:        out.Status,
			Logs:          out.Logs,
			Timestamp:     q.clock.Now(),
		}
		q.res.History = append(q.res.History, rec)
		q.res.Logs = out.Logs
		q.log.Info("attempt failed", "attempt", n, "status", out.Status, "err", out.Err)

		if err := ctx.Err(); err != nil {
			q.fail(fmt.Errorf("query cancelled after attempt %d: %w", n, err))
			return
		}
		decision, err := q.classifier.Classify(ctx, rec, out)
		if decision == Abort {
			if err == nil {
				err = fmt.Errorf("attempt %d aborted: %w", n, out.Err)
			}
			q.fail(err)
			return
		}
		if n > q.cfg.MaxRetries {
			q.res.Err = out.Err
			q.advance(forge.PhaseExhausted)
			q.log.Info("attempts exhausted", "attempts", n)
			return
		}

		if !q.advance(forge.PhaseRegenerating) {
			return
		}
		next, err := q.regenerate(ctx, n+1, docs, art)
		if err != nil {
			q.fail(err)
			return
		}
		art = next
	}
}

func (q *queryRun) attempt(ctx context.Context, n int, art forge.Artifact) forge.Outcome {
	start := time.Now()
	var out forge.Outcome
	_ = q.op.RunStep(ctx, fmt.Sprintf("attempt-%d", n), func(ctx context.Context) error {
		out = q.attempter.Attempt(ctx, art, q.res.Name)
		return out.Err
	})
	q.metrics.ObserveAttempt(out.Status, time.Since(start))
	return out
}

func (q *queryRun) regenerate(ctx context.Context, n int, docs []forge.Descriptor, previous forge.Artifact) (forge.Artifact, error) {
	failures := make([]forge.AttemptRecord, len(q.res.History))
	for i, rec := range q.res.History {
		failures[i] = rec.Truncated(q.cfg.LogLimit)
	}
	check.Assertf(len(failures) == n-1, "regeneration %d got %d failure records", n, len(failures))
	q.metrics.ObserveRegeneration()

	var art forge.Artifact
	err := q.op.RunStep(ctx, fmt.Sprintf("regenerate-%d", n), func(ctx context.Context) error {
		genCtx, cancel := context.WithTimeout(ctx, q.cfg.GenerationTimeout)
		defer cancel()
		var err error
		art, err = q.generator.Regenerate(genCtx, q.res.Query, docs, previous.Clone(), failures)
		if err != nil {
			return &forge.GenerationError{Op: "regenerate", Err: err}
		}
		return nil
	})
	return art, err
}

// advance moves to the next phase. A rejected transition ends the query as
// FatalError.
func (q *queryRun) advance(to forge.QueryPhase) bool {
	next, err := q.res.Phase.Transition(to)
	if err != nil {
		q.log.Error("phase transition rejected", "err", err)
		q.res.Phase = forge.PhaseFatalError
		if q.res.Err == nil {
			q.res.Err = err
		}
		return false
	}
	q.log.Debug("phase", "from", q.res.Phase, "to", next)
	q.res.Phase = next
	return true
}

func (q *queryRun) fail(err error) {
	q.res.Err = err
	if !q.res.Phase.IsTerminal() {
		q.res.Phase = forge.PhaseFatalError
	}
	q.log.Warn("query failed", "err", err)
}

func (c *Coordinator) startOperation(ctx context.Context, queryID string) *telemetry.Operation {
	if c.tracer == nil {
		return nil
	}
	op, err := telemetry.EmitPlan(ctx, c.tracer, "query", telemetry.AttemptPlan(c.cfg.MaxRetries+1),
		attribute.String("mcpforge.query_id", queryID))
	if err != nil {
		c.log.Debug("emit query plan", "err", err)
		return nil
	}
	return op
}

// finish records metrics and hands the result to every sink. Sinks run after
// the caller's context may have ended.
func (c *Coordinator) finish(ctx context.Context, res Result) {
	c.metrics.ObserveQuery(outcomeLabel(res))
	if len(c.sinks) == 0 {
		return
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSinkTimeout)
	defer cancel()
	for _, sink := range c.sinks {
		if err := sink.Publish(sinkCtx, res); err != nil {
			c.log.Warn("publish result", "query_id", res.QueryID, "err", err)
		}
	}
}

func outcomeLabel(res Result) string {
	switch res.Phase {
	case forge.PhaseSucceeded:
		return StatusSuccess
	case forge.PhaseExhausted:
		return StatusFailed
	}
	switch {
	case errors.Is(res.Err, forge.ErrEmptyQuery):
		return "rejected"
	case errors.Is(res.Err, forge.ErrRetrieval):
		return "retrieval_error"
	case errors.Is(res.Err, forge.ErrGeneration):
		return "generation_error"
	case errors.Is(res.Err, forge.ErrDriverUnavailable):
		return "driver_unavailable"
	default:
		return StatusError
	}
}
