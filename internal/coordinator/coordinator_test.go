package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mcpforge/internal/adapter/fake"
	"mcpforge/internal/adapter/fake/fault"
	"mcpforge/internal/forge"
	"mcpforge/internal/staging"
	"mcpforge/internal/supervisor"
)

var filesystemDoc = forge.Descriptor{
	Name:             "mcp-filesystem",
	Description:      "Read and write files in a sandboxed directory.",
	InstallationType: forge.InstallInterpreted,
}

func goodPackage(tag string) forge.Artifact {
	return forge.PackageArtifact(map[string]string{
		"Dockerfile":    "FROM python:3.11-slim\n# " + tag + "\nCOPY . /app\nCMD [\"/app/entrypoint.sh\"]\n",
		"entrypoint.sh": "#!/bin/sh\nexec python -m http.server 8080\n",
	})
}

type harness struct {
	retriever *fake.Retriever
	generator *fake.Generator
	driver    *fake.ContainerDriver
	coord     *Coordinator
}

func newHarness(t *testing.T, cfg Config, artifacts []forge.Artifact, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		retriever: fake.NewRetriever(filesystemDoc),
		generator: fake.NewGenerator(artifacts...),
		driver:    fake.NewContainerDriver(),
	}
	h.driver.Faults = fault.NewInjector()
	sup, err := supervisor.New(h.driver, staging.NewStore(t.TempDir()), supervisor.Config{},
		supervisor.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithClock(fake.NewTickingClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Second))}, opts...)
	h.coord, err = New(h.retriever, h.generator, sup, cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// scriptedAttempter returns outcomes in order, repeating the last.
type scriptedAttempter struct {
	mu       sync.Mutex
	outcomes []forge.Outcome
	calls    int
}

func (s *scriptedAttempter) Attempt(context.Context, forge.Artifact, string) forge.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.outcomes)-1)
	s.calls++
	return s.outcomes[i]
}

func buildFailure(logs string) forge.Outcome {
	err := &forge.BuildError{Logs: logs}
	return forge.Outcome{Status: forge.StatusBuildError, Logs: logs, Err: err}
}

func success() forge.Outcome {
	return forge.Outcome{
		Status:     forge.StatusSuccess,
		Logs:       "Successfully built",
		Endpoint:   "http://localhost:49153",
		Deployment: &forge.Deployment{ContainerID: "abc", Status: forge.DeploymentRunning},
	}
}

func TestEmptyQueryRejectedBeforeRetrieval(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2}, nil)

	for _, q := range []string{"", "   \n\t"} {
		resp := h.coord.Handle(t.Context(), q)
		if resp.Status != StatusError {
			t.Fatalf("status = %q, want error", resp.Status)
		}
	}
	if h.retriever.Count("Retrieve") != 0 {
		t.Fatal("retrieval invoked for empty query")
	}
	res := h.coord.Run(t.Context(), "")
	if !errors.Is(res.Err, forge.ErrEmptyQuery) || res.Phase != forge.PhaseFatalError {
		t.Fatalf("result = %+v", res)
	}
}

func TestNoMatchIsImmediateError(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2}, nil)
	h.retriever.Docs = nil

	res := h.coord.Run(t.Context(), "deploy the filesystem tool")
	if res.Phase != forge.PhaseFatalError || !errors.Is(res.Err, forge.ErrNoMatch) || !errors.Is(res.Err, forge.ErrRetrieval) {
		t.Fatalf("result phase = %s, err = %v", res.Phase, res.Err)
	}
	if res.Attempts != 0 || len(res.History) != 0 {
		t.Fatalf("attempts recorded: %d, %d", res.Attempts, len(res.History))
	}
	if h.generator.Count("Generate") != 0 || h.driver.Count("Build") != 0 {
		t.Fatalf("loop continued past empty retrieval: gen=%d build=%d", h.generator.Count("Generate"), h.driver.Count("Build"))
	}
	resp := NewResponse(res)
	if resp.Status != StatusError || resp.Message == "" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestRetrievalBackendErrorIsFatal(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.retriever.RetrieveErr = func(context.Context, string, int) error { return errors.New("index offline") }

	res := h.coord.Run(t.Context(), "deploy git")
	if !errors.Is(res.Err, forge.ErrRetrieval) || res.Phase != forge.PhaseFatalError {
		t.Fatalf("result = %s, %v", res.Phase, res.Err)
	}
	if !strings.Contains(res.Err.Error(), "index offline") {
		t.Fatalf("context lost: %v", res.Err)
	}
}

func TestRetrievalUsesConfiguredK(t *testing.T) {
	h := newHarness(t, Config{RetrievalK: 3}, []forge.Artifact{goodPackage("a")})
	h.coord.Run(t.Context(), "deploy")
	call := h.retriever.Calls("Retrieve")[0]
	if call.Args[1] != 3 {
		t.Fatalf("k = %v, want 3", call.Args[1])
	}
}

func TestScenarioFirstTrySuccess(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2}, []forge.Artifact{goodPackage("v1")})

	resp := h.coord.Handle(t.Context(), "deploy the filesystem tool")
	if resp.Status != StatusSuccess || resp.Name != "mcp-filesystem" || resp.Attempts != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Endpoint == "" || resp.Artifact == nil || resp.Logs == "" || resp.ContainerID == "" {
		t.Fatalf("success payload incomplete: %+v", resp)
	}
	if resp.ErrorHistory != nil {
		t.Fatal("success payload must not carry errorHistory")
	}
	if h.generator.Count("Regenerate") != 0 {
		t.Fatal("regeneration on first-try success")
	}
	if len(h.driver.Live()) != 1 {
		t.Fatalf("deployment not handed off: %v", h.driver.Live())
	}
}

func TestScenarioBuildFailsThenSucceeds(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2}, []forge.Artifact{goodPackage("v1"), goodPackage("v2")})
	missing := "ERROR: Could not find a version that satisfies the requirement mcp-server-filesystem"
	h.driver.Faults.FailOnce(fault.PointBuild, &forge.BuildError{Logs: missing})

	resp := h.coord.Handle(t.Context(), "deploy the filesystem tool")
	if resp.Status != StatusSuccess || resp.Attempts != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.ErrorHistory != nil {
		t.Fatal("success payload must not carry errorHistory")
	}
	if !strings.Contains(resp.Artifact.Files["Dockerfile"], "v2") {
		t.Fatal("response must carry the final artifact")
	}

	hist := h.generator.Histories()
	if len(hist) != 1 || len(hist[0]) != 1 {
		t.Fatalf("histories = %+v", hist)
	}
	rec := hist[0][0]
	if rec.AttemptNumber != 1 || rec.Status != forge.StatusBuildError || !strings.Contains(rec.Logs, "Could not find a version") {
		t.Fatalf("failure record = %+v", rec)
	}
	if !strings.Contains(rec.Artifact.Files["Dockerfile"], "v1") {
		t.Fatal("failure record must snapshot the failing artifact")
	}
}

func TestScenarioExhausted(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 1}, []forge.Artifact{goodPackage("v1"), goodPackage("v2")})
	h.driver.Faults.FailAlways(fault.PointBuild, &forge.BuildError{Logs: "executor failed running [/bin/sh -c pip install]"})

	resp := h.coord.Handle(t.Context(), "deploy the filesystem tool")
	if resp.Status != StatusFailed || resp.TotalAttempts != 2 || len(resp.ErrorHistory) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Artifact == nil || !strings.Contains(resp.Artifact.Files["Dockerfile"], "v2") {
		t.Fatal("exhausted payload must carry the final failing artifact")
	}
	if !strings.Contains(resp.ErrorDetails, "executor failed") {
		t.Fatalf("errorDetails = %q", resp.ErrorDetails)
	}
	for i, rec := range resp.ErrorHistory {
		if rec.AttemptNumber != i+1 || rec.Status != forge.StatusBuildError {
			t.Fatalf("history[%d] = %+v", i, rec)
		}
	}
	if h.driver.Count("Run") != 0 {
		t.Fatal("containers created despite build failures")
	}
}

func TestAttemptBoundForAllR(t *testing.T) {
	for r := 0; r <= 4; r++ {
		gen := fake.NewGenerator(goodPackage("x"))
		att := &scriptedAttempter{outcomes: []forge.Outcome{buildFailure("boom")}}
		c, err := New(fake.NewRetriever(filesystemDoc), gen, att, Config{MaxRetries: r})
		if err != nil {
			t.Fatal(err)
		}

		res := c.Run(t.Context(), "deploy")
		if res.Phase != forge.PhaseExhausted {
			t.Fatalf("R=%d: phase = %s", r, res.Phase)
		}
		if att.calls != r+1 || len(res.History) != r+1 || res.Attempts != r+1 {
			t.Fatalf("R=%d: attempts = %d, records = %d", r, att.calls, len(res.History))
		}

		hist := gen.Histories()
		if len(hist) != r {
			t.Fatalf("R=%d: regenerations = %d", r, len(hist))
		}
		for i, failures := range hist {
			// Regeneration for attempt N sees N-1 failures, ascending.
			attemptN := i + 2
			if len(failures) != attemptN-1 {
				t.Fatalf("R=%d: history for attempt %d has %d entries", r, attemptN, len(failures))
			}
			for j, rec := range failures {
				if rec.AttemptNumber != j+1 {
					t.Fatalf("R=%d: history out of order: %+v", r, failures)
				}
			}
		}
	}
}

func TestSuccessAtEarlierAttemptHasFewerRecords(t *testing.T) {
	const r = 3
	att := &scriptedAttempter{outcomes: []forge.Outcome{buildFailure("a"), buildFailure("b"), success()}}
	c, err := New(fake.NewRetriever(filesystemDoc), fake.NewGenerator(goodPackage("x")), att, Config{MaxRetries: r})
	if err != nil {
		t.Fatal(err)
	}

	res := c.Run(t.Context(), "deploy")
	if res.Phase != forge.PhaseSucceeded || res.Attempts != 3 || len(res.History) != 2 {
		t.Fatalf("phase = %s, attempts = %d, records = %d", res.Phase, res.Attempts, len(res.History))
	}
}

func TestMalformedPackageNeverRunsContainer(t *testing.T) {
	noBuildFile := forge.PackageArtifact(map[string]string{"entrypoint.sh": "#!/bin/sh\n"})
	h := newHarness(t, Config{MaxRetries: 1}, []forge.Artifact{noBuildFile})

	res := h.coord.Run(t.Context(), "deploy")
	if res.Phase != forge.PhaseExhausted {
		t.Fatalf("phase = %s", res.Phase)
	}
	for _, rec := range res.History {
		if rec.Status != forge.StatusBuildError {
			t.Fatalf("record status = %s, want build_error", rec.Status)
		}
	}
	if h.driver.Count("Run") != 0 || h.driver.Count("Build") != 0 {
		t.Fatalf("driver used for malformed package: %v", h.driver.Methods())
	}
}

func TestGenerationFailureIsFatal(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2}, nil)
	h.generator.GenerateErr = func(context.Context, string, []forge.Descriptor) error {
		return errors.New("overloaded")
	}

	res := h.coord.Run(t.Context(), "deploy")
	if res.Phase != forge.PhaseFatalError || !errors.Is(res.Err, forge.ErrGeneration) {
		t.Fatalf("phase = %s, err = %v", res.Phase, res.Err)
	}
	if res.Attempts != 0 || h.driver.Count("Build") != 0 {
		t.Fatal("attempt made without an artifact")
	}
}

func TestRegenerationFailureIsFatalWithoutExtraAttempt(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3}, []forge.Artifact{goodPackage("v1")})
	h.driver.Faults.FailAlways(fault.PointBuild, &forge.BuildError{Logs: "bad"})
	h.generator.RegenerateErr = func(context.Context, string, forge.Artifact, []forge.AttemptRecord) error {
		return errors.New("rate limited")
	}

	res := h.coord.Run(t.Context(), "deploy")
	if res.Phase != forge.PhaseFatalError || !errors.Is(res.Err, forge.ErrGeneration) {
		t.Fatalf("phase = %s, err = %v", res.Phase, res.Err)
	}
	if res.Attempts != 1 || h.driver.Count("Build") != 1 {
		t.Fatalf("attempts = %d, builds = %d", res.Attempts, h.driver.Count("Build"))
	}

	resp := NewResponse(res)
	if resp.Status != StatusError || resp.Artifact == nil || len(resp.ErrorHistory) != 1 {
		t.Fatalf("fatal response must keep artifact and history: %+v", resp)
	}
	if !strings.Contains(resp.Message, "rate limited") {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestDriverUnavailableFailsFast(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3}, []forge.Artifact{goodPackage("v1")})
	h.driver.Faults.FailAlways(fault.PointBuild, &forge.TransportError{Op: "build image", Err: errors.New("dial unix /var/run/docker.sock: connect: no such file")})
	h.driver.Faults.FailAlways(fault.PointPing, forge.ErrDriverUnavailable)
	h.coord.classifier = DriverProbe{Driver: h.driver}

	res := h.coord.Run(t.Context(), "deploy")
	if res.Phase != forge.PhaseFatalError || !errors.Is(res.Err, forge.ErrDriverUnavailable) {
		t.Fatalf("phase = %s, err = %v", res.Phase, res.Err)
	}
	if res.Attempts != 1 || len(res.History) != 1 || res.History[0].Status != forge.StatusTransportError {
		t.Fatalf("attempts = %d, history = %+v", res.Attempts, res.History)
	}
	if h.generator.Count("Regenerate") != 0 {
		t.Fatal("regenerated against an unavailable driver")
	}
}

func TestTransientTransportErrorRegenerates(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2}, []forge.Artifact{goodPackage("v1")})
	h.driver.Faults.FailOnce(fault.PointBuild, &forge.TransportError{Op: "build image", Err: errors.New("unexpected EOF")})
	h.coord.classifier = DriverProbe{Driver: h.driver}

	res := h.coord.Run(t.Context(), "deploy")
	if res.Phase != forge.PhaseSucceeded || res.Attempts != 2 {
		t.Fatalf("phase = %s, attempts = %d", res.Phase, res.Attempts)
	}
}

func TestRegenerationLogsAreTruncated(t *testing.T) {
	long := strings.Repeat("x", 2000) + "the real error"
	att := &scriptedAttempter{outcomes: []forge.Outcome{buildFailure(long), success()}}
	gen := fake.NewGenerator(goodPackage("x"))
	c, err := New(fake.NewRetriever(filesystemDoc), gen, att, Config{MaxRetries: 1, LogLimit: 100})
	if err != nil {
		t.Fatal(err)
	}

	res := c.Run(t.Context(), "deploy")
	if res.Phase != forge.PhaseSucceeded {
		t.Fatalf("phase = %s", res.Phase)
	}
	sent := gen.Histories()[0][0].Logs
	if len([]rune(sent)) > 100+len("[truncated] ") || !strings.HasSuffix(sent, "the real error") {
		t.Fatalf("regeneration logs = %d chars: %q", len(sent), sent[len(sent)-20:])
	}
	if res.History[0].Logs != long {
		t.Fatal("result history must keep raw logs")
	}
}

func TestCancellationReleasesStartingContainer(t *testing.T) {
	retriever := fake.NewRetriever(filesystemDoc)
	gen := fake.NewGenerator(goodPackage("v1"))
	driver := fake.NewContainerDriver()
	ctx, cancel := context.WithCancel(t.Context())
	sup, err := supervisor.New(driver, staging.NewStore(t.TempDir()), supervisor.Config{},
		supervisor.WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}))
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(retriever, gen, sup, Config{MaxRetries: 3})
	if err != nil {
		t.Fatal(err)
	}

	res := c.Run(ctx, "deploy")
	if res.Phase != forge.PhaseFatalError || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("phase = %s, err = %v", res.Phase, res.Err)
	}
	if len(driver.Live()) != 0 {
		t.Fatalf("cancelled query orphaned containers: %v", driver.Live())
	}
	if gen.Count("Regenerate") != 0 {
		t.Fatal("regenerated after cancellation")
	}
}

type recordingSink struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (s *recordingSink) Publish(_ context.Context, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return s.err
}

func TestSinksReceiveTerminalResults(t *testing.T) {
	ok := &recordingSink{}
	broken := &recordingSink{err: errors.New("nats: no servers available")}
	h := newHarness(t, Config{}, []forge.Artifact{goodPackage("v1")}, WithSinks(broken, ok))

	resp := h.coord.Handle(t.Context(), "deploy")
	if resp.Status != StatusSuccess {
		t.Fatalf("sink failure changed response: %+v", resp)
	}
	if len(ok.results) != 1 || ok.results[0].Phase != forge.PhaseSucceeded {
		t.Fatalf("sink results = %+v", ok.results)
	}

	h.coord.Handle(t.Context(), "")
	if len(ok.results) != 2 || ok.results[1].Phase != forge.PhaseFatalError {
		t.Fatal("rejected queries must reach sinks too")
	}
}

func TestConcurrentQueriesShareDriver(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 1}, []forge.Artifact{goodPackage("v1")})

	const n = 8
	var wg sync.WaitGroup
	resps := make([]Response, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resps[i] = h.coord.Handle(t.Context(), "deploy the filesystem tool")
		}()
	}
	wg.Wait()

	ids := map[string]bool{}
	for i, resp := range resps {
		if resp.Status != StatusSuccess {
			t.Fatalf("query %d: %+v", i, resp)
		}
		ids[resp.QueryID] = true
	}
	if len(ids) != n || len(h.driver.Live()) != n {
		t.Fatalf("query ids = %d, live containers = %d", len(ids), len(h.driver.Live()))
	}
}

func TestResponseJSONShape(t *testing.T) {
	res := Result{
		QueryID:  "q",
		Phase:    forge.PhaseExhausted,
		Name:     "mcp-git",
		Artifact: goodPackage("v2"),
		Attempts: 2,
		History: []forge.AttemptRecord{
			{AttemptNumber: 1, Artifact: forge.ScriptArtifact("a"), Status: forge.StatusBuildError, Logs: "x"},
			{AttemptNumber: 2, Artifact: forge.ScriptArtifact("b"), Status: forge.StatusRuntimeError, Logs: "y"},
		},
	}
	data, err := json.Marshal(NewResponse(res))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"status", "name", "errorDetails", "artifact", "errorHistory", "totalAttempts"} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing %q in %s", key, data)
		}
	}
	for _, key := range []string{"endpoint", "attempts", "message"} {
		if _, ok := got[key]; ok {
			t.Errorf("unexpected %q in failed payload", key)
		}
	}
	if got["status"] != "failed" || got["totalAttempts"] != float64(2) {
		t.Fatalf("payload = %s", data)
	}
	hist := got["errorHistory"].([]any)
	if hist[1].(map[string]any)["status"] != "runtime_error" {
		t.Fatalf("history status = %v", hist[1])
	}
}

func TestNewRequiresPorts(t *testing.T) {
	if _, err := New(nil, fake.NewGenerator(), &scriptedAttempter{}, Config{}); err == nil {
		t.Fatal("expected error for nil retriever")
	}
	if _, err := New(fake.NewRetriever(), nil, &scriptedAttempter{}, Config{}); err == nil {
		t.Fatal("expected error for nil generator")
	}
	if _, err := New(fake.NewRetriever(), fake.NewGenerator(), nil, Config{}); err == nil {
		t.Fatal("expected error for nil attempter")
	}
}
