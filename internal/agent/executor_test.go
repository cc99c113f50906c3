package agent

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/queue"
	"github.com/drover-ai/drover/internal/session"
)

// fakeRunner returns scripted responses in order and records every spec.
type fakeRunner struct {
	mu        sync.Mutex
	responses []fakeResponse
	specs     []CommandSpec
}

type fakeResponse struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, spec CommandSpec) (string, string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if len(f.responses) == 0 {
		return "", "", 0, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.stdout, r.stderr, r.exitCode, r.err
}

func (f *fakeRunner) spec(i int) CommandSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[i]
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

// memorySink collects invocation records in memory.
type memorySink struct {
	mu   sync.Mutex
	recs []*Record
}

func (m *memorySink) Record(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		Command:           "claude",
		Model:             "claude-sonnet-4-5",
		FallbackModel:     "claude-haiku-4-5",
		MaxTurns:          30,
		SessionTokenLimit: 120000,
	}
}

func newTestExecutor(t *testing.T, runner Runner, sinks ...RecordSink) (*Executor, *session.Store) {
	t.Helper()
	dir := t.TempDir()
	store := session.NewStore(filepath.Join(dir, "sessions.json"))
	estimator := session.NewEstimator(filepath.Join(dir, "projects"))
	rotator := session.NewRotator(store, estimator, 120000)
	e := NewExecutor(testAgentConfig(), dir, store, rotator, queue.New(), sinks...)
	e.SetRunner(runner)
	return e, store
}

func hasArgPair(spec CommandSpec, flag, value string) bool {
	for i, a := range spec.Args {
		if a == flag && i+1 < len(spec.Args) && spec.Args[i+1] == value {
			return true
		}
	}
	return false
}

func hasArg(spec CommandSpec, flag string) bool {
	for _, a := range spec.Args {
		if a == flag {
			return true
		}
	}
	return false
}

func TestNewSessionCreatesRegistryEntry(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stdout: `{"type":"result","session_id":"abc123","result":"done the thing","is_error":false}`},
	}}
	sink := &memorySink{}
	e, store := newTestExecutor(t, runner, sink)

	res, err := e.Execute(context.Background(), "job:daily", "do the thing", RunOptions{Group: "main"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if !res.NewSession {
		t.Fatal("expected a new-session invocation")
	}
	if res.SessionID != "abc123" {
		t.Fatalf("expected session abc123, got %q", res.SessionID)
	}
	if res.Stdout != "done the thing" {
		t.Fatalf("expected extracted result text, got %q", res.Stdout)
	}

	entry, ok := store.Get("main")
	if !ok {
		t.Fatal("expected a live registry entry")
	}
	if entry.SessionID != "abc123" {
		t.Fatalf("expected registry session abc123, got %q", entry.SessionID)
	}
	if entry.ContentTokens != 0 {
		t.Fatalf("expected zero initial token count, got %d", entry.ContentTokens)
	}

	spec := runner.spec(0)
	if !hasArgPair(spec, "--output-format", "json") {
		t.Fatalf("expected structured output request, args %v", spec.Args)
	}
	if hasArg(spec, "--resume") {
		t.Fatalf("unexpected resume flag on new session, args %v", spec.Args)
	}

	if len(sink.recs) != 1 {
		t.Fatalf("expected one record, got %d", len(sink.recs))
	}
	if sink.recs[0].SessionID != "abc123" || !sink.recs[0].NewSession {
		t.Fatalf("unexpected record %+v", sink.recs[0])
	}
}

func TestResumeExistingSession(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stdout: "plain text reply"},
	}}
	e, store := newTestExecutor(t, runner)
	if _, err := store.Create("main", "existing-id"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	res, err := e.Execute(context.Background(), "chat", "follow up", RunOptions{Group: "main"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if res.NewSession {
		t.Fatal("expected a resumed invocation")
	}
	if res.SessionID != "existing-id" {
		t.Fatalf("expected resumed session id, got %q", res.SessionID)
	}
	if res.Stdout != "plain text reply" {
		t.Fatalf("expected raw stdout on resume, got %q", res.Stdout)
	}

	spec := runner.spec(0)
	if !hasArgPair(spec, "--resume", "existing-id") {
		t.Fatalf("expected resume flag, args %v", spec.Args)
	}
	if hasArg(spec, "--output-format") {
		t.Fatalf("unexpected structured output on resume, args %v", spec.Args)
	}
}

func TestEmptyGroupUsesDefault(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stdout: `{"type":"result","session_id":"s1","result":"ok"}`},
	}}
	e, store := newTestExecutor(t, runner)

	if _, err := e.Execute(context.Background(), "job", "p", RunOptions{}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if _, ok := store.Get(session.DefaultGroup); !ok {
		t.Fatal("expected entry under the default group")
	}
}

func TestStatelessSkipsRegistry(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stdout: `{"category":"general"}`},
	}}
	e, store := newTestExecutor(t, runner)

	res, err := e.Execute(context.Background(), "classify", "p", RunOptions{Stateless: true, Group: "main"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if res.NewSession {
		t.Fatal("stateless invocations are never new sessions")
	}
	if res.Stdout != `{"category":"general"}` {
		t.Fatalf("expected raw stdout, got %q", res.Stdout)
	}
	if len(store.ListAll()) != 0 {
		t.Fatal("expected no registry entries for stateless work")
	}

	spec := runner.spec(0)
	if hasArg(spec, "--resume") || hasArg(spec, "--output-format") {
		t.Fatalf("unexpected session flags on stateless call, args %v", spec.Args)
	}
}

func TestStatelessStructuredOutputRequested(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stdout: `{"type":"result","session_id":"throwaway","result":"{\"category\":\"general\"}"}`},
	}}
	e, store := newTestExecutor(t, runner)

	res, err := e.Execute(context.Background(), "classify", "p", RunOptions{
		Stateless:        true,
		StructuredOutput: true,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	spec := runner.spec(0)
	if !hasArgPair(spec, "--output-format", "json") {
		t.Fatalf("expected structured output on stateless call, args %v", spec.Args)
	}
	if hasArg(spec, "--resume") {
		t.Fatalf("unexpected resume flag, args %v", spec.Args)
	}
	// Structured output does not make the call persistent.
	if res.NewSession || res.SessionID != "" {
		t.Fatalf("unexpected session state %+v", res)
	}
	if len(store.ListAll()) != 0 {
		t.Fatal("expected no registry entries for stateless work")
	}
}

func TestRateLimitFallbackRetrySucceeds(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stdout: "", stderr: "Error: usage limit reached, resets at 5pm", exitCode: 1},
		{stdout: `{"type":"result","session_id":"fb1","result":"fallback worked"}`},
	}}
	e, store := newTestExecutor(t, runner)

	res, err := e.Execute(context.Background(), "job", "p", RunOptions{Group: "main"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if !res.UsedFallback {
		t.Fatal("expected fallback retry")
	}
	if res.RateLimited {
		t.Fatal("expected successful fallback to clear the rate-limit flag")
	}
	if res.SessionID != "fb1" || res.Stdout != "fallback worked" {
		t.Fatalf("unexpected result %+v", res)
	}
	if runner.calls() != 2 {
		t.Fatalf("expected exactly two invocations, got %d", runner.calls())
	}
	if !hasArgPair(runner.spec(1), "--model", "claude-haiku-4-5") {
		t.Fatalf("expected fallback model on retry, args %v", runner.spec(1).Args)
	}
	if _, ok := store.Get("main"); !ok {
		t.Fatal("expected registry entry from fallback success")
	}
}

func TestRateLimitOnBothAttempts(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stderr: "rate limited, slow down", exitCode: 1},
		{stderr: "Still rate limited after fallback", exitCode: 1},
	}}
	sink := &memorySink{}
	e, store := newTestExecutor(t, runner, sink)

	res, err := e.Execute(context.Background(), "job", "p", RunOptions{Group: "main"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if !res.RateLimited {
		t.Fatal("expected rate-limited outcome")
	}
	if res.Stdout != "Still rate limited after fallback" {
		t.Fatalf("expected the rate-limit message as output, got %q", res.Stdout)
	}
	if len(store.ListAll()) != 0 {
		t.Fatal("expected no registry entry on rate-limited outcome")
	}
	if len(sink.recs) != 1 || !sink.recs[0].RateLimited {
		t.Fatalf("expected one rate-limited record, got %+v", sink.recs)
	}
}

func TestNoFallbackConfiguredSurfacesRateLimit(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stderr: "quota exceeded for this billing cycle", exitCode: 1},
	}}
	e, _ := newTestExecutor(t, runner)
	cfg := testAgentConfig()
	cfg.FallbackModel = ""
	e.cfg = cfg

	res, err := e.Execute(context.Background(), "job", "p", RunOptions{Group: "main"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !res.RateLimited {
		t.Fatal("expected rate-limited outcome without a fallback model")
	}
	if runner.calls() != 1 {
		t.Fatalf("expected a single attempt, got %d", runner.calls())
	}
}

func TestUnparseableNewSessionOutputLeavesEntryUncreated(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stdout: "this is not json at all"},
	}}
	e, store := newTestExecutor(t, runner)

	res, err := e.Execute(context.Background(), "job", "p", RunOptions{Group: "main"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if res.Stdout != "this is not json at all" {
		t.Fatalf("expected raw output to stand in, got %q", res.Stdout)
	}
	if res.SessionID != "" {
		t.Fatalf("expected no session id, got %q", res.SessionID)
	}
	if len(store.ListAll()) != 0 {
		t.Fatal("expected registry to stay untouched on parse failure")
	}
}

func TestNonZeroExitSkipsSessionCreate(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stdout: "", stderr: "fatal: something broke", exitCode: 2},
	}}
	e, store := newTestExecutor(t, runner)

	res, err := e.Execute(context.Background(), "job", "p", RunOptions{Group: "main"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if res.ExitCode != 2 {
		t.Fatalf("expected exit code 2, got %d", res.ExitCode)
	}
	if len(store.ListAll()) != 0 {
		t.Fatal("expected no registry entry on failed invocation")
	}
}

func TestBuildSpecOverrides(t *testing.T) {
	runner := &fakeRunner{responses: []fakeResponse{
		{stdout: `{"type":"result","session_id":"s","result":"ok"}`},
	}}
	e, _ := newTestExecutor(t, runner)

	opts := RunOptions{
		Group:        "research",
		Model:        "claude-opus-4-5",
		AllowedTools: []string{"Bash", "Read"},
		Effort:       "high",
		MaxTurns:     7,
	}
	if _, err := e.Execute(context.Background(), "job", "the prompt", opts); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	spec := runner.spec(0)
	if spec.Path != "claude" {
		t.Fatalf("expected claude command, got %q", spec.Path)
	}
	if !hasArgPair(spec, "--model", "claude-opus-4-5") {
		t.Fatalf("expected model override, args %v", spec.Args)
	}
	if !hasArgPair(spec, "--max-turns", "7") {
		t.Fatalf("expected max-turns override, args %v", spec.Args)
	}
	if !hasArgPair(spec, "--allowedTools", "Bash,Read") {
		t.Fatalf("expected tool restriction, args %v", spec.Args)
	}
	if !hasArgPair(spec, "--effort", "high") {
		t.Fatalf("expected effort flag, args %v", spec.Args)
	}
	if spec.Args[len(spec.Args)-1] != "the prompt" {
		t.Fatalf("expected prompt as final argument, args %v", spec.Args)
	}
	if !strings.HasPrefix(strings.Join(spec.Args, " "), "--print") {
		t.Fatalf("expected --print first, args %v", spec.Args)
	}
}

func TestGroupInvocationsSerialize(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	runner := &blockingRunner{release: release, started: started}
	e, store := newTestExecutor(t, runner)
	if _, err := store.Create("main", "sid"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Execute(context.Background(), "job", "p", RunOptions{Group: "main"})
		}()
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	select {
	case <-started:
		t.Fatal("second invocation for the same group started before the first finished")
	default:
	}
	close(release)
	wg.Wait()
}

// blockingRunner blocks every run until released.
type blockingRunner struct {
	release <-chan struct{}
	started chan<- struct{}
}

func (b *blockingRunner) Run(ctx context.Context, spec CommandSpec) (string, string, int, error) {
	b.started <- struct{}{}
	<-b.release
	return "ok", "", 0, nil
}
