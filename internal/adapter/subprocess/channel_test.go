package subprocess

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/forgesprint/internal/config"
	"github.com/Strob0t/forgesprint/internal/domain"
	"github.com/Strob0t/forgesprint/internal/domain/gate"
	"github.com/Strob0t/forgesprint/internal/port/agentchannel"
	"github.com/Strob0t/forgesprint/internal/resilience"
)

type stubGuard struct {
	issues []gate.Issue
}

func (g *stubGuard) CheckWrite(_ context.Context, _, _ string) []gate.Issue {
	return g.issues
}

// fakeAgent writes a shell script that drains stdin and then runs the
// given body.
func fakeAgent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	// bash, not sh: dash's echo expands \n escapes, which would corrupt
	// JSON event lines containing literal \n sequences.
	script := "#!/bin/bash\ncat >/dev/null\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil { //nolint:gosec // G306: test fixture
		t.Fatal(err)
	}
	return path
}

func newChannel(t *testing.T, command string, guard WriteGuard) *Channel {
	t.Helper()
	cfg := config.Agent{
		Command:  command,
		MaxTurns: 10,
		Timeout:  5 * time.Second,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, guard, resilience.NewBreaker(3, time.Second), log)
}

func request(root string) *agentchannel.Request {
	return &agentchannel.Request{
		Role:          "coder",
		WorkspaceRoot: root,
		Context:       agentchannel.ContextBundle{SprintID: 1, Goal: "build it", Phase: "write_code"},
	}
}

func TestInvokeHappyPath(t *testing.T) {
	agent := fakeAgent(t, strings.Join([]string{
		`echo '{"type":"tool_use","tool":"search"}'`,
		`echo '{"type":"file_write","path":"out.txt","content":"hello\n"}'`,
		`echo '{"type":"completion","message":"all done"}'`,
	}, "\n"))
	root := t.TempDir()
	c := newChannel(t, agent, &stubGuard{})

	res, err := c.Invoke(context.Background(), request(root))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !res.Completed {
		t.Fatal("expected completion")
	}
	if res.Turns != 2 {
		t.Fatalf("expected 2 turns, got %d", res.Turns)
	}
	if len(res.FilesWritten) != 1 || res.FilesWritten[0] != "out.txt" {
		t.Fatalf("unexpected files written %v", res.FilesWritten)
	}
	if res.Summary != "all done" {
		t.Fatalf("unexpected summary %q", res.Summary)
	}

	content, err := os.ReadFile(filepath.Join(root, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello\n" {
		t.Fatalf("unexpected file content %q", content)
	}
}

func TestInvokeMalformedOutput(t *testing.T) {
	agent := fakeAgent(t, `echo 'this is not json'`)
	c := newChannel(t, agent, &stubGuard{})

	_, err := c.Invoke(context.Background(), request(t.TempDir()))
	if !errors.Is(err, domain.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestInvokeUnknownEventType(t *testing.T) {
	agent := fakeAgent(t, `echo '{"type":"telepathy"}'`)
	c := newChannel(t, agent, &stubGuard{})

	_, err := c.Invoke(context.Background(), request(t.TempDir()))
	if !errors.Is(err, domain.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestInvokeAgentErrorEvent(t *testing.T) {
	agent := fakeAgent(t, `echo '{"type":"error","message":"cannot comply"}'`)
	c := newChannel(t, agent, &stubGuard{})

	_, err := c.Invoke(context.Background(), request(t.TempDir()))
	if !errors.Is(err, domain.ErrAgentFailure) {
		t.Fatalf("expected ErrAgentFailure, got %v", err)
	}
	if domain.Retryable(err) {
		t.Fatal("agent failure must not be retryable")
	}
}

func TestInvokeNonzeroExit(t *testing.T) {
	agent := fakeAgent(t, "exit 3")
	c := newChannel(t, agent, &stubGuard{})

	_, err := c.Invoke(context.Background(), request(t.TempDir()))
	if !errors.Is(err, domain.ErrTransientIO) {
		t.Fatalf("expected ErrTransientIO, got %v", err)
	}
	if !domain.Retryable(err) {
		t.Fatal("process exit must be retryable")
	}
}

func TestInvokeStreamEndsWithoutCompletion(t *testing.T) {
	agent := fakeAgent(t, `echo '{"type":"tool_use","tool":"grep"}'`)
	c := newChannel(t, agent, &stubGuard{})

	_, err := c.Invoke(context.Background(), request(t.TempDir()))
	if !errors.Is(err, domain.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestInvokeTurnBudgetExhausted(t *testing.T) {
	agent := fakeAgent(t, strings.Join([]string{
		`echo '{"type":"tool_use","tool":"a"}'`,
		`echo '{"type":"tool_use","tool":"b"}'`,
		`echo '{"type":"completion"}'`,
	}, "\n"))
	c := newChannel(t, agent, &stubGuard{})

	req := request(t.TempDir())
	req.Budget = agentchannel.Budget{MaxTurns: 1, Timeout: 5 * time.Second}
	_, err := c.Invoke(context.Background(), req)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestInvokeWallClockTimeout(t *testing.T) {
	agent := fakeAgent(t, "sleep 10")
	c := newChannel(t, agent, &stubGuard{})

	req := request(t.TempDir())
	req.Budget = agentchannel.Budget{MaxTurns: 10, Timeout: 100 * time.Millisecond}
	_, err := c.Invoke(context.Background(), req)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestInvokeRejectsEscapingPath(t *testing.T) {
	agent := fakeAgent(t, `echo '{"type":"file_write","path":"../evil.txt","content":"x"}'`)
	root := t.TempDir()
	c := newChannel(t, agent, &stubGuard{})

	_, err := c.Invoke(context.Background(), request(root))
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(root), "evil.txt")); statErr == nil {
		t.Fatal("escaping write must not land")
	}
}

func TestInvokeRejectsEscapingToolTarget(t *testing.T) {
	// The later completion event must never be reached: the invocation
	// fails on the tool_use itself, before anything can act on it.
	agent := fakeAgent(t, strings.Join([]string{
		`echo '{"type":"tool_use","tool":"delete","target":"../../outside-scope"}'`,
		`echo '{"type":"completion","message":"done"}'`,
	}, "\n"))
	c := newChannel(t, agent, &stubGuard{})

	_, err := c.Invoke(context.Background(), request(t.TempDir()))
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if domain.Retryable(err) {
		t.Fatal("scope violation must not be retryable")
	}
}

func TestInvokeRejectsUntargetedDestructiveTool(t *testing.T) {
	agent := fakeAgent(t, strings.Join([]string{
		`echo '{"type":"tool_use","tool":"rm"}'`,
		`echo '{"type":"completion"}'`,
	}, "\n"))
	c := newChannel(t, agent, &stubGuard{})

	_, err := c.Invoke(context.Background(), request(t.TempDir()))
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
}

func TestInvokeAllowsScopedDestructiveTool(t *testing.T) {
	agent := fakeAgent(t, strings.Join([]string{
		`echo '{"type":"tool_use","tool":"delete","target":"stale/file.txt"}'`,
		`echo '{"type":"completion","message":"cleaned"}'`,
	}, "\n"))
	c := newChannel(t, agent, &stubGuard{})

	res, err := c.Invoke(context.Background(), request(t.TempDir()))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Turns != 1 {
		t.Fatalf("expected 1 turn, got %d", res.Turns)
	}
}

func TestInvokeRejectsGuardedWrite(t *testing.T) {
	agent := fakeAgent(t, `echo '{"type":"file_write","path":"bad.json","content":"{oops"}'`)
	root := t.TempDir()
	guard := &stubGuard{issues: []gate.Issue{{
		Severity: gate.SeverityCritical, Category: "syntax", Message: "bad.json does not parse",
	}}}
	c := newChannel(t, agent, guard)

	_, err := c.Invoke(context.Background(), request(root))
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(root, "bad.json")); statErr == nil {
		t.Fatal("rejected write must not land")
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	agent := fakeAgent(t, "exit 1")
	c := newChannel(t, agent, &stubGuard{}) // breaker trips at 3 failures

	for i := 0; i < 3; i++ {
		if _, err := c.Invoke(context.Background(), request(t.TempDir())); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := c.Invoke(context.Background(), request(t.TempDir()))
	if err == nil {
		t.Fatal("expected open breaker to fail fast")
	}
	if errors.Is(err, domain.ErrTransientIO) {
		t.Fatalf("expected breaker error, got process error %v", err)
	}
}
