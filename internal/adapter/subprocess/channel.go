// Package subprocess implements the agentchannel.Channel interface by
// spawning a local agent process and streaming its JSON-lines event
// protocol. The context bundle goes to the agent's stdin as a single JSON
// document; the agent reports tool_use, file_write, error and completion
// events on stdout, one JSON object per line.
package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/forgesprint/internal/config"
	"github.com/Strob0t/forgesprint/internal/domain"
	"github.com/Strob0t/forgesprint/internal/domain/gate"
	"github.com/Strob0t/forgesprint/internal/port/agentchannel"
	"github.com/Strob0t/forgesprint/internal/resilience"
)

const channelName = "subprocess"

// maxEventLine bounds a single stdout event. Agents that emit bigger lines
// are misbehaving and get a malformed-output failure.
const maxEventLine = 4 << 20

// WriteGuard screens a proposed file write before it reaches the
// workspace. Any returned issue rejects the write.
type WriteGuard interface {
	CheckWrite(ctx context.Context, path, content string) []gate.Issue
}

// Channel runs one agent invocation per subprocess.
type Channel struct {
	command string
	args    []string
	budget  agentchannel.Budget
	breaker *resilience.Breaker
	guard   WriteGuard
	log     *slog.Logger
}

// New creates a subprocess channel from the agent configuration.
func New(cfg config.Agent, guard WriteGuard, breaker *resilience.Breaker, log *slog.Logger) *Channel {
	return &Channel{
		command: cfg.Command,
		args:    cfg.Args,
		budget:  agentchannel.Budget{MaxTurns: cfg.MaxTurns, Timeout: cfg.Timeout},
		breaker: breaker,
		guard:   guard,
		log:     log.With("channel", channelName),
	}
}

// Register registers the subprocess channel factory.
func Register(cfg config.Agent, guard WriteGuard, breaker *resilience.Breaker, log *slog.Logger) {
	agentchannel.Register(channelName, func(_ map[string]string) (agentchannel.Channel, error) {
		return New(cfg, guard, breaker, log), nil
	})
}

// Name returns "subprocess".
func (c *Channel) Name() string { return channelName }

// event is one line of the agent's stdout protocol.
type event struct {
	Type    string `json:"type"`
	Tool    string `json:"tool,omitempty"`
	Target  string `json:"target,omitempty"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// destructiveTools name tools that remove or replace workspace content.
// They are only allowed against a declared in-workspace target.
var destructiveTools = map[string]bool{
	"delete":    true,
	"remove":    true,
	"rm":        true,
	"rmdir":     true,
	"truncate":  true,
	"overwrite": true,
}

// Invoke spawns the agent process, feeds it the context bundle and
// consumes its event stream until completion or failure. The process is
// always reaped before Invoke returns.
func (c *Channel) Invoke(ctx context.Context, req *agentchannel.Request) (*agentchannel.Result, error) {
	budget := req.Budget
	if budget.MaxTurns <= 0 {
		budget.MaxTurns = c.budget.MaxTurns
	}
	if budget.Timeout <= 0 {
		budget.Timeout = c.budget.Timeout
	}

	res := &agentchannel.Result{InvocationID: uuid.NewString()}
	start := time.Now()

	err := c.breaker.Execute(func() error {
		return c.run(ctx, req, budget, res)
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("invocation complete",
		"invocation_id", res.InvocationID,
		"role", req.Role,
		"turns", res.Turns,
		"files_written", len(res.FilesWritten),
		"duration", time.Since(start))
	return res, nil
}

func (c *Channel) run(ctx context.Context, req *agentchannel.Request, budget agentchannel.Budget, res *agentchannel.Result) error {
	runCtx, cancel := context.WithTimeout(ctx, budget.Timeout)
	defer cancel()

	bundle, err := json.Marshal(req.Context)
	if err != nil {
		return fmt.Errorf("subprocess: marshal context bundle: %w", err)
	}

	cmd := exec.CommandContext(runCtx, c.command, c.args...) //nolint:gosec // G204: operator-configured agent command
	cmd.Dir = req.WorkspaceRoot
	cmd.Stdin = bytes.NewReader(bundle)
	cmd.Env = append(os.Environ(),
		"FORGESPRINT_ROLE="+req.Role,
		"FORGESPRINT_INVOCATION_ID="+res.InvocationID,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("subprocess: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("subprocess: start %s: %w: %v", c.command, domain.ErrTransientIO, err)
	}

	streamErr := c.consume(runCtx, req, budget, res, stdout)
	if streamErr != nil {
		cancel() // kill the process, then reap it
	}
	waitErr := cmd.Wait()

	if streamErr != nil {
		return streamErr
	}
	if runCtx.Err() != nil {
		return fmt.Errorf("subprocess: invocation %s: %w", res.InvocationID, domain.ErrTimeout)
	}
	if waitErr != nil {
		return fmt.Errorf("subprocess: %s exited: %w: %v: %s", c.command, domain.ErrTransientIO, waitErr, lastLines(stderr.String(), 20))
	}
	if !res.Completed {
		return fmt.Errorf("subprocess: stream ended without completion event: %w", domain.ErrMalformedOutput)
	}
	return nil
}

// consume reads the event stream until a completion event, an error event
// or a protocol violation.
func (c *Channel) consume(ctx context.Context, req *agentchannel.Request, budget agentchannel.Budget, res *agentchannel.Result, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("subprocess: undecodable event line: %w", domain.ErrMalformedOutput)
		}

		switch ev.Type {
		case "tool_use":
			if err := screenToolUse(ev); err != nil {
				return err
			}
			res.Turns++
			c.log.Debug("agent tool use", "invocation_id", res.InvocationID, "tool", ev.Tool, "target", ev.Target, "turn", res.Turns)
		case "file_write":
			res.Turns++
			if err := c.applyWrite(ctx, req.WorkspaceRoot, ev, res); err != nil {
				return err
			}
		case "error":
			return fmt.Errorf("subprocess: agent reported failure: %s: %w", ev.Message, domain.ErrAgentFailure)
		case "completion":
			res.Completed = true
			res.Summary = ev.Message
			return nil
		default:
			return fmt.Errorf("subprocess: unknown event type %q: %w", ev.Type, domain.ErrMalformedOutput)
		}

		if res.Turns > budget.MaxTurns {
			return fmt.Errorf("subprocess: turn budget %d exhausted: %w", budget.MaxTurns, domain.ErrTimeout)
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("subprocess: event line exceeds %d bytes: %w", maxEventLine, domain.ErrMalformedOutput)
		}
		if ctx.Err() != nil {
			return nil // Wait reports the timeout
		}
		return fmt.Errorf("subprocess: read event stream: %w: %v", domain.ErrTransientIO, err)
	}
	return nil
}

// screenToolUse rejects a tool_use event before anything acts on it. A
// target pointing outside the workspace fails the invocation, as does a
// destructive tool with no declared target to screen.
func screenToolUse(ev event) error {
	if ev.Target != "" && !filepath.IsLocal(ev.Target) {
		return fmt.Errorf("subprocess: tool %q target %q escapes workspace: %w", ev.Tool, ev.Target, domain.ErrValidationFailed)
	}
	if destructiveTools[ev.Tool] && ev.Target == "" {
		return fmt.Errorf("subprocess: destructive tool %q with no target: %w", ev.Tool, domain.ErrValidationFailed)
	}
	return nil
}

// applyWrite lands one file_write event in the workspace after the path
// and content clear the inline screen.
func (c *Channel) applyWrite(ctx context.Context, root string, ev event, res *agentchannel.Result) error {
	if ev.Path == "" || !filepath.IsLocal(ev.Path) {
		return fmt.Errorf("subprocess: write path %q escapes workspace: %w", ev.Path, domain.ErrValidationFailed)
	}
	if issues := c.guard.CheckWrite(ctx, ev.Path, ev.Content); len(issues) > 0 {
		return fmt.Errorf("subprocess: write %s rejected: %s: %w", ev.Path, issues[0].Message, domain.ErrValidationFailed)
	}

	abs := filepath.Join(root, ev.Path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("subprocess: create dir for %s: %w: %v", ev.Path, domain.ErrTransientIO, err)
	}
	if err := os.WriteFile(abs, []byte(ev.Content), 0o644); err != nil { //nolint:gosec // G306: workspace artifact
		return fmt.Errorf("subprocess: write %s: %w: %v", ev.Path, domain.ErrTransientIO, err)
	}
	res.FilesWritten = append(res.FilesWritten, ev.Path)
	return nil
}

func lastLines(s string, n int) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}
