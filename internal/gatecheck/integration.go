package gatecheck

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Strob0t/forgesprint/internal/domain/gate"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// integrationGate checks cross-artifact consistency without executing
// anything: every declared task dependency resolves to a task in the
// sprint, the dependency graph is acyclic, referenced documents exist in
// the workspace, and the binaries behind the configured test commands are
// present. Running the suites themselves belongs to the RUN_UNIT_TESTS
// and RUN_E2E_TESTS phases, not to a gate.
type integrationGate struct {
	testCommands []string
}

func (g *integrationGate) Name() string { return "integration" }

func (g *integrationGate) Check(_ context.Context, s *sprint.Sprint, t Target) (gate.Result, error) {
	var issues []gate.Issue

	known := make(map[string]bool, len(s.Tasks))
	for _, task := range s.Tasks {
		known[task.ID] = true
	}
	for _, task := range s.Tasks {
		for _, dep := range task.DependsOn {
			switch {
			case dep == task.ID:
				issues = append(issues, gate.Issue{
					Severity: gate.SeverityCritical,
					Category: "integration",
					Message:  fmt.Sprintf("task %s depends on itself", task.ID),
				})
			case !known[dep]:
				issues = append(issues, gate.Issue{
					Severity: gate.SeverityCritical,
					Category: "integration",
					Message:  fmt.Sprintf("task %s depends on unknown task %s", task.ID, dep),
				})
			}
		}
		for _, ref := range task.DocRefs {
			if strings.Contains(ref, "://") {
				continue
			}
			if _, err := os.Stat(filepath.Join(t.Root, ref)); err != nil {
				issues = append(issues, gate.Issue{
					Severity: gate.SeverityHigh,
					Category: "integration",
					File:     ref,
					Message:  fmt.Sprintf("task %s references missing document %s", task.ID, ref),
				})
			}
		}
	}

	if cycle := dependencyCycle(s.Tasks); len(cycle) > 0 {
		issues = append(issues, gate.Issue{
			Severity: gate.SeverityCritical,
			Category: "integration",
			Message:  "task dependency cycle: " + strings.Join(cycle, " then "),
		})
	}

	for _, command := range g.testCommands {
		name := commandBinary(command)
		if name == "" {
			continue
		}
		if _, err := exec.LookPath(name); err != nil {
			issues = append(issues, gate.Issue{
				Severity: gate.SeverityCritical,
				Category: "integration",
				Message:  fmt.Sprintf("test command %q needs %s, which is not installed", command, name),
			})
		}
	}

	return gate.Result{Passed: len(issues) == 0, Issues: issues}, nil
}

// dependencyCycle returns the task ids on one dependency cycle, or nil.
// Unknown dependency targets are reported separately and skipped here.
func dependencyCycle(tasks []sprint.Task) []string {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.DependsOn
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))

	var walk func(id string, path []string) []string
	walk = func(id string, path []string) []string {
		state[id] = visiting
		path = append(path, id)
		for _, dep := range deps[id] {
			if _, ok := deps[dep]; !ok {
				continue
			}
			switch state[dep] {
			case visiting:
				return append(path, dep)
			case unvisited:
				if cycle := walk(dep, path); cycle != nil {
					return cycle
				}
			}
		}
		state[id] = done
		return nil
	}

	for _, t := range tasks {
		if state[t.ID] == unvisited {
			if cycle := walk(t.ID, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// commandBinary extracts the program name a shell command line starts with.
func commandBinary(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// RunCommand runs a shell command in dir with combined output captured.
// The orchestrator uses it to execute the project's test suites during the
// run-test phases.
func RunCommand(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command) //nolint:gosec // G204: operator-configured test command
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
