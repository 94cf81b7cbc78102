package gatecheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/forgesprint/internal/domain/gate"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// formatGate enforces the mechanical conventions agents most often break:
// stray markdown fences around whole files, missing trailing newlines and
// trailing whitespace. All of its findings are auto-fixable.
type formatGate struct {
	catalog *Catalog
}

func (g *formatGate) Name() string { return "format" }

func (g *formatGate) Check(ctx context.Context, _ *sprint.Sprint, t Target) (gate.Result, error) {
	files, err := collectFiles(t)
	if err != nil {
		return gate.Result{}, err
	}

	var issues []gate.Issue
	for _, rel := range files {
		content, err := readTargetFile(t, rel)
		if err != nil {
			return gate.Result{}, err
		}
		issues = append(issues, g.checkContent(ctx, rel, content)...)
	}
	return gate.Result{Passed: len(issues) == 0, Issues: issues}, nil
}

func (g *formatGate) checkContent(_ context.Context, path, content string) []gate.Issue {
	var issues []gate.Issue

	if fencedBody(content) != "" {
		issues = append(issues, gate.Issue{
			Severity:    gate.SeverityHigh,
			Category:    "format",
			Message:     fmt.Sprintf("%s is wrapped in a markdown code fence", path),
			File:        path,
			AutoFixable: true,
		})
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		issues = append(issues, gate.Issue{
			Severity:    gate.SeverityLow,
			Category:    "format",
			Message:     fmt.Sprintf("%s has no trailing newline", path),
			File:        path,
			AutoFixable: true,
		})
	}
	for i, line := range strings.Split(content, "\n") {
		if line != strings.TrimRight(line, " \t") {
			issues = append(issues, gate.Issue{
				Severity:    gate.SeverityLow,
				Category:    "format",
				Message:     fmt.Sprintf("%s has trailing whitespace", path),
				File:        path,
				Line:        i + 1,
				AutoFixable: true,
			})
			break
		}
	}
	return issues
}

// Fix rewrites the offending file in place. It only handles the issue
// categories this gate itself reports.
func (g *formatGate) Fix(_ context.Context, t Target, issue gate.Issue) (bool, string, error) {
	if issue.Category != "format" {
		return false, "not a format issue", nil
	}
	content, err := readTargetFile(t, issue.File)
	if err != nil {
		return false, "", err
	}

	fixed := content
	if body := fencedBody(fixed); body != "" {
		fixed = body
	}
	lines := strings.Split(fixed, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	fixed = strings.Join(lines, "\n")
	if fixed != "" && !strings.HasSuffix(fixed, "\n") {
		fixed += "\n"
	}

	if fixed == content {
		return false, "already formatted", nil
	}
	if err := writeTargetFile(t, issue.File, fixed); err != nil {
		return false, "", err
	}
	return true, "", nil
}

// fencedBody returns the inner content when the whole file is a single
// markdown code fence, or "" when it is not.
func fencedBody(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return ""
	}
	body := strings.Join(lines[1:len(lines)-1], "\n")
	// An interior fence means the file is markdown that merely starts
	// with a code block, not a fenced artifact.
	if strings.Contains(body, "```") {
		return ""
	}
	return body + "\n"
}
