package gatecheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/forgesprint/internal/domain/gate"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// coverageMarker is the convention agents use to tie a test file back to
// the task it covers, e.g. "covers:TASK-3" in a comment.
const coverageMarker = "covers:"

// semanticGate checks cross-artifact consistency that no single-file parse
// can see: every task that requires unit tests has at least one artifact
// claiming coverage for it, and no coverage marker names an unknown task.
type semanticGate struct{}

func (g *semanticGate) Name() string { return "semantic" }

func (g *semanticGate) Check(_ context.Context, s *sprint.Sprint, t Target) (gate.Result, error) {
	files, err := collectFiles(t)
	if err != nil {
		return gate.Result{}, err
	}

	known := make(map[string]bool)
	if s != nil {
		for _, task := range s.Tasks {
			known[task.ID] = true
		}
	}
	covered := make(map[string]bool)

	var issues []gate.Issue
	for _, rel := range files {
		content, err := readTargetFile(t, rel)
		if err != nil {
			return gate.Result{}, err
		}
		for _, id := range coverageMarkers(content) {
			if len(known) > 0 && !known[id] {
				issues = append(issues, gate.Issue{
					Severity: gate.SeverityHigh,
					Category: "semantic",
					Message:  fmt.Sprintf("%s claims coverage for unknown task %q", rel, id),
					File:     rel,
				})
				continue
			}
			covered[id] = true
		}
	}

	if s != nil {
		for _, task := range s.Tasks {
			if task.Testing.Unit && !covered[task.ID] {
				issues = append(issues, gate.Issue{
					Severity: gate.SeverityHigh,
					Category: "semantic",
					Message:  fmt.Sprintf("task %q requires unit tests but no artifact claims coverage", task.ID),
				})
			}
		}
	}

	return gate.Result{Passed: len(issues) == 0, Issues: issues}, nil
}

func coverageMarkers(content string) []string {
	var ids []string
	rest := content
	for {
		idx := strings.Index(rest, coverageMarker)
		if idx < 0 {
			return ids
		}
		rest = rest[idx+len(coverageMarker):]
		end := strings.IndexFunc(rest, func(r rune) bool {
			return !(r == '-' || r == '_' || r == '.' ||
				(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
		})
		id := rest
		if end >= 0 {
			id = rest[:end]
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
}
