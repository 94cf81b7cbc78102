// Package gatecheck implements the layered quality gate pipeline that
// screens agent-produced artifacts before they are trusted. Gates run in a
// fixed order and the pipeline halts at the first gate with an unresolved
// critical finding. Checks are pure functions of on-disk state plus the
// declared schema catalog, so repeated runs without intervening changes
// produce identical reports.
package gatecheck

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/forgesprint/internal/domain/gate"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// Target describes the artifact set one gate run inspects: a workspace
// root and, optionally, the subset of files the current phase produced.
type Target struct {
	Root  string
	Files []string // relative to Root; empty means the whole tree
}

// Gate is the capability interface every validation layer implements.
type Gate interface {
	Name() string
	Check(ctx context.Context, s *sprint.Sprint, t Target) (gate.Result, error)
}

// AutoFixer is the optional capability for gates whose findings can be
// mechanically repaired. Fix must decline (applied=false with a reason)
// whenever the artifact cannot be rewritten unambiguously.
type AutoFixer interface {
	Fix(ctx context.Context, t Target, issue gate.Issue) (applied bool, reason string, err error)
}

// Pipeline runs the fixed ordered list of gates.
type Pipeline struct {
	gates []Gate
}

// NewPipeline creates the standard five-layer pipeline.
func NewPipeline(catalog *Catalog, testCommands []string) *Pipeline {
	return &Pipeline{
		gates: []Gate{
			&syntaxGate{catalog: catalog},
			&formatGate{catalog: catalog},
			&semanticGate{},
			&integrationGate{testCommands: testCommands},
			&securityGate{},
		},
	}
}

// Gates returns the gate names in pipeline order.
func (p *Pipeline) Gates() []string {
	names := make([]string, len(p.gates))
	for i, g := range p.gates {
		names[i] = g.Name()
	}
	return names
}

// RunAll executes the gates in order and halts after the first gate that
// reports a critical finding. Non-critical findings are aggregated.
func (p *Pipeline) RunAll(ctx context.Context, s *sprint.Sprint, t Target) (gate.Report, error) {
	var report gate.Report
	report.Passed = true

	for _, g := range p.gates {
		res, err := g.Check(ctx, s, t)
		if err != nil {
			return report, fmt.Errorf("gate %s: %w", g.Name(), err)
		}
		report.Gates = append(report.Gates, gate.GateReport{Gate: g.Name(), Result: res})
		if res.HasCritical() {
			report.Passed = false
			report.HaltedAt = g.Name()
			return report, nil
		}
		if !res.Passed {
			report.Passed = false
		}
	}
	return report, nil
}

// AutoFix applies fixes for findings marked auto_fixable, re-validates by
// re-running the owning gate, and reports every attempt. Findings not
// marked auto_fixable are never touched and are carried as unresolved.
func (p *Pipeline) AutoFix(ctx context.Context, s *sprint.Sprint, t Target, report gate.Report) (gate.FixReport, error) {
	var out gate.FixReport

	byName := make(map[string]Gate, len(p.gates))
	for _, g := range p.gates {
		byName[g.Name()] = g
	}

	for _, gr := range report.Gates {
		g := byName[gr.Gate]
		fixer, canFix := g.(AutoFixer)

		touched := false
		for _, issue := range gr.Result.Issues {
			if !issue.AutoFixable {
				if issue.Severity == gate.SeverityCritical {
					out.Unresolved = append(out.Unresolved, issue)
				}
				continue
			}
			if !canFix {
				out.Unresolved = append(out.Unresolved, issue)
				continue
			}
			applied, reason, err := fixer.Fix(ctx, t, issue)
			if err != nil {
				return out, fmt.Errorf("autofix %s: %w", gr.Gate, err)
			}
			out.Fixes = append(out.Fixes, gate.Fix{Gate: gr.Gate, Issue: issue, Applied: applied, Reason: reason})
			if applied {
				touched = true
			} else {
				out.Unresolved = append(out.Unresolved, issue)
			}
		}

		if !touched {
			continue
		}

		// Re-validate: the fix only counts if the gate now agrees.
		res, err := g.Check(ctx, s, t)
		if err != nil {
			return out, fmt.Errorf("autofix recheck %s: %w", gr.Gate, err)
		}
		remaining := make(map[string]bool, len(res.Issues))
		for _, is := range res.Issues {
			remaining[issueKey(is)] = true
		}
		for i := range out.Fixes {
			if out.Fixes[i].Gate != gr.Gate || !out.Fixes[i].Applied {
				continue
			}
			out.Fixes[i].Resolved = !remaining[issueKey(out.Fixes[i].Issue)]
			if !out.Fixes[i].Resolved {
				out.Unresolved = append(out.Unresolved, out.Fixes[i].Issue)
			}
		}

		// An issue repaired as a side effect of another fix is no longer
		// unresolved.
		mine := make(map[string]bool, len(gr.Result.Issues))
		for _, is := range gr.Result.Issues {
			mine[issueKey(is)] = true
		}
		kept := out.Unresolved[:0]
		for _, is := range out.Unresolved {
			if mine[issueKey(is)] && !remaining[issueKey(is)] {
				continue
			}
			kept = append(kept, is)
		}
		out.Unresolved = kept
	}

	return out, nil
}

// CheckWrite is the lightweight per-write subset run inline by the agent
// invocation channel: syntax and format layers against a single proposed
// file content, before it touches the workspace.
func (p *Pipeline) CheckWrite(ctx context.Context, path, content string) []gate.Issue {
	var issues []gate.Issue
	for _, g := range p.gates {
		cw, ok := g.(interface {
			checkContent(ctx context.Context, path, content string) []gate.Issue
		})
		if !ok {
			continue
		}
		issues = append(issues, cw.checkContent(ctx, path, content)...)
	}
	return issues
}

func issueKey(is gate.Issue) string {
	return is.Category + "|" + is.File + "|" + is.Message
}

// collectFiles resolves a target to the relative file paths a gate
// inspects, in lexical order so reports are stable.
func collectFiles(t Target) ([]string, error) {
	if len(t.Files) > 0 {
		out := make([]string, len(t.Files))
		copy(out, t.Files)
		return out, nil
	}

	var files []string
	err := filepath.WalkDir(t.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".forgesprint" {
				return filepath.SkipDir
			}
			return nil
		}
		// Worktree checkouts carry .git as a pointer file.
		if d.Name() == ".git" {
			return nil
		}
		rel, relErr := filepath.Rel(t.Root, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return files, nil
}

func readTargetFile(t Target, rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(t.Root, rel)) //nolint:gosec // G304: rel comes from the workspace walk
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeTargetFile(t Target, rel, content string) error {
	return os.WriteFile(filepath.Join(t.Root, rel), []byte(content), 0o644) //nolint:gosec // G306: workspace artifact
}

func isDataFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
