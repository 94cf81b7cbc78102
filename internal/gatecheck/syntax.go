package gatecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/forgesprint/internal/domain/gate"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// syntaxGate verifies that every artifact parses as its declared format
// and, where the catalog declares a schema for it, carries the required
// fields.
type syntaxGate struct {
	catalog *Catalog
}

func (g *syntaxGate) Name() string { return "syntax" }

func (g *syntaxGate) Check(ctx context.Context, _ *sprint.Sprint, t Target) (gate.Result, error) {
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

// checkContent validates a single artifact body. Also used by the inline
// per-write screen.
func (g *syntaxGate) checkContent(ctx context.Context, path, content string) []gate.Issue {
	var issues []gate.Issue

	parsed, ok := parseData(path, content)
	if !ok {
		issues = append(issues, gate.Issue{
			Severity: gate.SeverityCritical,
			Category: "syntax",
			Message:  fmt.Sprintf("%s does not parse as %s", path, strings.TrimPrefix(filepath.Ext(path), ".")),
			File:     path,
		})
		return issues
	}

	if g.catalog == nil || parsed == nil {
		return issues
	}
	schema, err := g.catalog.ForFile(ctx, path)
	if err != nil || schema == nil {
		return issues
	}
	for _, field := range schema.Required {
		if _, present := parsed[field]; !present {
			issues = append(issues, gate.Issue{
				Severity: gate.SeverityCritical,
				Category: "schema",
				Message:  fmt.Sprintf("%s: required field %q missing (role %s)", path, field, schema.Role),
				File:     path,
			})
		}
	}
	for field, allowed := range schema.Enums {
		raw, present := parsed[field]
		if !present {
			continue
		}
		val := fmt.Sprintf("%v", raw)
		ok := false
		for _, a := range allowed {
			if val == a {
				ok = true
				break
			}
		}
		if !ok {
			issues = append(issues, gate.Issue{
				Severity: gate.SeverityCritical,
				Category: "schema",
				Message:  fmt.Sprintf("%s: field %q has value %q, allowed %v", path, field, val, allowed),
				File:     path,
			})
		}
	}
	return issues
}

// parseData parses a data file into a generic map. Non-data files return
// (nil, true): nothing to parse, nothing wrong. A data file that parses to
// a non-object returns an empty map so schema checks still apply.
func parseData(path, content string) (map[string]any, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if !json.Valid([]byte(content)) {
			return nil, false
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(content), &m); err != nil {
			return map[string]any{}, true
		}
		return m, true
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal([]byte(content), &v); err != nil {
			return nil, false
		}
		if m, ok := v.(map[string]any); ok {
			return m, true
		}
		return map[string]any{}, true
	default:
		return nil, true
	}
}
