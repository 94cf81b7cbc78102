package gatecheck

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Strob0t/forgesprint/internal/domain/gate"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// securityGate scans artifacts for credential material and obviously
// dangerous constructs. Findings are critical and never auto-fixed; a
// human or reviewer agent has to decide what the secret was.
type securityGate struct{}

type secretRule struct {
	name string
	re   *regexp.Regexp
}

var secretRules = []secretRule{
	{"aws access key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"private key block", regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |DSA |PGP )?PRIVATE KEY(?: BLOCK)?-----`)},
	{"github token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"slack token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"hardcoded credential", regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret|password|token)\s*[:=]\s*['"][A-Za-z0-9+/_=-]{16,}['"]`)},
	{"piped remote script", regexp.MustCompile(`curl[^\n|]*\|\s*(?:sudo\s+)?(?:ba)?sh\b`)},
}

func (g *securityGate) Name() string { return "security" }

func (g *securityGate) Check(_ context.Context, _ *sprint.Sprint, t Target) (gate.Result, error) {
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
		for _, rule := range secretRules {
			loc := rule.re.FindStringIndex(content)
			if loc == nil {
				continue
			}
			issues = append(issues, gate.Issue{
				Severity: gate.SeverityCritical,
				Category: "security",
				Message:  fmt.Sprintf("%s contains a %s", rel, rule.name),
				File:     rel,
				Line:     strings.Count(content[:loc[0]], "\n") + 1,
			})
		}
	}
	return gate.Result{Passed: len(issues) == 0, Issues: issues}, nil
}
