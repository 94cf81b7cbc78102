// Package gate defines the finding and report types produced by the
// quality gate pipeline.
package gate

// Severity ranks a validation finding. Critical findings block the gate.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue is a single validation finding. Issues live only for the duration
// of one validation cycle and are never persisted.
type Issue struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Message     string   `json:"message"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	AutoFixable bool     `json:"auto_fixable"`
}

// Result is the outcome of a single gate check.
type Result struct {
	Passed bool    `json:"passed"`
	Issues []Issue `json:"issues,omitempty"`
}

// HasCritical reports whether any finding is Critical.
func (r Result) HasCritical() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// GateReport pairs a gate name with its result inside a pipeline report.
type GateReport struct {
	Gate   string `json:"gate"`
	Result Result `json:"result"`
}

// Report is the aggregate outcome of running the full pipeline.
// HaltedAt names the gate that stopped the run early, if any.
type Report struct {
	Passed   bool         `json:"passed"`
	Gates    []GateReport `json:"gates"`
	HaltedAt string       `json:"halted_at,omitempty"`
}

// Issues flattens all findings across gates in pipeline order.
func (r Report) Issues() []Issue {
	var out []Issue
	for _, g := range r.Gates {
		out = append(out, g.Result.Issues...)
	}
	return out
}

// Fix records one attempted auto-fix.
type Fix struct {
	Gate     string `json:"gate"`
	Issue    Issue  `json:"issue"`
	Applied  bool   `json:"applied"`
	Resolved bool   `json:"resolved"`
	Reason   string `json:"reason,omitempty"`
}

// FixReport is the outcome of an auto-fix pass. Unresolved carries every
// finding the pass could not (or was not allowed to) repair.
type FixReport struct {
	Fixes      []Fix   `json:"fixes,omitempty"`
	Unresolved []Issue `json:"unresolved,omitempty"`
}
