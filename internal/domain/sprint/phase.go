package sprint

// Phase represents one state in the fixed sprint pipeline.
type Phase string

const (
	PhasePending       Phase = "pending"
	PhaseWriteUnitTest Phase = "write_unit_tests"
	PhaseWriteCode     Phase = "write_code"
	PhaseCodeReview    Phase = "code_review"
	PhaseReviewFix     Phase = "review_fix"
	PhaseRunUnitTests  Phase = "run_unit_tests"
	PhaseUnitFix       Phase = "unit_fix"
	PhaseWriteE2ETests Phase = "write_e2e_tests"
	PhaseRunE2ETests   Phase = "run_e2e_tests"
	PhaseE2EFix        Phase = "e2e_fix"
	PhaseComplete      Phase = "complete"
	PhaseDone          Phase = "done"

	// PhaseBlocked is absorbing: reachable from any phase, left only by
	// operator intervention.
	PhaseBlocked Phase = "blocked"
)

// pipeline is the fixed linear ordering of phases. BLOCKED is not part of
// the ordering.
var pipeline = []Phase{
	PhasePending,
	PhaseWriteUnitTest,
	PhaseWriteCode,
	PhaseCodeReview,
	PhaseReviewFix,
	PhaseRunUnitTests,
	PhaseUnitFix,
	PhaseWriteE2ETests,
	PhaseRunE2ETests,
	PhaseE2EFix,
	PhaseComplete,
	PhaseDone,
}

var pipelineIndex = func() map[Phase]int {
	m := make(map[Phase]int, len(pipeline))
	for i, p := range pipeline {
		m[p] = i
	}
	return m
}()

// Phases returns the pipeline ordering, PENDING first, DONE last.
func Phases() []Phase {
	out := make([]Phase, len(pipeline))
	copy(out, pipeline)
	return out
}

// IsValid reports whether p is one of the thirteen defined phase values.
func (p Phase) IsValid() bool {
	if p == PhaseBlocked {
		return true
	}
	_, ok := pipelineIndex[p]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseBlocked
}

// Retriable reports whether a failed execution of p re-enters the same
// phase instead of blocking the sprint.
func (p Phase) Retriable() bool {
	switch p {
	case PhaseReviewFix, PhaseUnitFix, PhaseE2EFix:
		return true
	default:
		return false
	}
}

// Next returns the phase following p in the pipeline. Next of DONE is DONE;
// BLOCKED and unknown phases have no successor and return BLOCKED.
func (p Phase) Next() Phase {
	i, ok := pipelineIndex[p]
	if !ok {
		return PhaseBlocked
	}
	if i == len(pipeline)-1 {
		return PhaseDone
	}
	return pipeline[i+1]
}

// Before reports whether p precedes q in the pipeline ordering.
// BLOCKED is ordered after everything.
func (p Phase) Before(q Phase) bool {
	pi, pok := pipelineIndex[p]
	qi, qok := pipelineIndex[q]
	if !pok {
		return false
	}
	if !qok {
		return true
	}
	return pi < qi
}
