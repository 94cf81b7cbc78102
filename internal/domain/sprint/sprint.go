// Package sprint defines the Sprint domain entity: a unit of orchestrated
// multi-phase work driven through a fixed pipeline of agent invocations
// and quality gates.
package sprint

import "time"

// Priority orders tasks within a sprint. Critical outranks High outranks
// Medium outranks Low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// IsValid reports whether p is a declared priority value.
func (p Priority) IsValid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Outranks reports whether p is strictly higher priority than q.
func (p Priority) Outranks(q Priority) bool {
	pr, pok := priorityRank[p]
	qr, qok := priorityRank[q]
	return pok && qok && pr < qr
}

// TestingRequirements declares the test coverage a task demands.
// Rationale is free text carried to the agent, not interpreted here.
type TestingRequirements struct {
	Unit      bool   `json:"unit"`
	E2E       bool   `json:"e2e"`
	Rationale string `json:"rationale,omitempty"`
}

// Task is a discrete deliverable inside a sprint. Tasks are input: they are
// immutable once the sprint starts and never mutated by the orchestrator.
type Task struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	Effort        string              `json:"effort,omitempty"`
	Priority      Priority            `json:"priority"`
	Feature       string              `json:"feature,omitempty"`
	DependsOn     []string            `json:"depends_on,omitempty"`
	DocRefs       []string            `json:"doc_refs,omitempty"`
	BusinessRules []string            `json:"business_rules,omitempty"`
	Testing       TestingRequirements `json:"testing"`
}

// Sprint is the unit of orchestrated work. It is owned exclusively by the
// orchestrator for the duration of a run and persisted after every phase
// transition so a crashed run resumes at the last recorded phase.
type Sprint struct {
	ID              int64     `json:"id"`
	Goal            string    `json:"goal"`
	Phase           Phase     `json:"phase"`
	TotalEffort     string    `json:"total_effort,omitempty"`
	EstimatedEffort string    `json:"estimated_effort,omitempty"`
	Tasks           []Task    `json:"tasks"`
	RetryCount      int       `json:"retry_count"`
	BlockedCount    int       `json:"blocked_count"`
	BlockedReason   string    `json:"blocked_reason,omitempty"`
	Version         int       `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Advance moves the sprint to the next pipeline phase and resets the
// per-phase retry counter.
func (s *Sprint) Advance() {
	s.Phase = s.Phase.Next()
	s.RetryCount = 0
}

// Block transitions the sprint to BLOCKED with a human-readable reason.
// blocked_count only ever increases.
func (s *Sprint) Block(reason string) {
	s.Phase = PhaseBlocked
	s.BlockedCount++
	s.BlockedReason = reason
}

// CreateRequest holds the fields needed to register a new sprint.
type CreateRequest struct {
	Goal            string `json:"goal"`
	TotalEffort     string `json:"total_effort,omitempty"`
	EstimatedEffort string `json:"estimated_effort,omitempty"`
	Tasks           []Task `json:"tasks"`
}
