// Package service implements the sprint orchestrator: the state machine
// that drives a sprint through its fixed phase pipeline, delegating work
// to agent invocations and screening results through the quality gates.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/forgesprint/internal/adapter/gitws"
	fsotel "github.com/Strob0t/forgesprint/internal/adapter/otel"
	"github.com/Strob0t/forgesprint/internal/adapter/ws"
	"github.com/Strob0t/forgesprint/internal/config"
	"github.com/Strob0t/forgesprint/internal/domain"
	"github.com/Strob0t/forgesprint/internal/domain/event"
	"github.com/Strob0t/forgesprint/internal/domain/gate"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
	"github.com/Strob0t/forgesprint/internal/gatecheck"
	"github.com/Strob0t/forgesprint/internal/port/agentchannel"
	"github.com/Strob0t/forgesprint/internal/port/broadcast"
	"github.com/Strob0t/forgesprint/internal/port/database"
	"github.com/Strob0t/forgesprint/internal/port/eventbus"
	"github.com/Strob0t/forgesprint/internal/port/eventstore"
)

// onPass maps a check phase to the phase entered when it succeeds,
// skipping the fix phase that follows it in the pipeline ordering.
var onPass = map[sprint.Phase]sprint.Phase{
	sprint.PhaseCodeReview:   sprint.PhaseRunUnitTests,
	sprint.PhaseRunUnitTests: sprint.PhaseWriteE2ETests,
	sprint.PhaseRunE2ETests:  sprint.PhaseComplete,
}

// onFail maps a check phase to its fix phase, and a fix phase back to the
// check it re-enters.
var onFail = map[sprint.Phase]sprint.Phase{
	sprint.PhaseCodeReview:   sprint.PhaseReviewFix,
	sprint.PhaseRunUnitTests: sprint.PhaseUnitFix,
	sprint.PhaseRunE2ETests:  sprint.PhaseE2EFix,
}

var fixReturns = map[sprint.Phase]sprint.Phase{
	sprint.PhaseReviewFix: sprint.PhaseCodeReview,
	sprint.PhaseUnitFix:   sprint.PhaseRunUnitTests,
	sprint.PhaseE2EFix:    sprint.PhaseRunE2ETests,
}

// Orchestrator drives sprints through the phase pipeline. It is the sole
// writer of sprint state; every transition is persisted before the
// corresponding event is published.
type Orchestrator struct {
	store      database.Store
	events     eventstore.Store
	bus        eventbus.Publisher
	hub        broadcast.Broadcaster
	channel    agentchannel.Channel
	review     *gatecheck.Pipeline
	final      *gatecheck.Pipeline
	workspaces *gitws.Manager
	cfg        config.Orchestrator
	metrics    *fsotel.Metrics
	log        *slog.Logger
}

// NewOrchestrator wires the orchestrator. The review pipeline runs at
// CODE_REVIEW; the final pipeline runs at COMPLETE and additionally checks
// that the configured test commands are runnable in the environment.
// metrics may be nil.
func NewOrchestrator(
	store database.Store,
	events eventstore.Store,
	bus eventbus.Publisher,
	hub broadcast.Broadcaster,
	channel agentchannel.Channel,
	review, final *gatecheck.Pipeline,
	workspaces *gitws.Manager,
	cfg config.Orchestrator,
	metrics *fsotel.Metrics,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		events:     events,
		bus:        bus,
		hub:        hub,
		channel:    channel,
		review:     review,
		final:      final,
		workspaces: workspaces,
		cfg:        cfg,
		metrics:    metrics,
		log:        log.With("component", "orchestrator"),
	}
}

// CreateSprint validates and registers a new sprint in PENDING.
func (o *Orchestrator) CreateSprint(ctx context.Context, req sprint.CreateRequest) (*sprint.Sprint, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, fmt.Errorf("goal is required: %w", domain.ErrValidationFailed)
	}
	for _, t := range req.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task id is required: %w", domain.ErrValidationFailed)
		}
		if !t.Priority.IsValid() {
			return nil, fmt.Errorf("task %s: invalid priority %q: %w", t.ID, t.Priority, domain.ErrValidationFailed)
		}
	}

	s, err := o.store.CreateSprint(ctx, req)
	if err != nil {
		return nil, err
	}
	o.appendEvent(ctx, s, event.TypeSprintCreated, map[string]any{"goal": s.Goal, "tasks": len(s.Tasks)})
	o.hub.BroadcastEvent(ctx, ws.EventSprintStatus, ws.SprintStatusEvent{
		SprintID: s.ID, Goal: s.Goal, Phase: string(s.Phase),
	})
	return s, nil
}

// GetSprint returns one sprint by id.
func (o *Orchestrator) GetSprint(ctx context.Context, id int64) (*sprint.Sprint, error) {
	return o.store.GetSprint(ctx, id)
}

// ListSprints returns all sprints in id order.
func (o *Orchestrator) ListSprints(ctx context.Context) ([]sprint.Sprint, error) {
	return o.store.ListSprints(ctx)
}

// Trajectory returns the persisted event history for one sprint.
func (o *Orchestrator) Trajectory(ctx context.Context, id int64) ([]event.SprintEvent, error) {
	if _, err := o.store.GetSprint(ctx, id); err != nil {
		return nil, err
	}
	return o.events.LoadBySprint(ctx, id)
}

// RollbackSprint discards a held workspace without touching the mainline.
// The sprint record itself is left as is.
func (o *Orchestrator) RollbackSprint(ctx context.Context, id int64) error {
	if _, err := o.store.GetSprint(ctx, id); err != nil {
		return err
	}
	if err := o.workspaces.Rollback(ctx, id); err != nil {
		return err
	}
	if s, err := o.store.GetSprint(ctx, id); err == nil {
		o.appendEvent(ctx, s, event.TypeWorkspaceEvent, map[string]any{"action": "rollback"})
	}
	return nil
}

// RunSprint drives one sprint from its current phase until DONE, BLOCKED
// or a non-recoverable error. It holds the sprint's workspace for the
// whole run; a second concurrent run of the same sprint fails fast.
func (o *Orchestrator) RunSprint(ctx context.Context, id int64) error {
	s, err := o.store.GetSprint(ctx, id)
	if err != nil {
		return err
	}
	if s.Phase == sprint.PhaseDone {
		return fmt.Errorf("sprint %d is done: %w", id, domain.ErrValidationFailed)
	}
	if s.Phase == sprint.PhaseBlocked {
		return fmt.Errorf("sprint %d is blocked (%s): %w", id, s.BlockedReason, domain.ErrValidationFailed)
	}

	workspace, err := o.workspaces.Acquire(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("acquire workspace for sprint %d: %w", id, err)
	}

	ctx, span := fsotel.StartSprintSpan(ctx, s.ID, string(s.Phase))
	defer span.End()
	if o.metrics != nil {
		o.metrics.SprintsStarted.Add(ctx, 1)
	}

	o.appendEvent(ctx, s, event.TypeSprintStarted, map[string]any{"phase": string(s.Phase)})
	o.log.Info("sprint run started", "sprint_id", s.ID, "phase", s.Phase, "branch", workspace.Branch)

	iterations := 0
	for !s.Phase.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		iterations++
		if iterations > o.cfg.MaxIterations {
			// The phase stays where it is so the run can be inspected;
			// ceiling exhaustion is fatal to the run, not to the sprint.
			o.log.Warn("iteration ceiling reached", "sprint_id", s.ID, "phase", s.Phase, "ceiling", o.cfg.MaxIterations)
			span.SetStatus(codes.Error, "iteration ceiling reached")
			return fmt.Errorf("sprint %d: iteration ceiling %d reached in phase %s: %w",
				s.ID, o.cfg.MaxIterations, s.Phase, domain.ErrIterationCeiling)
		}

		if err := o.step(ctx, s, workspace); err != nil {
			return err
		}
	}

	if s.Phase == sprint.PhaseDone {
		if o.metrics != nil {
			o.metrics.SprintsDone.Add(ctx, 1)
		}
		o.appendEvent(ctx, s, event.TypeSprintDone, map[string]any{"iterations": iterations})
		o.hub.BroadcastEvent(ctx, ws.EventSprintStatus, ws.SprintStatusEvent{
			SprintID: s.ID, Goal: s.Goal, Phase: string(s.Phase),
		})
		o.log.Info("sprint done", "sprint_id", s.ID, "iterations", iterations)
	}
	return nil
}

// step executes the sprint's current phase and applies exactly one
// transition: advance, retry, route to a fix phase, or block.
func (o *Orchestrator) step(ctx context.Context, s *sprint.Sprint, workspace *gitws.Workspace) error {
	from := s.Phase
	ctx, span := fsotel.StartPhaseSpan(ctx, s.ID, string(from))
	start := time.Now()
	err := o.runPhase(ctx, s, workspace, from)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if o.metrics != nil {
		o.metrics.PhaseDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("phase", string(from))))
	}
	return err
}

func (o *Orchestrator) runPhase(ctx context.Context, s *sprint.Sprint, workspace *gitws.Workspace, from sprint.Phase) error {
	target := gatecheck.Target{Root: workspace.Root}

	switch s.Phase {
	case sprint.PhasePending:
		return o.advance(ctx, s, from)

	case sprint.PhaseWriteUnitTest, sprint.PhaseWriteCode, sprint.PhaseWriteE2ETests:
		if err := o.invoke(ctx, s, workspace); err != nil {
			return o.handleAgentFailure(ctx, s, from, err)
		}
		return o.advance(ctx, s, from)

	case sprint.PhaseCodeReview:
		if err := o.invoke(ctx, s, workspace); err != nil {
			return o.handleAgentFailure(ctx, s, from, err)
		}
		passed, err := o.runGates(ctx, s, target, o.review)
		if err != nil {
			return err
		}
		if !passed {
			return o.routeToFix(ctx, s, from, "review gates failed")
		}
		return o.pass(ctx, s, from)

	case sprint.PhaseReviewFix, sprint.PhaseUnitFix, sprint.PhaseE2EFix:
		if err := o.invoke(ctx, s, workspace); err != nil {
			return o.handleAgentFailure(ctx, s, from, err)
		}
		return o.transition(ctx, s, from, fixReturns[from], event.TypePhaseAdvanced)

	case sprint.PhaseRunUnitTests:
		return o.runTests(ctx, s, workspace, from, o.cfg.UnitTestCommand)

	case sprint.PhaseRunE2ETests:
		return o.runTests(ctx, s, workspace, from, o.cfg.E2ETestCommand)

	case sprint.PhaseComplete:
		passed, err := o.runGates(ctx, s, target, o.final)
		if err != nil {
			return err
		}
		if !passed {
			o.block(ctx, s, "final gate pipeline failed")
			return nil
		}
		if err := o.workspaces.MergeAndRelease(ctx, workspace); err != nil {
			if errors.Is(err, domain.ErrMergeConflict) {
				o.block(ctx, s, "merge conflict against mainline")
				return nil
			}
			return fmt.Errorf("merge sprint %d: %w", s.ID, err)
		}
		o.appendEvent(ctx, s, event.TypeWorkspaceEvent, map[string]any{"action": "merged", "branch": workspace.Branch})
		return o.advance(ctx, s, from)

	default:
		o.block(ctx, s, fmt.Sprintf("unknown phase %q", s.Phase))
		return nil
	}
}

// invoke delegates the current phase to the agent channel under the
// configured role and budget.
func (o *Orchestrator) invoke(ctx context.Context, s *sprint.Sprint, workspace *gitws.Workspace) error {
	role := o.cfg.Roles[string(s.Phase)]
	if role == "" {
		role = "coder"
	}
	req := &agentchannel.Request{
		Role:          role,
		WorkspaceRoot: workspace.Root,
		Context: agentchannel.ContextBundle{
			SprintID: s.ID,
			Goal:     s.Goal,
			Phase:    string(s.Phase),
			Tasks:    s.Tasks,
		},
	}
	ctx, span := fsotel.StartInvocationSpan(ctx, s.ID, role)
	defer span.End()
	if o.metrics != nil {
		o.metrics.Invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
	}
	res, err := o.channel.Invoke(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("invocation.turns", res.Turns))
	o.log.Info("agent invocation finished",
		"sprint_id", s.ID, "phase", s.Phase, "role", role,
		"invocation_id", res.InvocationID, "turns", res.Turns, "files", len(res.FilesWritten))
	return nil
}

// runGates runs a pipeline, applies the bounded auto-fix cycle when the
// first run fails, and reports the end result.
func (o *Orchestrator) runGates(ctx context.Context, s *sprint.Sprint, target gatecheck.Target, p *gatecheck.Pipeline) (bool, error) {
	report, err := p.RunAll(ctx, s, target)
	if err != nil {
		return false, fmt.Errorf("gate pipeline: %w", err)
	}
	o.emitGateReport(ctx, s, report)
	if report.Passed {
		return true, nil
	}

	fixes, err := p.AutoFix(ctx, s, target, report)
	if err != nil {
		return false, fmt.Errorf("gate autofix: %w", err)
	}
	if len(fixes.Fixes) == 0 {
		return false, nil
	}

	report, err = p.RunAll(ctx, s, target)
	if err != nil {
		return false, fmt.Errorf("gate pipeline rerun: %w", err)
	}
	o.emitGateReport(ctx, s, report)
	return report.Passed, nil
}

// runTests executes a configured test command in the workspace and routes
// the result like any other check phase.
func (o *Orchestrator) runTests(ctx context.Context, s *sprint.Sprint, workspace *gitws.Workspace, from sprint.Phase, command string) error {
	if strings.TrimSpace(command) == "" {
		return o.pass(ctx, s, from)
	}
	out, err := gatecheck.RunCommand(ctx, workspace.Root, command)
	if err != nil {
		o.log.Warn("test command failed", "sprint_id", s.ID, "phase", from, "command", command)
		return o.routeToFix(ctx, s, from, fmt.Sprintf("%s failed: %s", command, tail(out, 500)))
	}
	return o.pass(ctx, s, from)
}

// handleAgentFailure retries transient failures in place and blocks on
// everything else. The transient retry budget is the fix retry limit.
func (o *Orchestrator) handleAgentFailure(ctx context.Context, s *sprint.Sprint, from sprint.Phase, err error) error {
	if !domain.Retryable(err) {
		o.block(ctx, s, fmt.Sprintf("phase %s: %v", from, err))
		return nil
	}
	s.RetryCount++
	if s.RetryCount > o.cfg.FixRetryLimit {
		o.block(ctx, s, fmt.Sprintf("phase %s: retry limit %d exhausted: %v", from, o.cfg.FixRetryLimit, err))
		return nil
	}
	o.log.Warn("retrying phase after transient failure",
		"sprint_id", s.ID, "phase", from, "retry", s.RetryCount, "error", err)
	return o.persistAndEmit(ctx, s, from, event.TypePhaseRetried)
}

// routeToFix moves a failed check phase into its fix phase, blocking when
// the fix cycle budget for that pair is spent.
func (o *Orchestrator) routeToFix(ctx context.Context, s *sprint.Sprint, from sprint.Phase, reason string) error {
	fix, ok := onFail[from]
	if !ok {
		o.block(ctx, s, fmt.Sprintf("phase %s failed with no fix route: %s", from, reason))
		return nil
	}
	s.RetryCount++
	if s.RetryCount > o.cfg.RetryCeiling(string(fix)) {
		o.block(ctx, s, fmt.Sprintf("phase %s: fix cycle budget exhausted: %s", from, reason))
		return nil
	}
	return o.transition(ctx, s, from, fix, event.TypePhaseRetried)
}

// pass advances past a check phase, skipping its fix phase.
func (o *Orchestrator) pass(ctx context.Context, s *sprint.Sprint, from sprint.Phase) error {
	next, ok := onPass[from]
	if !ok {
		return o.advance(ctx, s, from)
	}
	s.Phase = next
	s.RetryCount = 0
	return o.persistAndEmit(ctx, s, from, event.TypePhaseAdvanced)
}

// advance moves to the next pipeline phase.
func (o *Orchestrator) advance(ctx context.Context, s *sprint.Sprint, from sprint.Phase) error {
	s.Advance()
	return o.persistAndEmit(ctx, s, from, event.TypePhaseAdvanced)
}

// transition sets an explicit target phase without resetting the retry
// counter (fix cycles share their counter with the owning check phase).
func (o *Orchestrator) transition(ctx context.Context, s *sprint.Sprint, from, to sprint.Phase, typ event.Type) error {
	s.Phase = to
	return o.persistAndEmit(ctx, s, from, typ)
}

// block transitions to BLOCKED and records why. Blocking never fails the
// run; the persisted state is the outcome.
func (o *Orchestrator) block(ctx context.Context, s *sprint.Sprint, reason string) {
	from := s.Phase
	s.Block(reason)
	if err := o.store.UpdateSprint(ctx, s); err != nil {
		o.log.Error("persist blocked sprint", "sprint_id", s.ID, "error", err)
		return
	}
	o.appendEvent(ctx, s, event.TypeSprintBlocked, map[string]any{
		"from": string(from), "reason": reason, "blocked_count": s.BlockedCount,
	})
	o.hub.BroadcastEvent(ctx, ws.EventBlocked, ws.BlockedEvent{
		SprintID: s.ID, Phase: string(from), Reason: reason, BlockedCount: s.BlockedCount,
	})
	if o.metrics != nil {
		o.metrics.SprintsBlocked.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(from))))
	}
	o.log.Warn("sprint blocked", "sprint_id", s.ID, "from", from, "reason", reason)
}

// persistAndEmit writes the transition and, only after the write
// succeeded, publishes it. A failed write aborts the run so the stream
// never gets ahead of the database.
func (o *Orchestrator) persistAndEmit(ctx context.Context, s *sprint.Sprint, from sprint.Phase, typ event.Type) error {
	if err := o.store.UpdateSprint(ctx, s); err != nil {
		return fmt.Errorf("persist sprint %d transition %s -> %s: %w", s.ID, from, s.Phase, err)
	}
	o.appendEvent(ctx, s, typ, map[string]any{
		"from": string(from), "to": string(s.Phase), "retry_count": s.RetryCount,
	})
	o.hub.BroadcastEvent(ctx, ws.EventSprintPhase, ws.PhaseEvent{
		SprintID: s.ID, From: string(from), To: string(s.Phase), RetryCount: s.RetryCount,
	})
	o.log.Info("phase transition", "sprint_id", s.ID, "from", from, "to", s.Phase, "retry_count", s.RetryCount)
	return nil
}

func (o *Orchestrator) emitGateReport(ctx context.Context, s *sprint.Sprint, report gate.Report) {
	issues := report.Issues()
	if !report.Passed && o.metrics != nil {
		o.metrics.GateFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("halted_at", report.HaltedAt)))
	}
	o.appendEvent(ctx, s, event.TypeGateReport, map[string]any{
		"phase": string(s.Phase), "passed": report.Passed, "halted_at": report.HaltedAt, "issues": len(issues),
	})
	o.hub.BroadcastEvent(ctx, ws.EventGateReport, ws.GateEvent{
		SprintID: s.ID, Phase: string(s.Phase), Passed: report.Passed,
		HaltedAt: report.HaltedAt, Issues: len(issues),
	})
}

// appendEvent records one trajectory event durably and on the stream.
// Event emission failures are logged, never fatal: state already moved.
func (o *Orchestrator) appendEvent(ctx context.Context, s *sprint.Sprint, typ event.Type, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.log.Error("marshal event payload", "type", typ, "error", err)
		return
	}
	ev := &event.SprintEvent{
		ID:        uuid.NewString(),
		SprintID:  s.ID,
		Type:      typ,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.events.Append(ctx, ev); err != nil {
		o.log.Error("append sprint event", "sprint_id", s.ID, "type", typ, "error", err)
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	subject := fmt.Sprintf("sprints.%d.events", s.ID)
	if err := o.bus.Publish(ctx, subject, msg); err != nil {
		o.log.Error("publish sprint event", "subject", subject, "error", err)
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
