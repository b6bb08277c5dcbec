// Package orchestrator ties the dispatch core together: it owns the
// session lifecycle, routes scenario batches, feeds outcomes to the
// aggregator, and emits lifecycle notifications.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/aggregate"
	"github.com/testmux/testmux/pkg/config"
	"github.com/testmux/testmux/pkg/dispatch"
	"github.com/testmux/testmux/pkg/event"
	"github.com/testmux/testmux/pkg/schema"
	"github.com/testmux/testmux/pkg/session"
)

// Orchestrator coordinates one run at a time. Exactly one session is
// active per instance.
type Orchestrator struct {
	cfg      *config.Config
	registry *agent.Registry
	sessions *session.Manager
	analyzer aggregate.PriorityAnalyzer
	reporter aggregate.IssueReporter
	agg      *aggregate.Aggregator
	bus      *event.Bus
}

// New creates an orchestrator. analyzer and reporter may be nil.
func New(cfg *config.Config, registry *agent.Registry, analyzer aggregate.PriorityAnalyzer, reporter aggregate.IssueReporter) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		sessions: session.NewManager(cfg.OutputDir),
		analyzer: analyzer,
		reporter: reporter,
		agg:      aggregate.New(analyzer, reporter, cfg.Reporting.Enabled),
		bus:      event.NewBus(),
	}
}

// Bus exposes the lifecycle notification surface for subscribers.
func (o *Orchestrator) Bus() *event.Bus {
	return o.bus
}

// Aggregator exposes the accumulated results and failures of the last
// run.
func (o *Orchestrator) Aggregator() *aggregate.Aggregator {
	return o.agg
}

// Run dispatches one scenario batch and returns the completed, persisted
// session together with the triage report (nil when there were no
// failures). vars seeds the environment for scenario when-guards.
func (o *Orchestrator) Run(ctx context.Context, scenarios []*schema.Scenario, vars map[string]string) (*session.Session, *aggregate.PriorityReport, error) {
	sess := o.sessions.Create()
	// Like the session accumulator, the aggregator starts empty for each
	// batch.
	o.agg = aggregate.New(o.analyzer, o.reporter, o.cfg.Reporting.Enabled)
	o.bus.Publish(event.Event{Type: event.SessionStart, SessionID: sess.ID})

	router := &dispatch.Router{
		Registry:    o.registry,
		Policy:      dispatch.Policy{Retries: o.cfg.RetryCount},
		MaxParallel: o.cfg.MaxParallel,
		FailFast:    o.cfg.FailFast,
		Vars:        vars,
		Bus:         o.bus,
	}

	outcomes := router.Dispatch(ctx, scenarios)

	// Every outcome flows to both the session (accumulation) and the
	// aggregator (failure extraction).
	for _, out := range outcomes {
		if out.Result != nil {
			o.sessions.AddResult(out.Result)
			o.agg.Record(out.Result)
			continue
		}
		o.agg.RecordFailure(out.ScenarioID, out.FailureMessage)
	}

	report := o.agg.Analyze(ctx)
	o.agg.Report(ctx)

	completed, err := o.sessions.Complete("")
	if err != nil {
		return nil, nil, fmt.Errorf("complete session: %w", err)
	}

	o.bus.Publish(event.Event{
		Type:      event.SessionEnd,
		SessionID: completed.ID,
		Status:    string(completed.Status),
	})
	return completed, report, nil
}
