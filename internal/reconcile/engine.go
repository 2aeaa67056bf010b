// ABOUTME: Reconciliation engine that applies smart-merge plans to a Store
// ABOUTME: Validates probes, applies one atomic ChangeSet and reports a Result

package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/smokingpi/smokeadmin/internal/store"
)

// Result is the structured outcome callers report to operators.
type Result struct {
	RunID       string `json:"run_id"`
	Category    string `json:"category"`
	Preserved   int    `json:"preserved"`
	Created     int    `json:"created"`
	Reactivated int    `json:"reactivated"`
	Retained    int    `json:"retained"`
	Deactivated int    `json:"deactivated"`
	Ignored     int    `json:"ignored"`
	Total       int    `json:"total_targets"`
	Success     bool   `json:"success"`
	Message     string `json:"message"`
}

// Engine reconciles categories against a Store.
type Engine struct {
	store          store.Store
	categoryProbes map[string]string
	defaultProbe   string
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCategoryProbes sets the probe given to targets created in each category.
func WithCategoryProbes(m map[string]string) Option {
	return func(e *Engine) { e.categoryProbes = m }
}

// WithDefaultProbe sets the probe used when no probe is marked default.
func WithDefaultProbe(name string) Option {
	return func(e *Engine) { e.defaultProbe = name }
}

// New creates an Engine over s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		logger: slog.Default().With("component", "reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile converges category towards desired. On failure nothing is
// written and the returned Result carries Success=false and the reason.
func (e *Engine) Reconcile(ctx context.Context, category string, desired []Candidate) (Result, error) {
	res := Result{RunID: uuid.New().String(), Category: category}
	fail := func(err error) (Result, error) {
		res.Message = err.Error()
		e.logger.Warn("reconciliation failed", "run_id", res.RunID, "category", category, "error", err)
		return res, err
	}

	if category == "" {
		return fail(&store.ValidationError{Field: "category", Reason: "category is required"})
	}

	probes, err := e.store.GetProbes(ctx)
	if err != nil {
		return fail(fmt.Errorf("loading probes: %w", err))
	}
	probe, err := e.probeFor(category, probes)
	if err != nil {
		return fail(err)
	}
	known := make(map[string]bool, len(probes))
	for _, p := range probes {
		known[p.Name] = true
	}
	for _, c := range desired {
		if c.Probe != "" && !known[c.Probe] {
			return fail(&store.ValidationError{Field: "probe", Record: c.Host, Reason: "probe " + c.Probe + " does not exist"})
		}
	}

	existing, err := e.store.GetTargets(ctx, store.TargetFilter{})
	if err != nil {
		return fail(fmt.Errorf("loading targets: %w", err))
	}

	plan, err := Compute(category, existing, desired, probe)
	if err != nil {
		return fail(err)
	}
	if err := e.store.ApplyChanges(ctx, plan.Changes); err != nil {
		return fail(fmt.Errorf("applying changes: %w", err))
	}

	res.Preserved = plan.Preserved
	res.Created = plan.Created
	res.Reactivated = plan.Reactivated
	res.Retained = plan.Retained
	res.Deactivated = plan.Deactivated
	res.Ignored = plan.Ignored
	res.Total = plan.Total
	res.Success = true
	res.Message = fmt.Sprintf("%s: %d preserved, %d created, %d reactivated, %d deactivated, %d active",
		category, res.Preserved, res.Created, res.Reactivated, res.Deactivated, res.Total)

	e.logger.Info("reconciled category",
		"run_id", res.RunID,
		"category", category,
		"backend", e.store.Backend(),
		"preserved", res.Preserved,
		"created", res.Created,
		"reactivated", res.Reactivated,
		"deactivated", res.Deactivated,
		"total", res.Total,
	)
	return res, nil
}

// probeFor picks the probe for new targets: the configured category probe,
// else the default probe. Either must exist.
func (e *Engine) probeFor(category string, probes []store.Probe) (string, error) {
	name := e.categoryProbes[category]
	if name == "" {
		name = store.DefaultProbeName(probes, e.defaultProbe)
	}
	for _, p := range probes {
		if p.Name == name {
			return name, nil
		}
	}
	return "", &store.ValidationError{Field: "probe", Record: category, Reason: "probe " + name + " does not exist"}
}
