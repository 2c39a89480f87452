package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/23skdu/longbow-distill/internal/distill"
	"github.com/23skdu/longbow-distill/internal/eval"
	"github.com/23skdu/longbow-distill/internal/logger"
	"github.com/23skdu/longbow-distill/internal/metrics"
	"github.com/23skdu/longbow-distill/internal/opt"
	"github.com/23skdu/longbow-distill/internal/regression"
	"github.com/23skdu/longbow-distill/internal/zoo"
)

// Scenario is one (model family, distillation mode) combination. It is
// built per run, consumed once, and shares no mutable state with other
// scenarios, so separate processes can run scenarios in parallel.
type Scenario struct {
	Family *zoo.Family
	Mode   distill.Mode
}

// Name returns the scenario identifier, e.g. "bart_large/wide".
func (s Scenario) Name() string {
	return s.Family.Name + "/" + s.Mode.String()
}

// All returns the full cross product of families and modes.
func All() []Scenario {
	var out []Scenario
	for _, f := range zoo.Families() {
		for _, m := range []distill.Mode{distill.ModeWide, distill.ModeNarrow} {
			out = append(out, Scenario{Family: f, Mode: m})
		}
	}
	return out
}

// Runner executes regression scenarios strictly sequentially: provision
// the teacher checkpoint, build the merged opt, run one loss-only
// evaluation pass, then compare against the scenario's fixture. Every
// step failure is fatal to its scenario; these are deterministic checks,
// so there are no retries.
type Runner struct {
	DataRoot    string
	FixturesDir string
	Provisioner *zoo.Provisioner
	Evaluator   eval.Evaluator

	// RelTol defaults to regression.DefaultRelTol when zero.
	RelTol float64

	// Rebaseline rewrites each scenario's fixture from the observed
	// losses instead of comparing.
	Rebaseline bool

	// Seed pins the evaluator's random-number generators, after
	// checkpoint loading and immediately before student construction.
	Seed int64

	// Overrides merge last into every scenario's opt.
	Overrides opt.Opt
}

func (r *Runner) provisioner() *zoo.Provisioner {
	if r.Provisioner != nil {
		return r.Provisioner
	}
	return &zoo.Provisioner{}
}

// Run executes one scenario.
func (r *Runner) Run(ctx context.Context, sc Scenario) error {
	if r.Evaluator == nil {
		return fmt.Errorf("runner has no evaluator")
	}

	log := logger.Log.Component("harness")
	runID := uuid.NewString()
	start := time.Now()
	log.Info("scenario start", "scenario", sc.Name(), "run_id", runID, "seed", r.Seed)

	fail := func(err error) error {
		metrics.RecordScenario(sc.Name(), "fail", time.Since(start))
		log.Error("scenario failed", "scenario", sc.Name(), "run_id", runID, "error", err)
		return err
	}

	if err := r.provisioner().Download(ctx, sc.Family, r.DataRoot); err != nil {
		return fail(fmt.Errorf("provision %s: %w", sc.Name(), err))
	}

	o, err := distill.BuildOpt(sc.Family, sc.Mode, r.DataRoot, r.Overrides)
	if err != nil {
		return fail(err)
	}

	numExamples, err := o.Int("num_examples")
	if err != nil {
		numExamples = 1
	}
	req := eval.Request{Opt: o, NumExamples: numExamples, Seed: r.Seed}

	evalStart := time.Now()
	losses, _, err := r.Evaluator.Evaluate(ctx, req)
	if err != nil {
		return fail(fmt.Errorf("evaluate %s: %w", sc.Name(), err))
	}
	metrics.RecordEval(sc.Name(), time.Since(evalStart))
	log.Debug("evaluation complete", "scenario", sc.Name(), "loss_terms", len(losses))

	fixture := regression.FixturePath(r.FixturesDir, sc.Name())

	if r.Rebaseline {
		if err := regression.FromReport(losses).Save(fixture); err != nil {
			return fail(fmt.Errorf("rebaseline %s: %w", sc.Name(), err))
		}
		metrics.RecordScenario(sc.Name(), "rebaselined", time.Since(start))
		log.Info("scenario rebaselined", "scenario", sc.Name(), "run_id", runID, "fixture", fixture)
		return nil
	}

	expected, err := regression.Load(fixture)
	if err != nil {
		return fail(fmt.Errorf("load fixture for %s: %w", sc.Name(), err))
	}
	if err := regression.Compare(sc.Name(), losses, expected, r.RelTol); err != nil {
		return fail(err)
	}

	metrics.RecordScenario(sc.Name(), "pass", time.Since(start))
	log.Info("scenario passed", "scenario", sc.Name(), "run_id", runID,
		"duration", time.Since(start).String())
	return nil
}

// RunAll executes the given scenarios in order and reports every
// scenario failure. A failure in one scenario does not stop the rest.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) error {
	var failures []error
	for _, sc := range scenarios {
		if err := r.Run(ctx, sc); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}
