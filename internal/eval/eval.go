package eval

import (
	"context"
	"fmt"
	"sort"

	"github.com/23skdu/longbow-distill/internal/opt"
)

// Metric is one named scalar produced by an evaluation pass.
type Metric interface {
	Value() float64
}

// Scalar is the plain Metric implementation.
type Scalar float64

func (s Scalar) Value() float64 { return float64(s) }

// Report maps a loss-term name to its metric. A report is produced once
// per scenario and never modified afterwards.
type Report map[string]Metric

// Value returns the scalar for the named loss term.
func (r Report) Value(name string) (float64, error) {
	m, ok := r[name]
	if !ok {
		return 0, fmt.Errorf("report has no loss term %q", name)
	}
	return m.Value(), nil
}

// Names returns the loss-term names in sorted order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Request is one evaluation pass. The seed is carried explicitly so that
// scenarios stay reproducible under parallel execution; the evaluator
// must pin its random-number generators to it after loading the teacher
// checkpoint and immediately before constructing the student.
type Request struct {
	Opt         opt.Opt
	NumExamples int
	Seed        int64
}

// Evaluator runs one loss-only evaluation pass through the external
// modeling framework. It returns the loss report and a secondary report
// of non-loss metrics.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Report, Report, error)
}

// CheckRequest rejects requests this harness is not meant to run. The
// harness validates losses only; a request with generation enabled would
// exercise the decoding path and is refused outright.
func CheckRequest(req Request) error {
	if req.Opt == nil {
		return fmt.Errorf("evaluation request has no opt")
	}
	if req.NumExamples < 1 {
		return fmt.Errorf("evaluation request needs at least 1 example, got %d", req.NumExamples)
	}
	if !req.Opt.BoolDefault("skip_generation", false) {
		return fmt.Errorf("generation is enabled; this harness only validates losses")
	}
	return nil
}
