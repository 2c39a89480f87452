package regression

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/23skdu/longbow-distill/internal/eval"
	"github.com/23skdu/longbow-distill/internal/metrics"
)

// DefaultRelTol is the relative tolerance applied to every finite loss
// term: |observed/expected - 1| <= 0.01.
const DefaultRelTol = 0.01

// Infinity sentinels used in fixture files, since JSON has no literal
// for unbounded values. Some loss terms are analytically unbounded under
// degenerate initialization and are recorded this way.
const (
	posInfSentinel = "+inf"
	negInfSentinel = "-inf"
)

// Expected is the reference fixture for one scenario: loss-term name to
// expected scalar. Read-only during comparison; rewritten only on a
// deliberate re-baseline.
type Expected map[string]float64

// FixturePath returns the fixture file for a scenario name such as
// "bart_large/wide".
func FixturePath(dir, scenario string) string {
	return filepath.Join(dir, strings.ReplaceAll(scenario, "/", "_")+".json")
}

// Load reads an expected-loss fixture.
func Load(path string) (Expected, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}

	exp := make(Expected, len(raw))
	for name, val := range raw {
		v, err := decodeScalar(val)
		if err != nil {
			return nil, fmt.Errorf("fixture %s, loss term %q: %w", path, name, err)
		}
		exp[name] = v
	}
	return exp, nil
}

// Save writes the fixture, replacing unbounded values with sentinels.
// Keys are sorted so re-baselined fixtures diff cleanly.
func (e Expected) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create fixture dir: %w", err)
	}

	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("{\n")
	for i, name := range names {
		key, _ := json.Marshal(name)
		b.Write(key)
		b.WriteString(": ")
		b.WriteString(encodeScalar(e[name]))
		if i < len(names)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}
	return nil
}

// FromReport builds a fixture from an observed loss report, for
// re-baselining.
func FromReport(report eval.Report) Expected {
	exp := make(Expected, len(report))
	for _, name := range report.Names() {
		exp[name], _ = report.Value(name)
	}
	return exp
}

func encodeScalar(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return fmt.Sprintf("%q", posInfSentinel)
	case math.IsInf(v, -1):
		return fmt.Sprintf("%q", negInfSentinel)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func decodeScalar(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("value %s is neither number nor sentinel", raw)
	}
	switch s {
	case posInfSentinel:
		return math.Inf(1), nil
	case negInfSentinel:
		return math.Inf(-1), nil
	default:
		return 0, fmt.Errorf("unrecognized sentinel %q", s)
	}
}

// Compare checks every observed loss term against the fixture. Finite
// expectations use relative tolerance; unbounded expectations are their
// own predicate, since relative tolerance is undefined at infinity.
// Added or missing loss terms fail the scenario. All mismatches are
// reported, not just the first.
func Compare(scenario string, observed eval.Report, expected Expected, relTol float64) error {
	if relTol <= 0 {
		relTol = DefaultRelTol
	}

	var failures []error

	for _, name := range observed.Names() {
		got, _ := observed.Value(name)
		want, ok := expected[name]
		if !ok {
			failures = append(failures,
				fmt.Errorf("loss term %q for %s: observed %v but absent from fixture (re-baseline needed?)",
					name, scenario, got))
			metrics.RecordLossMismatch(scenario, name)
			continue
		}
		metrics.LossTermsCompared.Inc()

		if err := compareScalar(scenario, name, got, want, relTol); err != nil {
			failures = append(failures, err)
			metrics.RecordLossMismatch(scenario, name)
		}
	}

	for name, want := range expected {
		if _, err := observed.Value(name); err != nil {
			failures = append(failures,
				fmt.Errorf("loss term %q for %s: expected %v but missing from report",
					name, scenario, encodeScalar(want)))
			metrics.RecordLossMismatch(scenario, name)
		}
	}

	return errors.Join(failures...)
}

func compareScalar(scenario, name string, got, want, relTol float64) error {
	if math.IsInf(want, 0) {
		if !math.IsInf(got, int(math.Copysign(1, want))) {
			return fmt.Errorf("loss term %q for %s: expected %s, observed %v",
				name, scenario, encodeScalar(want), got)
		}
		return nil
	}
	if math.IsInf(got, 0) || math.IsNaN(got) {
		return fmt.Errorf("loss term %q for %s: expected %v, observed %v",
			name, scenario, want, got)
	}

	// |got - want| <= relTol * |want|; an expectation of exactly zero
	// therefore requires an observation of exactly zero.
	if math.Abs(got-want) > relTol*math.Abs(want) {
		return fmt.Errorf("loss term %q for %s: expected %v, observed %v (outside %.0f%% relative tolerance)",
			name, scenario, want, got, relTol*100)
	}
	return nil
}
