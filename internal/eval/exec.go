package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"

	"github.com/23skdu/longbow-distill/internal/logger"
)

// ExecEvaluator drives the external framework's single-pass evaluation
// entry point as a subprocess. The merged opt, example count, and seed
// go to the child as JSON on stdin; the child answers with a JSON body
// holding the loss report and a secondary report on stdout. Unbounded
// losses are carried as the string sentinels "+inf" and "-inf".
type ExecEvaluator struct {
	Command string
	Args    []string
}

type execPayload struct {
	Opt         map[string]interface{} `json:"opt"`
	NumExamples int                    `json:"num_examples"`
	Seed        int64                  `json:"seed"`
}

type execResult struct {
	Losses map[string]json.RawMessage `json:"losses"`
	Extra  map[string]json.RawMessage `json:"extra"`
}

func (e *ExecEvaluator) Evaluate(ctx context.Context, req Request) (Report, Report, error) {
	if err := CheckRequest(req); err != nil {
		return nil, nil, err
	}
	if e.Command == "" {
		return nil, nil, fmt.Errorf("no evaluator command configured")
	}

	payload, err := json.Marshal(execPayload{
		Opt:         req.Opt,
		NumExamples: req.NumExamples,
		Seed:        req.Seed,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal evaluation request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Log.Component("eval").Debug("invoking external evaluator",
		"command", e.Command, "examples", req.NumExamples, "seed", req.Seed)

	if err := cmd.Run(); err != nil {
		return nil, nil, fmt.Errorf("evaluator %s failed: %w (stderr: %s)",
			e.Command, err, bytes.TrimSpace(stderr.Bytes()))
	}

	return parseResult(stdout.Bytes())
}

func parseResult(data []byte) (Report, Report, error) {
	var res execResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, nil, fmt.Errorf("parse evaluator output: %w", err)
	}
	if res.Losses == nil {
		return nil, nil, fmt.Errorf("evaluator output has no losses")
	}

	losses, err := parseReport(res.Losses)
	if err != nil {
		return nil, nil, fmt.Errorf("parse loss report: %w", err)
	}
	extra, err := parseReport(res.Extra)
	if err != nil {
		return nil, nil, fmt.Errorf("parse secondary report: %w", err)
	}
	return losses, extra, nil
}

func parseReport(raw map[string]json.RawMessage) (Report, error) {
	report := make(Report, len(raw))
	for name, val := range raw {
		v, err := parseScalar(val)
		if err != nil {
			return nil, fmt.Errorf("loss term %q: %w", name, err)
		}
		report[name] = Scalar(v)
	}
	return report, nil
}

// parseScalar accepts a JSON number or an infinity sentinel string.
func parseScalar(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("value %s is neither number nor sentinel", raw)
	}
	switch s {
	case "+inf", "inf", "Infinity":
		return math.Inf(1), nil
	case "-inf", "-Infinity":
		return math.Inf(-1), nil
	default:
		return 0, fmt.Errorf("unrecognized scalar sentinel %q", s)
	}
}
