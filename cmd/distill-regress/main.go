package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-distill/internal/distill"
	"github.com/23skdu/longbow-distill/internal/eval"
	"github.com/23skdu/longbow-distill/internal/harness"
	"github.com/23skdu/longbow-distill/internal/logger"
	"github.com/23skdu/longbow-distill/internal/regression"
	"github.com/23skdu/longbow-distill/internal/zoo"
)

var (
	dataRoot     = flag.String("data-root", "data", "Local root for downloaded teacher checkpoints")
	fixturesDir  = flag.String("fixtures", "fixtures", "Directory holding expected-loss fixtures")
	evaluatorCmd = flag.String("evaluator", "", "External evaluation entry point; extra args follow after --")
	familyName   = flag.String("family", "", "Run only this model family (bart_large, blender_90M)")
	modeName     = flag.String("mode", "", "Run only this distillation mode (wide, narrow)")
	rebaseline   = flag.Bool("rebaseline", false, "Rewrite fixtures from observed losses instead of comparing")
	seed         = flag.Int64("seed", 0, "Seed pinned before each scenario's student construction")
	relTol       = flag.Float64("tolerance", regression.DefaultRelTol, "Relative tolerance for finite loss terms")
	zooURL       = flag.String("zoo-url", zoo.DefaultBaseURL, "Base URL for checkpoint archives")
	metricsAddr  = flag.String("metrics", "", "Address to serve Prometheus metrics (empty disables)")
	logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat    = flag.String("log-format", "console", "Log format (console, json)")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if *evaluatorCmd == "" {
		fmt.Println("Error: --evaluator flag is required")
		flag.Usage()
		os.Exit(1)
	}

	scenarios, err := selectScenarios(*familyName, *modeName)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logger.Log.Info("metrics serving", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				logger.Log.Error("metrics server error", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &harness.Runner{
		DataRoot:    *dataRoot,
		FixturesDir: *fixturesDir,
		Provisioner: &zoo.Provisioner{BaseURL: *zooURL},
		Evaluator:   &eval.ExecEvaluator{Command: *evaluatorCmd, Args: flag.Args()},
		RelTol:      *relTol,
		Rebaseline:  *rebaseline,
		Seed:        *seed,
	}

	names := make([]string, len(scenarios))
	for i, sc := range scenarios {
		names[i] = sc.Name()
	}
	logger.Log.Info("running regression scenarios",
		"scenarios", strings.Join(names, ","), "rebaseline", *rebaseline, "seed", *seed)

	if err := runner.RunAll(ctx, scenarios); err != nil {
		logger.Log.Error("regression run failed", "error", err)
		os.Exit(1)
	}
	logger.Log.Info("all scenarios passed", "count", len(scenarios))
}

// selectScenarios narrows the full cross product by the optional family
// and mode flags.
func selectScenarios(family, mode string) ([]harness.Scenario, error) {
	scenarios := harness.All()

	if family != "" {
		f, err := zoo.Lookup(family)
		if err != nil {
			return nil, err
		}
		var kept []harness.Scenario
		for _, sc := range scenarios {
			if sc.Family == f {
				kept = append(kept, sc)
			}
		}
		scenarios = kept
	}

	if mode != "" {
		m, err := distill.ParseMode(mode)
		if err != nil {
			return nil, err
		}
		var kept []harness.Scenario
		for _, sc := range scenarios {
			if sc.Mode == m {
				kept = append(kept, sc)
			}
		}
		scenarios = kept
	}

	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios match family=%q mode=%q", family, mode)
	}
	return scenarios, nil
}
