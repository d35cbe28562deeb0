package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/crovia-labs/crovia-core/pkg/config"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
	"github.com/crovia-labs/crovia-core/pkg/floors"
	"github.com/crovia-labs/crovia-core/pkg/pipeline"
	"github.com/crovia-labs/crovia-core/pkg/receipts"
)

func runFloorsCmd(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("floors", flag.ContinueOnError)
	fs.SetOutput(stderr)
	periodFlag := fs.String("period", "", "settlement period (YYYY-MM)")
	budgetFlag := fs.String("budget", "", "total budget for the period (e.g. 1000000.00)")
	providersFlag := fs.String("providers", "", "provider registry JSON")
	currencyFlag := fs.String("currency", cfg.Currency, "currency code")
	outFlag := fs.String("out", "", "output floors JSON path")
	if err := fs.Parse(args); err != nil {
		return contracts.ExitUsage
	}
	if *periodFlag == "" || *budgetFlag == "" || *providersFlag == "" || *outFlag == "" {
		_, _ = fmt.Fprintln(stderr, "floors: --period, --budget, --providers and --out are required")
		return contracts.ExitUsage
	}

	period, err := contracts.ParsePeriod(*periodFlag)
	if err != nil {
		return fail(stderr, err)
	}
	budget, err := contracts.ParseCents(*budgetFlag)
	if err != nil {
		return fail(stderr, err)
	}
	registry, err := receipts.LoadRegistry(*providersFlag)
	if err != nil {
		return fail(stderr, err)
	}
	aggregates := make([]contracts.ProviderAggregate, 0, len(registry))
	for _, e := range registry {
		aggregates = append(aggregates, contracts.ProviderAggregate{
			ProviderID:    e.ProviderID,
			CoverageBound: e.CoverageBound,
			Eligible:      e.Eligible,
		})
	}

	artifact, err := floors.Solve(floors.Input{
		Period:           period,
		BudgetTotalCents: budget,
		Currency:         *currencyFlag,
		Providers:        aggregates,
	}, slog.Default())
	if err != nil {
		return fail(stderr, err)
	}
	if err := pipeline.WriteFloorArtifact(*outFlag, artifact); err != nil {
		return fail(stderr, err)
	}

	_, _ = fmt.Fprintf(stdout, "floors written to %s (providers=%d, coverage_sum=%.4f, inconsistent=%v)\n",
		*outFlag, len(artifact.Providers), artifact.CoverageSum, artifact.CoverageInconsistent)
	return contracts.ExitOK
}
