package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/crovia-labs/crovia-core/pkg/config"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
	"github.com/crovia-labs/crovia-core/pkg/payouts"
	"github.com/crovia-labs/crovia-core/pkg/pipeline"
	"github.com/crovia-labs/crovia-core/pkg/receipts"
)

func runPayoutsCmd(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("payouts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	periodFlag := fs.String("period", "", "settlement period (YYYY-MM)")
	budgetFlag := fs.String("budget", "", "total budget for the period")
	receiptsFlag := fs.String("receipts", "", "royalty receipts NDJSON")
	providersFlag := fs.String("providers", "", "provider registry JSON")
	floorsFlag := fs.String("floors", "", "floors JSON produced by 'crovia floors'")
	policyFlag := fs.String("policy", "", "optional payout policy YAML")
	currencyFlag := fs.String("currency", cfg.Currency, "currency code")
	outFlag := fs.String("out", "", "output payouts NDJSON path")
	if err := fs.Parse(args); err != nil {
		return contracts.ExitUsage
	}
	if *periodFlag == "" || *budgetFlag == "" || *receiptsFlag == "" ||
		*providersFlag == "" || *floorsFlag == "" || *outFlag == "" {
		_, _ = fmt.Fprintln(stderr,
			"payouts: --period, --budget, --receipts, --providers, --floors and --out are required")
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
	aggregates, stats, err := receipts.ExtractFile(*receiptsFlag, period, registry)
	if err != nil {
		return fail(stderr, err)
	}
	floorArtifact, err := pipeline.ReadFloorArtifact(*floorsFlag)
	if err != nil {
		return fail(stderr, err)
	}

	var policy *payouts.Policy
	if *policyFlag != "" {
		policy, err = payouts.LoadPolicy(*policyFlag)
		if err != nil {
			return fail(stderr, err)
		}
	}

	records, err := payouts.Allocate(payouts.Input{
		Period:           period,
		BudgetTotalCents: budget,
		Currency:         *currencyFlag,
		Providers:        aggregates,
		Floors:           floorArtifact.FloorsByProvider(),
		Policy:           policy,
	}, slog.Default())
	if err != nil {
		return fail(stderr, err)
	}
	if err := pipeline.WritePayoutArtifact(*outFlag, records); err != nil {
		return fail(stderr, err)
	}

	_, _ = fmt.Fprintf(stdout, "payouts written to %s (providers=%d, accepted_rows=%d)\n",
		*outFlag, len(records), stats.Accepted)
	return contracts.ExitOK
}
