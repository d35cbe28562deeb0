package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/crovia-labs/crovia-core/pkg/audit"
	"github.com/crovia-labs/crovia-core/pkg/config"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
	"github.com/crovia-labs/crovia-core/pkg/pipeline"
	"github.com/crovia-labs/crovia-core/pkg/store"
)

func runRunCmd(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	periodFlag := fs.String("period", "", "settlement period (YYYY-MM)")
	budgetFlag := fs.String("budget", "", "total budget for the period")
	receiptsFlag := fs.String("receipts", "", "royalty receipts NDJSON")
	providersFlag := fs.String("providers", "", "provider registry JSON")
	policyFlag := fs.String("policy", "", "optional payout policy YAML")
	outDirFlag := fs.String("out-dir", cfg.DataDir, "output directory for all artifacts")
	currencyFlag := fs.String("currency", cfg.Currency, "currency code")
	chunkFlag := fs.Int64("chunk", cfg.ChunkSize, "hash-chain chunk size in bytes")
	journalFlag := fs.String("journal", cfg.JournalPath, "sqlite run journal path (empty disables)")
	if err := fs.Parse(args); err != nil {
		return contracts.ExitUsage
	}
	if *periodFlag == "" || *budgetFlag == "" || *receiptsFlag == "" || *providersFlag == "" {
		_, _ = fmt.Fprintln(stderr,
			"run: --period, --budget, --receipts and --providers are required")
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

	var journal *store.RunStore
	if *journalFlag != "" {
		journal, err = store.Open(*journalFlag)
		if err != nil {
			return fail(stderr, err)
		}
		defer func() { _ = journal.Close() }()
	}

	result, err := pipeline.Run(context.Background(), pipeline.Options{
		Period:           period,
		BudgetTotalCents: budget,
		Currency:         *currencyFlag,
		ReceiptsPath:     *receiptsFlag,
		ProvidersPath:    *providersFlag,
		PolicyPath:       *policyFlag,
		OutDir:           *outDirFlag,
		ChunkSize:        *chunkFlag,
		ProducerID:       cfg.ProducerID,
		Journal:          journal,
		Audit:            audit.NewLoggerWithWriter(stderr),
		Logger:           slog.Default(),
	})
	if err != nil {
		return fail(stderr, err)
	}

	_, _ = fmt.Fprintf(stdout, "settlement run %s complete for %s\n", result.RunID, period)
	_, _ = fmt.Fprintf(stdout, "  floors:   %s\n", result.FloorsPath)
	_, _ = fmt.Fprintf(stdout, "  payouts:  %s\n", result.PayoutsPath)
	_, _ = fmt.Fprintf(stdout, "  chains:   %s, %s\n", result.ReceiptsChainPath, result.PayoutsChainPath)
	_, _ = fmt.Fprintf(stdout, "  manifest: %s (bundle_hash=%s)\n", result.ManifestPath, result.Manifest.BundleHash)
	if result.CoverageInconsistent {
		_, _ = fmt.Fprintln(stdout, "  warning: period flagged coverage-inconsistent, floors fell back to zero")
	}
	return contracts.ExitOK
}
