// Package pipeline runs one full period settlement: aggregate extraction,
// floor solving, payout allocation, hash-chain proofs over the ordered logs,
// and trust-bundle assembly. A run is a pure function of its inputs to its
// artifacts; there is no state carried between runs beyond the optional
// journal row.
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crovia-labs/crovia-core/pkg/audit"
	"github.com/crovia-labs/crovia-core/pkg/bundle"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
	"github.com/crovia-labs/crovia-core/pkg/floors"
	"github.com/crovia-labs/crovia-core/pkg/hashchain"
	"github.com/crovia-labs/crovia-core/pkg/payouts"
	"github.com/crovia-labs/crovia-core/pkg/receipts"
	"github.com/crovia-labs/crovia-core/pkg/store"
)

// Options configures one settlement run.
type Options struct {
	Period           contracts.Period
	BudgetTotalCents contracts.Cents
	Currency         string
	ReceiptsPath     string
	ProvidersPath    string
	PolicyPath       string // optional
	OutDir           string
	ChunkSize        int64
	ProducerID       string

	Journal *store.RunStore // optional
	Audit   audit.Logger    // defaults to Nop
	Logger  *slog.Logger    // defaults to slog.Default
}

// Result reports what a run produced.
type Result struct {
	RunID                string
	FloorsPath           string
	PayoutsPath          string
	ReceiptsChainPath    string
	PayoutsChainPath     string
	ManifestPath         string
	Manifest             *bundle.Manifest
	CoverageInconsistent bool
	EntityCount          int
	Stats                *receipts.ExtractStats
}

// Run executes the full settlement pipeline for one period. Configuration
// and upstream-data errors surface before any artifact is written; nothing
// here retries.
func Run(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auditLog := opts.Audit
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = hashchain.DefaultChunkSize
	}
	period := opts.Period.String()
	runID := uuid.New().String()

	_ = auditLog.Record(audit.EventRun, period, "run_started", opts.ReceiptsPath, map[string]any{
		"run_id": runID,
		"budget": opts.BudgetTotalCents.String(),
	})

	// Load policy before touching outputs: a broken policy must abort the
	// run with nothing written.
	var policy *payouts.Policy
	if opts.PolicyPath != "" {
		p, err := payouts.LoadPolicy(opts.PolicyPath)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	registry, err := receipts.LoadRegistry(opts.ProvidersPath)
	if err != nil {
		return nil, err
	}
	aggregates, stats, err := receipts.ExtractFile(opts.ReceiptsPath, opts.Period, registry)
	if err != nil {
		return nil, err
	}
	logger.Info("aggregates extracted",
		slog.String("period", period),
		slog.Int("providers", len(aggregates)),
		slog.Int("accepted_rows", stats.Accepted),
		slog.Int("skipped_bad_sum", stats.SkippedBadSum))
	_ = auditLog.Record(audit.EventStage, period, "aggregates_extracted", opts.ReceiptsPath, map[string]any{
		"providers": len(aggregates),
		"accepted":  stats.Accepted,
	})

	floorArtifact, err := floors.Solve(floors.Input{
		Period:           opts.Period,
		BudgetTotalCents: opts.BudgetTotalCents,
		Currency:         opts.Currency,
		Providers:        aggregates,
	}, logger)
	if err != nil {
		return nil, err
	}
	if floorArtifact.CoverageInconsistent {
		_ = auditLog.Record(audit.EventWarning, period, "coverage_inconsistent", "", map[string]any{
			"code": contracts.CodeCoverageInconsistent,
		})
	}

	payoutRecords, err := payouts.Allocate(payouts.Input{
		Period:           opts.Period,
		BudgetTotalCents: opts.BudgetTotalCents,
		Currency:         opts.Currency,
		Providers:        aggregates,
		Floors:           floorArtifact.FloorsByProvider(),
		Policy:           policy,
	}, logger)
	if err != nil {
		return nil, err
	}

	// All computation succeeded; only now do artifacts hit disk.
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, err
	}
	res := &Result{
		RunID:                runID,
		CoverageInconsistent: floorArtifact.CoverageInconsistent,
		EntityCount:          len(aggregates),
		Stats:                stats,
		FloorsPath:           filepath.Join(opts.OutDir, "floors_"+period+".json"),
		PayoutsPath:          filepath.Join(opts.OutDir, "payouts_"+period+".ndjson"),
		ReceiptsChainPath:    filepath.Join(opts.OutDir, "hashchain_receipts_"+period+".ndjson"),
		PayoutsChainPath:     filepath.Join(opts.OutDir, "hashchain_payouts_"+period+".ndjson"),
		ManifestPath:         filepath.Join(opts.OutDir, "trust_bundle_"+period+".json"),
	}

	if err := WriteFloorArtifact(res.FloorsPath, floorArtifact); err != nil {
		return nil, err
	}
	_ = auditLog.Record(audit.EventArtifact, period, "floors_written", res.FloorsPath, nil)

	if err := WritePayoutArtifact(res.PayoutsPath, payoutRecords); err != nil {
		return nil, err
	}
	_ = auditLog.Record(audit.EventArtifact, period, "payouts_written", res.PayoutsPath, nil)

	receiptsChain, err := hashchain.Build(opts.ReceiptsPath, opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	if err := receiptsChain.WriteFile(res.ReceiptsChainPath); err != nil {
		return nil, err
	}
	payoutsChain, err := hashchain.Build(res.PayoutsPath, opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	if err := payoutsChain.WriteFile(res.PayoutsChainPath); err != nil {
		return nil, err
	}
	_ = auditLog.Record(audit.EventStage, period, "chains_built", "", map[string]any{
		"receipts_root": receiptsChain.Root(),
		"payouts_root":  payoutsChain.Root(),
	})

	var paidOut contracts.Cents
	for _, r := range payoutRecords {
		paidOut += r.AmountCents
	}
	manifest, err := bundle.Assemble(bundle.AssembleInput{
		Period:     opts.Period,
		ProducerID: opts.ProducerID,
		BaseDir:    opts.OutDir,
		Artifacts: map[string]bundle.Declared{
			"floors":             {Path: filepath.Base(res.FloorsPath), Kind: bundle.KindFloors},
			"payouts":            {Path: filepath.Base(res.PayoutsPath), Kind: bundle.KindPayouts},
			"hashchain_receipts": {Path: filepath.Base(res.ReceiptsChainPath), Kind: bundle.KindHashChain},
			"hashchain_payouts":  {Path: filepath.Base(res.PayoutsChainPath), Kind: bundle.KindHashChain},
		},
		Summary: bundle.Summary{
			EntityCount:       len(aggregates),
			BudgetTotalCents:  opts.BudgetTotalCents,
			PaidOutTotalCents: paidOut,
			Currency:          opts.Currency,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := manifest.WriteFile(res.ManifestPath); err != nil {
		return nil, err
	}
	res.Manifest = manifest
	_ = auditLog.Record(audit.EventArtifact, period, "bundle_written", res.ManifestPath, map[string]any{
		"bundle_hash": manifest.BundleHash,
	})

	if opts.Journal != nil {
		err := opts.Journal.Insert(ctx, store.RunRecord{
			RunID:                runID,
			Period:               period,
			BudgetTotalCents:     int64(opts.BudgetTotalCents),
			Currency:             opts.Currency,
			CoverageSum:          floorArtifact.CoverageSum,
			CoverageInconsistent: floorArtifact.CoverageInconsistent,
			EntityCount:          len(aggregates),
			PaidOutTotalCents:    int64(paidOut),
			ReceiptsChainRoot:    receiptsChain.Root(),
			PayoutsChainRoot:     payoutsChain.Root(),
			BundleHash:           manifest.BundleHash,
			CreatedAt:            time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
	}

	_ = auditLog.Record(audit.EventRun, period, "run_finished", res.ManifestPath, map[string]any{
		"run_id":   runID,
		"paid_out": paidOut.String(),
	})
	logger.Info("settlement run complete",
		slog.String("period", period),
		slog.String("run_id", runID),
		slog.String("bundle_hash", manifest.BundleHash))
	return res, nil
}
