package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/crovia-labs/crovia-core/pkg/config"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
	"github.com/crovia-labs/crovia-core/pkg/hashchain"
)

func runChainCmd(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: crovia chain <build|verify> [flags]")
		return contracts.ExitUsage
	}
	switch args[0] {
	case "build":
		return runChainBuild(args[1:], cfg, stdout, stderr)
	case "verify":
		return runChainVerify(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "chain: unknown subcommand %q\n", args[0])
		return contracts.ExitUsage
	}
}

func runChainBuild(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chain build", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sourceFlag := fs.String("source", "", "source file to chain")
	outFlag := fs.String("out", "", "output chain file path")
	chunkFlag := fs.Int64("chunk", cfg.ChunkSize, "chunk size in bytes")
	if err := fs.Parse(args); err != nil {
		return contracts.ExitUsage
	}
	if *sourceFlag == "" || *outFlag == "" {
		_, _ = fmt.Fprintln(stderr, "chain build: --source and --out are required")
		return contracts.ExitUsage
	}

	chain, err := hashchain.Build(*sourceFlag, *chunkFlag)
	if err != nil {
		return fail(stderr, err)
	}
	if err := chain.WriteFile(*outFlag); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "chain written to %s (chunks=%d, root=%s)\n",
		*outFlag, chain.Trailer.ChunkCount, chain.Root())
	return contracts.ExitOK
}

func runChainVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chain verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sourceFlag := fs.String("source", "", "original source file")
	chainFlag := fs.String("chain", "", "chain file to verify against")
	chunkFlag := fs.Int64("chunk", 0, "expected chunk size (0 = trust the chain header)")
	if err := fs.Parse(args); err != nil {
		return contracts.ExitUsage
	}
	if *sourceFlag == "" || *chainFlag == "" {
		_, _ = fmt.Fprintln(stderr, "chain verify: --source and --chain are required")
		return contracts.ExitUsage
	}

	chain, err := hashchain.ReadFile(*chainFlag)
	if err != nil {
		return fail(stderr, err)
	}
	if *chunkFlag > 0 && chain.Header.ChunkSize != *chunkFlag {
		_, _ = fmt.Fprintf(stderr, "verify FAIL: %s: chain built with chunk size %d, expected %d\n",
			hashchain.ReasonChunkSizeMismatch, chain.Header.ChunkSize, *chunkFlag)
		return contracts.ExitIntegrity
	}
	result, err := hashchain.Verify(*sourceFlag, chain)
	if err != nil {
		return fail(stderr, err)
	}
	if !result.Verified {
		_, _ = fmt.Fprintf(stderr, "verify FAIL: %s (chunk=%d): %s\n",
			result.Reason, result.ChunkIndex, result.Detail)
		return contracts.ExitIntegrity
	}
	_, _ = fmt.Fprintf(stdout, "verify OK: root=%s\n", result.ChainRoot)
	return contracts.ExitOK
}
