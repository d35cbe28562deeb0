// Command crovia is the Crovia settlement engine CLI: floors, payouts,
// hash-chain proofs, and trust bundles for one settlement period.
//
// Exit codes are stable per error class (see pkg/contracts): 0 success,
// 1 usage, 2 configuration, 3 integrity violation / verification failed,
// 4 missing artifact, 5 upstream data error.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/crovia-labs/crovia-core/pkg/config"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

// Version of the crovia CLI. Kept in lockstep with the bundle format's major
// version.
const Version = "1.1.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, exposed for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return contracts.ExitUsage
	}

	cfg := config.Load()
	setupLogger(cfg.LogLevel, stderr)

	switch args[1] {
	case "floors":
		return runFloorsCmd(args[2:], cfg, stdout, stderr)
	case "payouts":
		return runPayoutsCmd(args[2:], cfg, stdout, stderr)
	case "chain":
		return runChainCmd(args[2:], cfg, stdout, stderr)
	case "bundle":
		return runBundleCmd(args[2:], cfg, stdout, stderr)
	case "run":
		return runRunCmd(args[2:], cfg, stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, "crovia "+Version)
		return contracts.ExitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return contracts.ExitOK
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", args[1])
		printUsage(stderr)
		return contracts.ExitUsage
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, strings.TrimLeft(`
Usage: crovia <command> [flags]

Commands:
  floors    compute the floor artifact for a period
  payouts   compute the payout artifact for a period
  chain     build or verify a hash-chain proof over a byte log
  bundle    build or verify a trust bundle manifest
  run       full settlement pipeline for one period
  version   print the engine version
`, "\n"))
}

func setupLogger(level string, w io.Writer) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

// fail prints a classified error and returns its documented exit code.
func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintln(stderr, "error:", err)
	return contracts.ExitCodeFor(err)
}
