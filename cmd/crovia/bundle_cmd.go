package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/crovia-labs/crovia-core/pkg/bundle"
	"github.com/crovia-labs/crovia-core/pkg/config"
	"github.com/crovia-labs/crovia-core/pkg/contracts"
)

func runBundleCmd(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: crovia bundle <build|verify> [flags]")
		return contracts.ExitUsage
	}
	switch args[0] {
	case "build":
		return runBundleBuild(args[1:], cfg, stdout, stderr)
	case "verify":
		return runBundleVerify(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "bundle: unknown subcommand %q\n", args[0])
		return contracts.ExitUsage
	}
}

// runBundleBuild assembles a manifest from name=path[:kind] arguments.
func runBundleBuild(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bundle build", flag.ContinueOnError)
	fs.SetOutput(stderr)
	periodFlag := fs.String("period", "", "settlement period (YYYY-MM)")
	outFlag := fs.String("out", "", "output manifest path")
	baseFlag := fs.String("base-dir", ".", "directory artifact paths are relative to")
	producerFlag := fs.String("producer", cfg.ProducerID, "producer id recorded in the manifest")
	if err := fs.Parse(args); err != nil {
		return contracts.ExitUsage
	}
	if *periodFlag == "" || *outFlag == "" || fs.NArg() == 0 {
		_, _ = fmt.Fprintln(stderr,
			"bundle build: --period, --out and at least one name=path[:kind] argument are required")
		return contracts.ExitUsage
	}
	period, err := contracts.ParsePeriod(*periodFlag)
	if err != nil {
		return fail(stderr, err)
	}

	artifacts := make(map[string]bundle.Declared, fs.NArg())
	for _, arg := range fs.Args() {
		name, rest, ok := strings.Cut(arg, "=")
		if !ok || name == "" || rest == "" {
			_, _ = fmt.Fprintf(stderr, "bundle build: malformed artifact %q (want name=path[:kind])\n", arg)
			return contracts.ExitUsage
		}
		path, kind, _ := strings.Cut(rest, ":")
		artifacts[name] = bundle.Declared{Path: path, Kind: kind}
	}

	manifest, err := bundle.Assemble(bundle.AssembleInput{
		Period:     period,
		ProducerID: *producerFlag,
		BaseDir:    *baseFlag,
		Artifacts:  artifacts,
	})
	if err != nil {
		return fail(stderr, err)
	}
	if err := manifest.WriteFile(*outFlag); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "bundle written to %s (artifacts=%d, bundle_hash=%s)\n",
		*outFlag, len(manifest.Artifacts), manifest.BundleHash)
	return contracts.ExitOK
}

func runBundleVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bundle verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	manifestFlag := fs.String("manifest", "", "manifest file to verify")
	if err := fs.Parse(args); err != nil {
		return contracts.ExitUsage
	}
	if *manifestFlag == "" {
		_, _ = fmt.Fprintln(stderr, "bundle verify: --manifest is required")
		return contracts.ExitUsage
	}

	report, err := bundle.Validate(*manifestFlag)
	if err != nil {
		return fail(stderr, err)
	}
	for _, c := range report.Checks {
		line := fmt.Sprintf("- %-24s %s", c.Name, c.Status)
		if c.Detail != "" {
			line += "  (" + c.Detail + ")"
		}
		_, _ = fmt.Fprintln(stdout, line)
	}
	_, _ = fmt.Fprintln(stdout, report.Summary)
	if !report.Verified {
		return contracts.ExitIntegrity
	}
	return contracts.ExitOK
}
