// Package main provides the CLI entry point for the storycore actor
// scheduler.
//
// storycore loads a YAML configuration describing LLM providers, rate-limit
// tiers, the durable repository backend, and a set of scheduled actors, then
// runs those actors to completion against their configured schedules,
// accounting tokens/cost and persisting every narrative execution.
//
// # Basic Usage
//
// Start the scheduler:
//
//	storycore run --config storycore.yaml
//
// Validate a configuration file without starting anything:
//
//	storycore validate-config --config storycore.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached. It is
// separated from main so tests can exercise the command tree directly.
func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "storycore",
		Short: "storycore - scheduled multi-act narrative actor runtime",
		Long: `storycore drives named narratives (sequences of LLM acts, bot commands,
and table lookups) through a rate-limited driver registry, persists results
through a processor pipeline, and schedules named actors that compose those
narratives with other skills on cron/interval/once/immediate schedules.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildRunCmd(), buildValidateConfigCmd(), buildVersionCmd())
	return root
}
