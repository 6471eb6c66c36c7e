// Package main provides the Skuld CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/config"
	"github.com/orneryd/skuld/pkg/enrollment"
	"github.com/orneryd/skuld/pkg/remote"
	"github.com/orneryd/skuld/pkg/skuld"
	"github.com/orneryd/skuld/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skuld",
		Short: "Skuld - Client-Side Experimentation and Staged Rollouts",
		Long: `Skuld decides which experiments this client is enrolled in, which
branch it received, and what the merged feature configuration is.

Features:
  • Deterministic hash bucketing, stable across releases
  • JEXL targeting over app context and behavioral events
  • Two-phase fetch/apply with atomic persistence
  • Opt-in/opt-out and global participation controls`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Skuld v%s (%s)\n", version, commit)
		},
	})

	// Eval command (targeting expression REPL-of-one)
	evalCmd := &cobra.Command{
		Use:   "eval [expression]",
		Short: "Evaluate a targeting expression against the client context",
		Args:  cobra.ExactArgs(1),
		RunE:  runEval,
	}
	rootCmd.AddCommand(evalCmd)

	// Fetch command
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the experiment catalog and store it as pending",
		RunE:  runFetch,
	}
	fetchCmd.Flags().Bool("apply", false, "Apply the fetched catalog immediately")
	rootCmd.AddCommand(fetchCmd)

	// Apply command
	applyCmd := &cobra.Command{
		Use:   "apply [catalog.json]",
		Short: "Apply a catalog file (or the pending catalog with no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runApply,
	}
	rootCmd.AddCommand(applyCmd)

	// Status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show live enrollments and available experiments",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// Opt-in / opt-out commands
	optInCmd := &cobra.Command{
		Use:   "opt-in [slug] [branch]",
		Short: "Force enrollment in a branch, bypassing targeting and bucketing",
		Args:  cobra.ExactArgs(2),
		RunE:  runOptIn,
	}
	rootCmd.AddCommand(optInCmd)

	optOutCmd := &cobra.Command{
		Use:   "opt-out [slug]",
		Short: "Leave an experiment",
		Args:  cobra.ExactArgs(1),
		RunE:  runOptOut,
	}
	rootCmd.AddCommand(optOutCmd)

	// Event commands (behavioral targeting QA)
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Behavioral event operations",
	}
	recordCmd := &cobra.Command{
		Use:   "record [event-id]",
		Short: "Record occurrences of a behavioral event",
		Args:  cobra.ExactArgs(1),
		RunE:  runEventRecord,
	}
	recordCmd.Flags().Int64("count", 1, "Number of occurrences")
	eventCmd.AddCommand(recordCmd)
	advanceCmd := &cobra.Command{
		Use:   "advance [days]",
		Short: "Advance the event clock by whole days",
		Args:  cobra.ExactArgs(1),
		RunE:  runEventAdvance,
	}
	eventCmd.AddCommand(advanceCmd)
	eventCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all recorded events",
		RunE:  runEventClear,
	})
	rootCmd.AddCommand(eventCmd)

	// Reset command
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all enrollments and the applied catalog",
		RunE:  runReset,
	}
	rootCmd.AddCommand(resetCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openClient builds a client from SKULD_* environment configuration. The
// returned shutdown func closes the client and flushes the metrics sink.
func openClient() (*skuld.Client, func(), error) {
	cfg := config.LoadFromEnv()
	appCtx, err := config.LoadContextFile(cfg.ContextFile)
	if err != nil {
		return nil, nil, err
	}

	opts := []skuld.Option{
		skuld.WithDataDir(cfg.DataDir),
		skuld.WithCoenrollingFeatures(cfg.CoenrollingFeatures),
	}
	if cfg.CatalogURL != "" {
		opts = append(opts, skuld.WithSource(&remote.HTTPSource{URL: cfg.CatalogURL}))
	}

	var sink *telemetry.OTelSink
	if cfg.OTelEndpoint != "" {
		sink, err = telemetry.NewOTelSink(context.Background(), telemetry.OTelConfig{
			Endpoint: cfg.OTelEndpoint,
			Insecure: cfg.OTelInsecure,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating metrics sink: %w", err)
		}
		opts = append(opts, skuld.WithSink(sink))
	}

	client, err := skuld.NewClient(appCtx, opts...)
	if err != nil {
		if sink != nil {
			_ = sink.Shutdown(context.Background())
		}
		return nil, nil, fmt.Errorf("creating client: %w", err)
	}

	shutdown := func() {
		_ = client.Close()
		if sink != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sink.Shutdown(ctx)
		}
	}
	return client, shutdown, nil
}

func runEval(cmd *cobra.Command, args []string) error {
	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	helper, err := client.CreateTargetingHelper(nil)
	if err != nil {
		return err
	}
	matched, err := helper.EvalJexl(args[0])
	if err != nil {
		return fmt.Errorf("evaluating expression: %w", err)
	}
	fmt.Println(matched)
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	applyNow, _ := cmd.Flags().GetBool("apply")

	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("📥 Fetching experiment catalog...")
	if err := client.FetchExperiments(ctx); err != nil {
		return fmt.Errorf("fetching catalog: %w", err)
	}
	fmt.Println("✅ Catalog stored as pending")

	if applyNow {
		events, err := client.ApplyPendingExperiments(ctx)
		if err != nil {
			return fmt.Errorf("applying catalog: %w", err)
		}
		printChangeEvents(events)
	}
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	if len(args) == 1 {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading catalog file: %w", err)
		}
		if err := client.SetExperimentsLocally(payload); err != nil {
			return err
		}
	}

	events, err := client.ApplyPendingExperiments(context.Background())
	if err != nil {
		return fmt.Errorf("applying catalog: %w", err)
	}
	printChangeEvents(events)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	if err := client.Initialize(); err != nil {
		return err
	}

	active := client.GetActiveExperiments()
	fmt.Printf("📊 Live enrollments: %d\n", len(active))
	for _, exp := range active {
		fmt.Printf("  • %s -> %s", exp.Slug, exp.Branch)
		if exp.UserFacingName != "" {
			fmt.Printf(" (%s)", exp.UserFacingName)
		}
		fmt.Println()
	}

	available := client.GetAvailableExperiments()
	fmt.Printf("\nAvailable experiments: %d\n", len(available))
	for _, exp := range available {
		kind := "experiment"
		if exp.IsRollout {
			kind = "rollout"
		}
		fmt.Printf("  • %s [%s] branches: %v\n", exp.Slug, kind, exp.Branches)
	}
	return nil
}

func runOptIn(cmd *cobra.Command, args []string) error {
	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	events, err := client.OptInWithBranch(catalog.Slug(args[0]), catalog.Slug(args[1]))
	if err != nil {
		return err
	}
	printChangeEvents(events)
	return nil
}

func runOptOut(cmd *cobra.Command, args []string) error {
	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	events, err := client.OptOut(catalog.Slug(args[0]))
	if err != nil {
		return err
	}
	printChangeEvents(events)
	return nil
}

func runEventRecord(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt64("count")

	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	if err := client.RecordEvent(args[0], count); err != nil {
		return err
	}
	fmt.Printf("✅ Recorded %d × %s\n", count, args[0])
	return nil
}

func runEventAdvance(cmd *cobra.Command, args []string) error {
	days, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing days: %w", err)
	}

	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	if err := client.AdvanceEventTime(days * 86400); err != nil {
		return err
	}
	fmt.Printf("✅ Event clock advanced by %d day(s)\n", days)
	return nil
}

func runEventClear(cmd *cobra.Command, args []string) error {
	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	if err := client.ClearEvents(); err != nil {
		return err
	}
	fmt.Println("✅ Events cleared")
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	client, shutdown, err := openClient()
	if err != nil {
		return err
	}
	defer shutdown()

	if err := client.ResetEnrollments(); err != nil {
		return err
	}
	fmt.Println("✅ Enrollments reset")
	return nil
}

func printChangeEvents(events []enrollment.ChangeEvent) {
	if len(events) == 0 {
		fmt.Println("No enrollment changes")
		return
	}
	fmt.Printf("Enrollment changes: %d\n", len(events))
	for _, ev := range events {
		fmt.Printf("  • %-16s %s", ev.Change, ev.Slug)
		if ev.Branch != "" {
			fmt.Printf(" -> %s", ev.Branch)
		}
		if ev.Reason != "" {
			fmt.Printf(" (%s)", ev.Reason)
		}
		fmt.Println()
	}
}
