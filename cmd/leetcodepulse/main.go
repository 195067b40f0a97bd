// Package main provides the CLI entrypoint for leetcodepulse.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ch2ohch2oh/leetcodepulse/monitor"
)

const (
	defaultConfigPath = "config/indices.yaml"
	defaultTemplate   = "templates/template.html"
	defaultSiteOut    = "public/index.html"
	defaultSlugList   = "data/leetcode75.txt"
)

var (
	verbose bool

	collectConfigPath string
	collectIndexID    string
	collectInput      string
	collectOutput     string
	collectMode       string
	collectInterval   time.Duration

	siteConfigPath string
	siteTemplate   string
	siteOutput     string

	planOutput string

	usersInput string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "leetcodepulse",
		Short:         "Track engagement statistics for LeetCode problem sets",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print per-problem progress")

	rootCmd.AddCommand(newCollectCmd())
	rootCmd.AddCommand(newSiteCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newUsersCmd())
	return rootCmd
}

func newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect engagement statistics for configured indices",
		Args:  cobra.NoArgs,
		RunE:  runCollectCmd,
	}
	cmd.Flags().StringVarP(&collectConfigPath, "config", "c", defaultConfigPath, "indices config file")
	cmd.Flags().StringVar(&collectIndexID, "index", "", "only process the index with this ID")
	cmd.Flags().StringVarP(&collectInput, "input", "i", "", "slug list file (bypasses the config file)")
	cmd.Flags().StringVarP(&collectOutput, "output", "o", "", "CSV log file for --input mode")
	cmd.Flags().StringVar(&collectMode, "mode", string(monitor.ModeStats), "statistic to collect in --input mode: stats or users")
	cmd.Flags().DurationVar(&collectInterval, "interval", 0, "repeat the collection every interval (0 runs once)")
	return cmd
}

func runCollectCmd(_ *cobra.Command, _ []string) error {
	indices, direct, err := collectIndices()
	if err != nil {
		return err
	}
	runner, err := monitor.NewRunner(monitor.RunnerConfig{
		Indices:   indices,
		OnlyIndex: collectIndexID,
		Source:    monitor.NewClient(),
		FailFast:  direct,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if collectInterval <= 0 {
		return runner.RunOnce(ctx)
	}
	for {
		if err := runner.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(collectInterval):
		}
	}
}

// collectIndices resolves what to collect: either a single synthetic index
// from --input/--output, or the config file's index list. The bool reports
// the single-target case, whose failures are fatal to the run rather than
// logged and skipped.
func collectIndices() ([]monitor.IndexConfig, bool, error) {
	if collectInput != "" || collectOutput != "" {
		if collectInput == "" || collectOutput == "" {
			return nil, false, fmt.Errorf("--input and --output must be used together")
		}
		mode := monitor.Mode(collectMode)
		if mode != monitor.ModeStats && mode != monitor.ModeUsers {
			return nil, false, fmt.Errorf("unknown mode %q (expected stats or users)", collectMode)
		}
		// A missing slug list is fatal here, unlike config-driven runs where
		// it only skips the one index.
		if _, err := os.Stat(collectInput); err != nil {
			return nil, false, fmt.Errorf("input file: %w", err)
		}
		return []monitor.IndexConfig{{
			ID:         "cli",
			Name:       "Command line",
			InputFile:  collectInput,
			OutputFile: collectOutput,
			Mode:       mode,
		}}, true, nil
	}

	cfg, err := monitor.LoadConfig(collectConfigPath)
	if err != nil {
		return nil, false, fmt.Errorf("load config: %w", err)
	}
	return cfg.Indices, false, nil
}

func newSiteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Generate the static dashboard from collected logs",
		Args:  cobra.NoArgs,
		RunE:  runSiteCmd,
	}
	cmd.Flags().StringVarP(&siteConfigPath, "config", "c", defaultConfigPath, "indices config file")
	cmd.Flags().StringVarP(&siteTemplate, "template", "t", defaultTemplate, "HTML template file")
	cmd.Flags().StringVarP(&siteOutput, "output", "o", defaultSiteOut, "output HTML file")
	return cmd
}

func runSiteCmd(_ *cobra.Command, _ []string) error {
	cfg, err := monitor.LoadConfig(siteConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Indices) == 0 {
		return fmt.Errorf("no indices in %s", siteConfigPath)
	}
	site := monitor.BuildSite(cfg.Indices)
	if err := monitor.RenderSite(site, siteTemplate, siteOutput); err != nil {
		return err
	}
	log.WithField("path", siteOutput).Info("Site generated")
	return nil
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <plan-slug>",
		Short: "Fetch the problem list of a study plan",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlanCmd,
	}
	cmd.Flags().StringVarP(&planOutput, "output", "o", "", "write slugs to this file instead of stdout")
	return cmd
}

func runPlanCmd(cmd *cobra.Command, args []string) error {
	planSlug := args[0]
	client := monitor.NewClient()
	slugs, err := client.StudyPlanSlugs(cmd.Context(), planSlug)
	if err != nil {
		return fmt.Errorf("fetch study plan %q: %w", planSlug, err)
	}
	if len(slugs) == 0 {
		return fmt.Errorf("study plan %q has no problems", planSlug)
	}
	log.WithFields(log.Fields{"plan": planSlug, "problems": len(slugs)}).Info("Study plan fetched")

	if planOutput == "" {
		for _, s := range slugs {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), s); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		return nil
	}
	if err := monitor.WriteSlugs(planOutput, slugs); err != nil {
		return fmt.Errorf("write slug list: %w", err)
	}
	log.WithField("path", planOutput).Info("Slug list saved")
	return nil
}

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Print live viewer counts for each problem in a slug list",
		Args:  cobra.NoArgs,
		RunE:  runUsersCmd,
	}
	cmd.Flags().StringVarP(&usersInput, "input", "i", defaultSlugList, "slug list file")
	return cmd
}

func runUsersCmd(cmd *cobra.Command, _ []string) error {
	slugs, err := monitor.ReadSlugs(usersInput)
	if err != nil {
		return fmt.Errorf("read slug list: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d problems from %s\n\n", len(slugs), usersInput)

	client := monitor.NewClient()
	for _, slug := range slugs {
		count, err := client.OnlineUsers(cmd.Context(), slug)
		if err != nil {
			log.WithField("slug", slug).WithError(err).Warn("Fetch failed")
			count = -1
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Problem: %-50s | Online Users: %d\n", slug, count)
	}
	return nil
}
