package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"group-ledger/ledger"
)

var processSource string

var processCmd = &cobra.Command{
	Use:   "process <message>",
	Short: "Ingest a single message from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pipeline, err := newPipeline(st)
		if err != nil {
			return err
		}
		msg := ledger.Message{Text: strings.Join(args, " "), SourceGroupID: processSource}
		res, err := pipeline.Ingest(ctx, msg)
		out := cmd.OutOrStdout()
		if errors.Is(err, ledger.ErrNoIdentifier) {
			fmt.Fprintln(out, "No group id found, message skipped")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Group %s: %s (version %d)\n", res.EntityID, res.Action, res.Version)
		return nil
	},
}

var (
	ingestOnce         bool
	ingestPollInterval time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Drain OneBot event files from the configured spool inputs",
	Long: `Drain OneBot event files from the configured spool inputs.

By default a single pass runs and the command exits, which suits cron. With
--once=false the spool is polled until the process is interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		spoolCfg := cfg.Spool
		if cmd.Flags().Changed("poll-interval") {
			spoolCfg.PollInterval = ingestPollInterval
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pipeline, err := newPipeline(st)
		if err != nil {
			return err
		}
		sp, err := ledger.NewSpooler(spoolCfg, pipeline, ledger.NewEventFilter(cfg.Listen.Groups), logger)
		if err != nil {
			return err
		}
		if !ingestOnce {
			return sp.Run(ctx)
		}
		stats, err := sp.RunOnce(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "files %d (done %d, failed %d, kept %d), messages %d: inserted %d, unchanged %d, new versions %d, skipped %d, errors %d\n",
			stats.Files, stats.FilesDone, stats.FilesFailed, stats.FilesKept, stats.Messages,
			stats.Inserted, stats.Unchanged, stats.NewVersions, stats.Skipped, stats.Errors)
		return err
	},
}

func init() {
	processCmd.Flags().StringVarP(&processSource, "source", "s", "", "source group id recorded as provenance")
	ingestCmd.Flags().BoolVar(&ingestOnce, "once", true, "run a single pass and exit")
	ingestCmd.Flags().DurationVar(&ingestPollInterval, "poll-interval", 5*time.Second, "polling interval with --once=false (overrides spool.poll_interval)")
	rootCmd.AddCommand(processCmd, ingestCmd)
}
