package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"group-ledger/ledger"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the storage tables or files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Storage ready (%s)\n", cfg.Store.Backend)
		return nil
	},
}

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every group and all history",
	Long: `Delete every group and all history.

Without --force the command asks for confirmation and only proceeds when the
answer is "yes".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !resetForce {
			fmt.Fprint(out, "This deletes every group and all history. Type yes to continue: ")
			if !confirmed(cmd.InOrStdin()) {
				fmt.Fprintln(out, "Aborted")
				return nil
			}
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintln(out, "All data deleted")
		return nil
	},
}

func confirmed(r io.Reader) bool {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show totals and the most recently seen groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		s, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Groups:          %d\n", s.TotalEntities)
		fmt.Fprintf(out, "History records: %d\n", s.TotalHistoryRows)
		fmt.Fprintf(out, "Total sightings: %d\n", s.TotalSeenCount)
		if len(s.CountsByGroupType) > 0 {
			fmt.Fprintln(out, "\nBy group type:")
			types := make([]string, 0, len(s.CountsByGroupType))
			for gt := range s.CountsByGroupType {
				types = append(types, string(gt))
			}
			sort.Strings(types)
			for _, gt := range types {
				fmt.Fprintf(out, "  %-8s %d\n", gt, s.CountsByGroupType[ledger.GroupType(gt)])
			}
		}

		recent, err := ledger.Recent(ctx, st, 5)
		if err != nil {
			return err
		}
		if len(recent) > 0 {
			fmt.Fprintln(out, "\nRecently seen:")
			for _, e := range recent {
				printEntryLine(out, e)
			}
		}
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the store is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connection ok (%s)\n", cfg.Store.Backend)
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "skip the confirmation prompt")
	rootCmd.AddCommand(initCmd, resetCmd, statsCmd, testCmd)
}
