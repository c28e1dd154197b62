package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <group-id>",
	Short: "Show the current state of a group and its recent versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		e, err := st.Latest(ctx, args[0])
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("group %s not found", args[0])
		}
		out := cmd.OutOrStdout()
		printEntry(out, e)

		hist, err := st.History(ctx, args[0], 5)
		if err != nil {
			return err
		}
		if len(hist) > 0 {
			fmt.Fprintln(out, "\nPrevious versions:")
			for _, h := range hist {
				printHistoryLine(out, h)
			}
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <group-id>",
	Short: "List archived versions of a group, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		hist, err := st.History(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(hist) == 0 {
			fmt.Fprintf(out, "No history for group %s\n", args[0])
			return nil
		}
		for _, h := range hist {
			printHistoryLine(out, h)
		}
		return nil
	},
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search current advertisement content",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		keyword := strings.Join(args, " ")
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		found, err := st.Search(ctx, keyword, searchLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d result(s) for %q\n", len(found), keyword)
		for _, e := range found {
			printEntryLine(out, e)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum number of versions")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum number of results")
	rootCmd.AddCommand(showCmd, historyCmd, searchCmd)
}
