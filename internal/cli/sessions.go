package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and reset stored conversations",
		Long:  "Inspect and reset stored conversations. Run these while the bot is stopped; a running bot keeps its own copy in memory and overwrites the store on its next write.",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsResetCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every known user with nickname and turn count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeStore, err := openRegistry(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tNICKNAME\tACCOUNT\tTURNS")
			for _, rec := range reg.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", rec.UserKey, rec.Nickname, rec.AccountTag, len(rec.History))
			}
			return w.Flush()
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Print a user's conversation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeStore, err := openRegistry(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			rec, ok := reg.Get(args[0])
			if !ok {
				return fmt.Errorf("no session for user %s", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s, %s)\n", rec.UserKey, rec.Nickname, rec.AccountTag)
			for _, turn := range rec.History {
				fmt.Fprintf(out, "%s: %s\n", turn.Role, turn.Content)
			}
			return nil
		},
	}
}

func newSessionsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user>",
		Short: "Clear a user's history, keeping nickname and account tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, closeStore, err := openRegistry(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			if _, ok := reg.Get(args[0]); !ok {
				return fmt.Errorf("no session for user %s", args[0])
			}
			if err := reg.ResetHistory(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "history of %s cleared\n", args[0])
			return nil
		},
	}
}
