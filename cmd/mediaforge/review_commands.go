package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaforge/internal/apiclient"
	"mediaforge/internal/review"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Work the review queue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs and conversations waiting for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				items, err := client.ListReview(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Review queue is empty")
					return nil
				}
				fmt.Fprint(out, renderReviewTable(items, shouldColorize(out)))
				return nil
			})
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve <id>...",
		Short: "Approve queued records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				for _, id := range args {
					if err := client.ApproveReview(cmd.Context(), id); err != nil {
						return fmt.Errorf("approve %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Approved %s\n", id)
				}
				return nil
			})
		},
	}

	rejectCmd := &cobra.Command{
		Use:   "reject <id>...",
		Short: "Reject queued records, deleting them and their artifacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				for _, id := range args {
					if err := client.RejectReview(cmd.Context(), id); err != nil {
						return fmt.Errorf("reject %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s\n", id)
				}
				return nil
			})
		},
	}

	reviewCmd.AddCommand(listCmd, approveCmd, rejectCmd)
	return reviewCmd
}

func renderReviewTable(items []review.Item, colorize bool) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			string(item.Kind),
			truncate(item.Title, 40),
			colorStatus(item.Status, colorize),
			orDash(item.EnqueuedAt),
		})
	}
	return renderTable([]string{"ID", "Kind", "Title", "Status", "Enqueued"}, rows, nil)
}
