package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"mediaforge/internal/api"
	"mediaforge/internal/apiclient"
)

func newAssembleCommand(ctx *commandContext) *cobra.Command {
	var (
		transitions       bool
		transitionSeconds float64
		output            string
		layout            string
	)
	cmd := &cobra.Command{
		Use:   "assemble <clip>...",
		Short: "Stitch existing clips into one file",
		Long: "Stitch clips on the daemon host, in argument order. With --layout the clips\n" +
			"are composed side by side (horizontal, vertical or grid) instead.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.AssembleRequest{
				WithTransitions: transitions,
				OutputPath:      output,
				Layout:          layout,
			}
			if cmd.Flags().Changed("transition-seconds") {
				req.TransitionSeconds = &transitionSeconds
			}
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", arg, err)
				}
				req.Clips = append(req.Clips, api.ClipRequest{Path: path})
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				result, err := client.Assemble(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Wrote %s (%.1fs)\n", result.OutputPath, result.Duration)
				if result.FellBack {
					fmt.Fprintln(out, "Transitions failed; clips were concatenated instead")
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&transitions, "transitions", false, "Crossfade between clips")
	flags.Float64Var(&transitionSeconds, "transition-seconds", 0, "Crossfade length (defaults to conversation.transition_seconds)")
	flags.StringVarP(&output, "output", "o", "", "Output name relative to the daemon's output directory (generated when empty)")
	flags.StringVar(&layout, "layout", "", "Split-screen layout: horizontal, vertical or grid")
	return cmd
}
