package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaforge/internal/api"
	"mediaforge/internal/apiclient"
	"mediaforge/internal/jobstore"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Create and inspect single-clip jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCreateCommand(ctx))
	jobsCmd.AddCommand(newJobsApproveCommand(ctx))
	jobsCmd.AddCommand(newJobsDeleteCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFlags(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				jobs, err := client.ListJobs(cmd.Context(), statuses, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprint(out, renderJobTable(jobs, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable or comma-separated)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of jobs")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job with its stage outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				job, err := client.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				out := cmd.OutOrStdout()
				printJob(out, job, shouldColorize(out))
				return nil
			})
		},
	}
}

func newJobsCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateJobRequest
	var autoApprove, wait bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("auto-approve") {
				req.AutoApprove = &autoApprove
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				job, err := client.SubmitJob(cmd.Context(), req, wait)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				out := cmd.OutOrStdout()
				if !wait {
					fmt.Fprintf(out, "Job %s submitted\n", job.ID)
					return nil
				}
				printJob(out, job, shouldColorize(out))
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&req.Title, "title", "t", "", "Job title")
	flags.StringVarP(&req.Description, "description", "d", "", "What the clip should cover")
	flags.StringVar(&req.SourceURL, "source-url", "", "Article to enrich the script with")
	flags.StringVar(&req.Style, "style", "", "Script style (defaults to workflow.default_style)")
	flags.IntVar(&req.DurationSeconds, "duration", 0, "Target duration in seconds")
	flags.StringVar(&req.AspectRatio, "aspect", "", "Aspect ratio: 16:9, 9:16 or 1:1")
	flags.StringVar(&req.Voice, "voice", "", "Speech voice")
	flags.Float64Var(&req.Speed, "speed", 0, "Speech speed multiplier")
	flags.StringVar(&req.AvatarImage, "avatar", "", "Avatar image to composite into the scene")
	flags.StringVar(&req.PersonaID, "persona", "", "Persona supplying voice and avatar")
	flags.BoolVar(&autoApprove, "auto-approve", false, "Skip the review queue")
	flags.BoolVarP(&wait, "wait", "w", false, "Block until the job finishes")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newJobsApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a job waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				job, err := client.ApproveJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", job.ID, strings.ToLower(statusLabel(job.Status)))
				return nil
			})
		},
	}
}

func newJobsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Cancel and remove jobs with their artifacts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					err := client.DeleteJob(cmd.Context(), id)
					switch {
					case apiclient.IsNotFound(err):
						fmt.Fprintf(out, "Job %s not found\n", id)
					case err != nil:
						return err
					default:
						fmt.Fprintf(out, "Job %s deleted\n", id)
					}
				}
				return nil
			})
		},
	}
}

func parseStatusFlags(values []string) ([]jobstore.Status, error) {
	var statuses []jobstore.Status
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		status, ok := jobstore.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func renderJobTable(jobs []*jobstore.Job, colorize bool) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			truncate(job.Input.Title, 40),
			colorStatus(job.Status, colorize),
			strconv.Itoa(job.Progress) + "%",
			formatTime(job.CreatedAt),
		})
	}
	return renderTable([]string{"ID", "Title", "Status", "Progress", "Created"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
}

func printJob(out io.Writer, job *jobstore.Job, colorize bool) {
	fmt.Fprintf(out, "Job %s\n", job.ID)
	fmt.Fprintf(out, "  Title:    %s\n", job.Input.Title)
	fmt.Fprintf(out, "  Status:   %s (%d%%)\n", colorStatus(job.Status, colorize), job.Progress)
	fmt.Fprintf(out, "  Created:  %s\n", formatTime(job.CreatedAt))
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "  Finished: %s\n", formatTime(*job.CompletedAt))
	}
	if job.Error != "" {
		fmt.Fprintf(out, "  Error:    %s\n", job.Error)
	}
	o := job.Outputs
	if o.Script != "" {
		fmt.Fprintf(out, "  Script:   %s\n", truncate(o.Script, 72))
	}
	fmt.Fprintf(out, "  Image:    %s\n", orDash(o.ImageRef))
	fmt.Fprintf(out, "  Audio:    %s\n", orDash(o.AudioRef))
	fmt.Fprintf(out, "  Video:    %s\n", orDash(o.VideoRef))
	if o.VideoDuration > 0 {
		fmt.Fprintf(out, "  Duration: %.1fs\n", o.VideoDuration)
	}
}
