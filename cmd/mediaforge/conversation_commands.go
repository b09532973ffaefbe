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

func newConversationsCommand(ctx *commandContext) *cobra.Command {
	convCmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Create and inspect multi-actor conversations",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				convs, err := client.ListConversations(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, convs)
				}
				out := cmd.OutOrStdout()
				if len(convs) == 0 {
					fmt.Fprintln(out, "No conversations")
					return nil
				}
				fmt.Fprint(out, renderConversationTable(convs, shouldColorize(out)))
				return nil
			})
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of conversations")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a conversation and its dialogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				conv, err := client.GetConversation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				lines, err := client.Dialogue(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, conv)
				}
				out := cmd.OutOrStdout()
				printConversation(out, conv, lines, shouldColorize(out))
				return nil
			})
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a conversation waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				conv, err := client.ApproveConversation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, conv)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s %s\n", conv.ID, strings.ToLower(statusLabel(conv.Status)))
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Cancel and remove conversations with their artifacts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				out := cmd.OutOrStdout()
				for _, id := range args {
					err := client.DeleteConversation(cmd.Context(), id)
					switch {
					case apiclient.IsNotFound(err):
						fmt.Fprintf(out, "Conversation %s not found\n", id)
					case err != nil:
						return err
					default:
						fmt.Fprintf(out, "Conversation %s deleted\n", id)
					}
				}
				return nil
			})
		},
	}

	convCmd.AddCommand(listCmd, showCmd, newConversationsCreateCommand(ctx), approveCmd, deleteCmd)
	return convCmd
}

func newConversationsCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateConversationRequest
	var stitch, transitions, requireReview, wait bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a conversation between personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("stitch") {
				req.Stitch = &stitch
			}
			if flags.Changed("transitions") {
				req.WithTransitions = &transitions
			}
			if flags.Changed("require-review") {
				req.RequireReview = &requireReview
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				conv, err := client.CreateConversation(cmd.Context(), req, wait)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, conv)
				}
				out := cmd.OutOrStdout()
				if !wait {
					fmt.Fprintf(out, "Conversation %s started\n", conv.ID)
					return nil
				}
				printConversation(out, conv, conv.Lines, shouldColorize(out))
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&req.Title, "title", "t", "", "Conversation title")
	flags.StringVar(&req.Topic, "topic", "", "What the actors discuss")
	flags.StringVar(&req.Context, "context", "", "Background for the dialogue producer")
	flags.StringVar(&req.Style, "style", "", "Dialogue style")
	flags.StringSliceVarP(&req.ActorRefs, "actor", "a", nil, "Persona id (repeatable, in speaking order)")
	flags.IntVarP(&req.LineCount, "lines", "l", 4, "Number of dialogue lines")
	flags.BoolVar(&stitch, "stitch", true, "Assemble the clips into one file")
	flags.BoolVar(&transitions, "transitions", true, "Crossfade between clips when stitching")
	flags.BoolVar(&requireReview, "require-review", false, "Queue the result for review")
	flags.BoolVarP(&wait, "wait", "w", false, "Block until the conversation finishes")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func renderConversationTable(convs []*jobstore.Conversation, colorize bool) string {
	rows := make([][]string, 0, len(convs))
	for _, conv := range convs {
		rows = append(rows, []string{
			conv.ID,
			truncate(conv.Title, 36),
			colorStatus(conv.Status, colorize),
			strconv.Itoa(conv.Progress) + "%",
			fmt.Sprintf("%d/%d", doneLines(conv.Lines), conv.ExpectedLineCount),
			formatTime(conv.CreatedAt),
		})
	}
	return renderTable([]string{"ID", "Title", "Status", "Progress", "Lines", "Created"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft})
}

func doneLines(lines []jobstore.DialogueLine) int {
	n := 0
	for _, line := range lines {
		if line.Done() {
			n++
		}
	}
	return n
}

func printConversation(out io.Writer, conv *jobstore.Conversation, lines []jobstore.DialogueLine, colorize bool) {
	fmt.Fprintf(out, "Conversation %s\n", conv.ID)
	fmt.Fprintf(out, "  Title:    %s\n", conv.Title)
	fmt.Fprintf(out, "  Topic:    %s\n", conv.Topic)
	fmt.Fprintf(out, "  Actors:   %s\n", strings.Join(conv.ActorRefs, ", "))
	fmt.Fprintf(out, "  Status:   %s (%d%%)\n", colorStatus(conv.Status, colorize), conv.Progress)
	if conv.Error != "" {
		fmt.Fprintf(out, "  Error:    %s\n", conv.Error)
	}
	if conv.FinalMediaPath != "" {
		media := fmt.Sprintf("%s (%.1fs)", conv.FinalMediaPath, conv.FinalDuration)
		if conv.FellBack {
			media += ", transitions fell back to concatenation"
		}
		fmt.Fprintf(out, "  Media:    %s\n", media)
	}
	if len(lines) == 0 {
		return
	}
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, []string{
			strconv.Itoa(line.Sequence),
			line.ActorName,
			truncate(line.Text, 60),
			yesNo(line.Done()),
		})
	}
	fmt.Fprint(out, renderTable([]string{"#", "Actor", "Text", "Clip"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
}
