package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mediaforge/internal/apiclient"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/personas"
)

func newPersonasCommand(ctx *commandContext) *cobra.Command {
	personasCmd := &cobra.Command{
		Use:     "personas",
		Aliases: []string{"persona"},
		Short:   "Manage conversation actors",
	}

	var activeOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				list, err := client.ListPersonas(cmd.Context(), activeOnly)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, list)
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No personas")
					return nil
				}
				fmt.Fprint(out, renderPersonaTable(list))
				return nil
			})
		},
	}
	listCmd.Flags().BoolVar(&activeOnly, "active", false, "Only list active personas")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				persona, err := client.GetPersona(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, persona)
				}
				printPersona(cmd.OutOrStdout(), persona)
				return nil
			})
		},
	}

	personasCmd.AddCommand(listCmd, newPersonasAddCommand(ctx), showCmd)
	return personasCmd
}

func newPersonasAddCommand(ctx *commandContext) *cobra.Command {
	var input personas.Input
	var inactive bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a persona",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inactive {
				active := false
				input.Active = &active
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				persona, err := client.CreatePersona(cmd.Context(), input)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, persona)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Persona %s created (%s)\n", persona.Name, persona.ID)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&input.Name, "name", "", "Display name")
	flags.StringVar(&input.ID, "id", "", "Explicit id (generated when empty)")
	flags.StringVar(&input.Personality, "personality", "", "Personality prompt for the dialogue producer")
	flags.StringVar(&input.Description, "description", "", "Free-form description")
	flags.StringVar(&input.VoiceStyle, "voice-style", "", "Voice style passed to speech synthesis")
	flags.StringVar(&input.ImageRef, "image", "", "Reference image for rendering")
	flags.StringVar(&input.AvatarStyle, "avatar-style", "", "Avatar style passed to rendering")
	flags.BoolVar(&inactive, "inactive", false, "Create the persona disabled")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func renderPersonaTable(list []*jobstore.Persona) string {
	rows := make([][]string, 0, len(list))
	for _, p := range list {
		rows = append(rows, []string{
			p.ID,
			p.Name,
			orDash(p.VoiceStyle),
			orDash(truncate(p.ImageRef, 40)),
			yesNo(p.Active),
		})
	}
	return renderTable([]string{"ID", "Name", "Voice", "Image", "Active"}, rows, nil)
}

func printPersona(out io.Writer, p *jobstore.Persona) {
	fmt.Fprintf(out, "Persona %s\n", p.ID)
	fmt.Fprintf(out, "  Name:         %s\n", p.Name)
	fmt.Fprintf(out, "  Personality:  %s\n", orDash(p.Personality))
	fmt.Fprintf(out, "  Description:  %s\n", orDash(p.Description))
	fmt.Fprintf(out, "  Voice style:  %s\n", orDash(p.VoiceStyle))
	fmt.Fprintf(out, "  Image:        %s\n", orDash(p.ImageRef))
	fmt.Fprintf(out, "  Avatar style: %s\n", orDash(p.AvatarStyle))
	fmt.Fprintf(out, "  Active:       %s\n", yesNo(p.Active))
}
