package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ensemble/internal/ipc"
)

func newPersonaCommand(ctx *commandContext) *cobra.Command {
	personaCmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage personas",
	}
	personaCmd.AddCommand(newPersonaListCommand(ctx))
	personaCmd.AddCommand(newPersonaShowCommand(ctx))
	personaCmd.AddCommand(newPersonaSwitchCommand(ctx))
	personaCmd.AddCommand(newPersonaInvalidateCommand(ctx))
	return personaCmd
}

func newPersonaListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PersonaList()
				if err != nil {
					return err
				}
				if len(resp.Personas) == 0 {
					fmt.Println("no personas available")
					return nil
				}
				rows := make([][]string, 0, len(resp.Personas))
				for _, p := range resp.Personas {
					rows = append(rows, []string{p.ID, p.Name, p.Version, p.Mode, p.Description})
				}
				fmt.Println(renderTable(
					[]string{"ID", "Name", "Version", "Mode", "Description"},
					rows,
				))
				return nil
			})
		},
	}
}

func newPersonaShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <persona-id>",
		Short: "Show one persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PersonaShow(args[0])
				if err != nil {
					return err
				}
				fmt.Println(renderKV([][2]string{
					{"ID", resp.ID},
					{"Name", resp.Name},
					{"Version", resp.Version},
					{"Mode", resp.Mode},
					{"Voice", fmt.Sprintf("%s/%s (%s)", resp.VoiceProvider, resp.VoiceID, resp.Language)},
					{"Triggers", strings.Join(resp.Triggers, ", ")},
					{"Tags", strings.Join(resp.Tags, ", ")},
					{"Description", resp.Description},
				}))
				return nil
			})
		},
	}
}

func newPersonaSwitchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <device-id> <persona-id>",
		Short: "Switch a device's active persona",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PersonaSwitch(args[0], args[1])
				if err != nil {
					return err
				}
				sla := "within SLA"
				if !resp.WithinSLA {
					sla = "SLA EXCEEDED"
				}
				fmt.Printf("switched to %s v%s in %dms (%s)\n",
					resp.PersonaID, resp.PersonaVersion, resp.DurationMillis, sla)
				return nil
			})
		},
	}
}

func newPersonaInvalidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <persona-id>",
		Short: "Drop a persona from the caches so the next load refetches it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.PersonaInvalidate(args[0]); err != nil {
					return err
				}
				fmt.Printf("invalidated %s\n", args[0])
				return nil
			})
		},
	}
}
