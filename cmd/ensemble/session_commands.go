package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ensemble/internal/ipc"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}
	sessionCmd.AddCommand(newSessionCreateCommand(ctx))
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	sessionCmd.AddCommand(newSessionEndCommand(ctx))
	sessionCmd.AddCommand(newSessionTurnCommand(ctx))
	sessionCmd.AddCommand(newSessionHandoffCommand(ctx))
	return sessionCmd
}

func newSessionCreateCommand(ctx *commandContext) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "create <device-id> <persona-id>",
		Short: "Start a session on a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionCreate(ipc.SessionCreateRequest{
					DeviceID:  args[0],
					PersonaID: args[1],
					UserID:    userID,
				})
				if err != nil {
					return err
				}
				fmt.Printf("session %s started on %s (expires %s)\n",
					resp.Session.ID, resp.Session.DeviceID,
					resp.Session.ExpiresAt.Local().Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User the session belongs to")
	return cmd
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	var showTurns bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionShow(args[0])
				if err != nil {
					return err
				}
				s := resp.Session
				handoffs := ""
				for i, h := range s.Handoffs {
					if i > 0 {
						handoffs += ", "
					}
					handoffs += fmt.Sprintf("%s->%s", h.From, h.To)
				}
				fmt.Println(renderKV([][2]string{
					{"ID", s.ID},
					{"Device", s.DeviceID},
					{"Persona", s.PersonaID},
					{"User", s.UserID},
					{"State", s.State},
					{"Turns", fmt.Sprintf("%d", len(s.Turns))},
					{"Handoffs", handoffs},
					{"Created", s.CreatedAt.Local().Format(time.RFC3339)},
					{"Expires", s.ExpiresAt.Local().Format(time.RFC3339)},
				}))
				if showTurns && len(s.Turns) > 0 {
					rows := make([][]string, 0, len(s.Turns))
					for _, turn := range s.Turns {
						rows = append(rows, []string{
							turn.Timestamp.Local().Format("15:04:05"),
							turn.Role,
							turn.PersonaID,
							turn.Content,
						})
					}
					fmt.Println(renderTable([]string{"Time", "Role", "Persona", "Content"}, rows))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showTurns, "turns", false, "Include the turn history")
	return cmd
}

func newSessionEndCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.SessionEnd(args[0]); err != nil {
					return err
				}
				fmt.Printf("ended %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionTurnCommand(ctx *commandContext) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "turn <session-id> <content>",
		Short: "Append a conversation turn",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionTurn(ipc.SessionTurnRequest{
					SessionID: args[0],
					Role:      role,
					Content:   args[1],
				})
				if err != nil {
					return err
				}
				fmt.Printf("turn recorded (%d total)\n", resp.TurnCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "Turn role (user, assistant, system)")
	return cmd
}

func newSessionHandoffCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "handoff <session-id> <from-device> <to-device>",
		Short: "Move a session between devices",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Handoff(ipc.HandoffRequest{
					SessionID:    args[0],
					FromDeviceID: args[1],
					ToDeviceID:   args[2],
				})
				if err != nil {
					return err
				}
				fmt.Printf("session %s now on %s (%d turns preserved)\n",
					resp.Session.ID, resp.Session.DeviceID, len(resp.Session.Turns))
				return nil
			})
		},
	}
}
