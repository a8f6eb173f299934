package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ensemble/internal/ipc"
)

func newAlertCommand(ctx *commandContext) *cobra.Command {
	var sourceDeviceID string
	cmd := &cobra.Command{
		Use:   "alert <message>...",
		Short: "Broadcast an emergency alert to every device",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Alert(strings.Join(args, " "), sourceDeviceID); err != nil {
					return err
				}
				fmt.Println("alert broadcast")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceDeviceID, "source", "", "Device the alert originates from")
	return cmd
}

func newSayCommand(ctx *commandContext) *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "say <device-id> <text>...",
		Short: "Push a spoken response to a connected device",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Say(ipc.SayRequest{
					DeviceID: args[0],
					Text:     strings.Join(args[1:], " "),
					Priority: priority,
				}); err != nil {
					return err
				}
				fmt.Println("sent")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "Delivery priority (empty or high)")
	return cmd
}
