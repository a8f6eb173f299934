package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ensemble/internal/ipc"
)

func newDeviceCommand(ctx *commandContext) *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Manage registered devices",
	}
	deviceCmd.AddCommand(newDeviceRegisterCommand(ctx))
	deviceCmd.AddCommand(newDeviceListCommand(ctx))
	deviceCmd.AddCommand(newDeviceShowCommand(ctx))
	deviceCmd.AddCommand(newDeviceRetireCommand(ctx))
	return deviceCmd
}

func newDeviceRegisterCommand(ctx *commandContext) *cobra.Command {
	var (
		deviceType string
		groupID    string
		location   string
		audioIn    bool
		audioOut   bool
		buttons    bool
		leds       bool
		display    bool
	)
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a new device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DeviceRegister(ipc.DeviceRegisterRequest{
					Name:        args[0],
					Type:        deviceType,
					GroupID:     groupID,
					Location:    location,
					AudioInput:  audioIn,
					AudioOutput: audioOut,
					Buttons:     buttons,
					LEDs:        leds,
					Display:     display,
				})
				if err != nil {
					return err
				}
				fmt.Printf("registered %s\n", resp.Device.ID)
				fmt.Printf("token: %s (shown once, store it on the device)\n", resp.Token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&deviceType, "type", "speaker", "Device type (speaker, tablet, custom, simulator)")
	cmd.Flags().StringVar(&groupID, "group", "", "Group the device belongs to")
	cmd.Flags().StringVar(&location, "location", "", "Physical location label")
	cmd.Flags().BoolVar(&audioIn, "audio-in", true, "Device has a microphone")
	cmd.Flags().BoolVar(&audioOut, "audio-out", true, "Device has a speaker")
	cmd.Flags().BoolVar(&buttons, "buttons", false, "Device has physical buttons")
	cmd.Flags().BoolVar(&leds, "leds", false, "Device has status LEDs")
	cmd.Flags().BoolVar(&display, "display", false, "Device has a display")
	return cmd
}

func newDeviceListCommand(ctx *commandContext) *cobra.Command {
	var groupID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DeviceList(groupID)
				if err != nil {
					return err
				}
				if len(resp.Devices) == 0 {
					fmt.Println("no devices registered")
					return nil
				}
				rows := make([][]string, 0, len(resp.Devices))
				for _, device := range resp.Devices {
					heartbeat := "-"
					if device.LastHeartbeat != nil {
						heartbeat = device.LastHeartbeat.Local().Format(time.RFC3339)
					}
					rows = append(rows, []string{
						device.ID,
						device.Name,
						device.Type,
						device.Status,
						device.GroupID,
						device.ActivePersonaID,
						heartbeat,
					})
				}
				fmt.Println(renderTable(
					[]string{"ID", "Name", "Type", "Status", "Group", "Persona", "Last Heartbeat"},
					rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "Filter by group")
	return cmd
}

func newDeviceShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <device-id>",
		Short: "Show one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DeviceShow(args[0])
				if err != nil {
					return err
				}
				device := resp.Device
				heartbeat := "-"
				if device.LastHeartbeat != nil {
					heartbeat = device.LastHeartbeat.Local().Format(time.RFC3339)
				}
				fmt.Println(renderKV([][2]string{
					{"ID", device.ID},
					{"Name", device.Name},
					{"Type", device.Type},
					{"Status", device.Status},
					{"Group", device.GroupID},
					{"Location", device.Location},
					{"Active persona", device.ActivePersonaID},
					{"Active session", device.ActiveSessionID},
					{"Last heartbeat", heartbeat},
					{"Registered", device.RegisteredAt.Local().Format(time.RFC3339)},
				}))
				return nil
			})
		},
	}
}

func newDeviceRetireCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retire <device-id>",
		Short: "Retire a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.DeviceRetire(args[0]); err != nil {
					return err
				}
				fmt.Printf("retired %s\n", args[0])
				return nil
			})
		},
	}
}
