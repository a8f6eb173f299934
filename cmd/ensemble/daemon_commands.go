package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ensemble/internal/config"
	"ensemble/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				fmt.Println(renderKV([][2]string{
					{"Running", yesNo(status.Running)},
					{"PID", strconv.Itoa(status.PID)},
					{"Gateway", status.GatewayAddr},
					{"Devices", fmt.Sprintf("%d (%d online)", status.DeviceCount, status.OnlineCount)},
					{"Live activities", strconv.Itoa(status.LiveActivities)},
					{"Database", status.DatabasePath},
					{"Lock", status.LockPath},
				}))
				return nil
			})
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Stop(); err != nil {
					return err
				}
				fmt.Println("daemon stopped")
				return nil
			})
		},
	}
}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write an annotated sample config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Printf("wrote sample config to %s\n", path)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fmt.Println(renderKV([][2]string{
				{"Data dir", cfg.Paths.DataDir},
				{"Log dir", cfg.Paths.LogDir},
				{"Gateway bind", cfg.Gateway.Bind},
				{"Persona source", cfg.Personas.Source},
				{"Persona cache TTL", fmt.Sprintf("%ds", cfg.Personas.CacheTTLSeconds)},
				{"Switch SLA", fmt.Sprintf("%dms", cfg.Personas.SwitchSLAMillis)},
				{"Session TTL", fmt.Sprintf("%dh", cfg.Sessions.TTLHours)},
				{"Ack timeout", fmt.Sprintf("%ds", cfg.Activities.AckTimeoutSeconds)},
				{"Playback lead", fmt.Sprintf("%dms", cfg.Activities.PlaybackLeadMillis)},
				{"Log level", cfg.Logging.Level},
			}))
			return nil
		},
	})

	return configCmd
}
