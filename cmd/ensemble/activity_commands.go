package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ensemble/internal/ipc"
)

func newActivityCommand(ctx *commandContext) *cobra.Command {
	activityCmd := &cobra.Command{
		Use:   "activity",
		Short: "Run group activities across devices",
	}
	activityCmd.AddCommand(newActivityStartCommand(ctx))
	activityCmd.AddCommand(newActivityListCommand(ctx))
	activityCmd.AddCommand(newActivityShowCommand(ctx))
	activityCmd.AddCommand(newActivityPauseCommand(ctx))
	activityCmd.AddCommand(newActivityResumeCommand(ctx))
	activityCmd.AddCommand(newActivityEndCommand(ctx))
	activityCmd.AddCommand(newActivityRoundCommand(ctx))
	activityCmd.AddCommand(newActivitySyncCommand(ctx))
	return activityCmd
}

func newActivityStartCommand(ctx *commandContext) *cobra.Command {
	var (
		personaID  string
		configJSON string
	)
	cmd := &cobra.Command{
		Use:   "start <type> <device-id>...",
		Short: "Start a group activity (trivia, story, sync_playback, sing_along)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var activityConfig map[string]any
			if strings.TrimSpace(configJSON) != "" {
				if err := json.Unmarshal([]byte(configJSON), &activityConfig); err != nil {
					return fmt.Errorf("parse --config: %w", err)
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ActivityStart(ipc.ActivityStartRequest{
					Type:      args[0],
					DeviceIDs: args[1:],
					PersonaID: personaID,
					Config:    activityConfig,
				})
				if err != nil {
					return err
				}
				activity := resp.Activity
				fmt.Printf("activity %s started with %d devices\n", activity.ID, len(activity.DeviceIDs))
				if len(activity.NonResponsive) > 0 {
					fmt.Printf("non-responsive: %s\n", strings.Join(activity.NonResponsive, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&personaID, "persona", "", "Persona to run the activity with")
	cmd.Flags().StringVar(&configJSON, "config", "", "Activity config as a JSON object")
	return cmd
}

func newActivityListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live activities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ActivityList()
				if err != nil {
					return err
				}
				if len(resp.Activities) == 0 {
					fmt.Println("no live activities")
					return nil
				}
				rows := make([][]string, 0, len(resp.Activities))
				for _, activity := range resp.Activities {
					rows = append(rows, []string{
						activity.ID,
						activity.Type,
						activity.State,
						strconv.Itoa(len(activity.DeviceIDs)),
						activity.StartedAt.Local().Format(time.RFC3339),
					})
				}
				fmt.Println(renderTable(
					[]string{"ID", "Type", "State", "Devices", "Started"},
					rows, 3,
				))
				return nil
			})
		},
	}
}

func newActivityShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <activity-id>",
		Short: "Show one live activity with scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ActivityShow(args[0])
				if err != nil {
					return err
				}
				activity := resp.Activity
				fmt.Println(renderKV([][2]string{
					{"ID", activity.ID},
					{"Type", activity.Type},
					{"State", activity.State},
					{"Persona", activity.PersonaID},
					{"Devices", strings.Join(activity.DeviceIDs, ", ")},
					{"Non-responsive", strings.Join(activity.NonResponsive, ", ")},
					{"Started", activity.StartedAt.Local().Format(time.RFC3339)},
				}))
				if len(activity.Scores) > 0 {
					rows := make([][]string, 0, len(activity.Scores))
					for _, deviceID := range activity.DeviceIDs {
						rows = append(rows, []string{deviceID, strconv.Itoa(activity.Scores[deviceID])})
					}
					fmt.Println(renderTable([]string{"Device", "Score"}, rows, 1))
				}
				return nil
			})
		},
	}
}

func newActivityPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <activity-id>",
		Short: "Pause an active activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.ActivityPause(args[0]); err != nil {
					return err
				}
				fmt.Printf("paused %s\n", args[0])
				return nil
			})
		},
	}
}

func newActivityResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <activity-id>",
		Short: "Resume a paused activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.ActivityResume(args[0]); err != nil {
					return err
				}
				fmt.Printf("resumed %s\n", args[0])
				return nil
			})
		},
	}
}

func newActivityEndCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "end <activity-id>",
		Short: "End an activity and show final scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ActivityEnd(args[0])
				if err != nil {
					return err
				}
				activity := resp.Activity
				fmt.Printf("ended %s\n", activity.ID)
				rows := make([][]string, 0, len(activity.Scores))
				for _, deviceID := range activity.DeviceIDs {
					rows = append(rows, []string{deviceID, strconv.Itoa(activity.Scores[deviceID])})
				}
				fmt.Println(renderTable([]string{"Device", "Final Score"}, rows, 1))
				return nil
			})
		},
	}
}

func newActivityRoundCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "round <activity-id> <device-id> <round-id> <delta>",
		Short: "Record a round score for a device",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid delta %q", args[3])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Round(ipc.RoundRequest{
					ActivityID: args[0],
					DeviceID:   args[1],
					RoundID:    args[2],
					Delta:      delta,
				})
				if err != nil {
					return err
				}
				if !resp.Applied {
					fmt.Printf("round already recorded; score unchanged at %d\n", resp.Score)
					return nil
				}
				fmt.Printf("score for %s is now %d\n", args[1], resp.Score)
				return nil
			})
		},
	}
}

func newActivitySyncCommand(ctx *commandContext) *cobra.Command {
	var offsetMS int64
	cmd := &cobra.Command{
		Use:   "sync <media-ref> <device-id>...",
		Short: "Schedule synchronized playback across devices",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SyncPlayback(ipc.SyncPlaybackRequest{
					DeviceIDs:     args[1:],
					MediaRef:      args[0],
					StartOffsetMS: offsetMS,
				})
				if err != nil {
					return err
				}
				fmt.Printf("playback of %s scheduled at %s on %d devices\n",
					args[0], resp.StartAt.Local().Format(time.RFC3339Nano), len(args[1:]))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&offsetMS, "offset-ms", 0, "Start offset into the media in milliseconds")
	return cmd
}
