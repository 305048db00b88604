package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the device with downloaded episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, ctx)
		},
	}

	syncCmd.AddCommand(newSyncStatusCommand(ctx))
	syncCmd.AddCommand(newSyncHistoryCommand(ctx))

	return syncCmd
}

func runSync(cmd *cobra.Command, ctx *commandContext) error {
	client, err := ctx.client()
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Syncing device...")

	var run syncRunView
	if err := client.post(callCtx, "/api/sync", nil, &run); err != nil {
		return err
	}

	fmt.Fprintf(out, "Sync %s: %d added, %d removed, %s transferred\n",
		run.Status, run.EpisodesAdded, run.EpisodesRemoved, formatBytes(run.BytesTransferred))
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Note: %s\n", run.ErrorMessage)
	}
	return nil
}

func newSyncStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync state and device storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var status syncStatusView
			if err := client.get(callCtx, "/api/sync/status", &status); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			deviceState := "DISCONNECTED"
			if status.DeviceConnected {
				deviceState = "CONNECTED"
			}
			statusLine(out, "Device", deviceState, "")
			fmt.Fprintf(out, "  %-18s %d\n", "Eligible:", status.TotalEligible)
			fmt.Fprintf(out, "  %-18s %d\n", "On device:", status.SyncedCount)
			fmt.Fprintf(out, "  %-18s %d\n", "Awaiting sync:", status.PendingSync)
			fmt.Fprintf(out, "  %-18s %s\n", "Last success:", formatDisplayTime(status.LastSuccess))
			if status.DeviceStorage != nil {
				fmt.Fprintf(out, "  %-18s %s of %s used (%.1f%%)\n", "Device storage:",
					formatMB(status.DeviceStorage.UsedMB),
					formatMB(status.DeviceStorage.TotalMB),
					status.DeviceStorage.UsedPercent)
			}
			for _, state := range []string{"pending", "downloading", "downloaded", "failed"} {
				if count := status.StatusCounts[state]; count > 0 {
					fmt.Fprintf(out, "  %-18s %d\n", formatStatusLabel(state)+":", count)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newSyncHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var history syncHistoryView
			path := fmt.Sprintf("/api/sync/history?limit=%d", limit)
			if err := client.get(callCtx, path, &history); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, history)
			}
			if len(history.Runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sync runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(history.Runs))
			for _, run := range history.Runs {
				rows = append(rows, []string{
					fmt.Sprintf("%d", run.ID),
					run.SyncType,
					formatStatusLabel(run.Status),
					fmt.Sprintf("%d", run.EpisodesAdded),
					fmt.Sprintf("%d", run.EpisodesRemoved),
					formatBytes(run.BytesTransferred),
					formatDisplayTime(run.StartedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"ID", "Type", "Status", "Added", "Removed", "Bytes", "Started"}, rows, 1, 4, 5, 6))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
