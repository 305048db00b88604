package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: "Manage episode downloads",
	}

	downloadCmd.AddCommand(newDownloadStartCommand(ctx))
	downloadCmd.AddCommand(newDownloadPendingCommand(ctx))
	downloadCmd.AddCommand(newDownloadCancelCommand(ctx))
	downloadCmd.AddCommand(newDownloadStatusCommand(ctx))

	return downloadCmd
}

func newDownloadStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <episode-id>",
		Short: "Queue an episode for download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePositiveID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var result map[string]string
			if err := client.post(callCtx, fmt.Sprintf("/api/episodes/%d/download", id), nil, &result); err != nil {
				return err
			}
			printDownloadResult(cmd, id, result["result"])
			return nil
		},
	}
}

func newDownloadPendingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Queue pending episodes of every auto-download podcast",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var result struct {
				Started int `json:"started"`
			}
			if err := client.post(callCtx, "/api/downloads/pending", nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %d download(s)\n", result.Started)
			return nil
		},
	}
}

func newDownloadCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <episode-id>",
		Short: "Cancel an in-flight download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePositiveID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var result map[string]string
			if err := client.delete(callCtx, fmt.Sprintf("/api/episodes/%d/download", id), &result); err != nil {
				return err
			}
			printDownloadResult(cmd, id, result["result"])
			return nil
		},
	}
}

func newDownloadStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <episode-id>",
		Short: "Show download progress for an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePositiveID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var status downloadStatusView
			if err := client.get(callCtx, fmt.Sprintf("/api/episodes/%d/download", id), &status); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Episode %d: %s\n", status.EpisodeID, formatStatusLabel(status.Status))
			if status.IsDownloading {
				fmt.Fprintf(out, "Progress: %d%%\n", status.Progress)
			}
			if status.LocalPath != "" {
				fmt.Fprintf(out, "File: %s (%s)\n", status.LocalPath, formatBytes(status.FileSize))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printDownloadResult(cmd *cobra.Command, id int64, result string) {
	out := cmd.OutOrStdout()
	switch result {
	case "queued":
		fmt.Fprintf(out, "Episode %d queued for download\n", id)
	case "already_active":
		fmt.Fprintf(out, "Episode %d is already downloading\n", id)
	case "already_downloaded":
		fmt.Fprintf(out, "Episode %d is already downloaded\n", id)
	case "cancelled":
		fmt.Fprintf(out, "Episode %d download cancelled\n", id)
	case "not_active":
		fmt.Fprintf(out, "Episode %d has no active download\n", id)
	default:
		fmt.Fprintf(out, "Episode %d: %s\n", id, result)
	}
}
