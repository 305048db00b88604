package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStorageCommand(ctx *commandContext) *cobra.Command {
	storageCmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect and reclaim local episode storage",
	}

	storageCmd.AddCommand(newStorageStatusCommand(ctx))
	storageCmd.AddCommand(newStoragePodcastsCommand(ctx))
	storageCmd.AddCommand(newStorageCleanupCommand(ctx))

	return storageCmd
}

func newStorageStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var local localStorageView
			if err := client.get(callCtx, "/api/storage", &local); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, local)
			}

			out := cmd.OutOrStdout()
			limit := "unlimited"
			if local.MaxStorageMB > 0 {
				limit = formatBytes(int64(local.MaxStorageMB) * 1024 * 1024)
			}
			fmt.Fprintf(out, "Local cache: %s used (limit %s)\n", formatBytes(local.UsedBytes), limit)
			for _, state := range []string{"pending", "downloading", "downloaded", "failed"} {
				if count := local.StatusCounts[state]; count > 0 {
					fmt.Fprintf(out, "  %-14s %d\n", formatStatusLabel(state)+":", count)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStoragePodcastsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "podcasts",
		Short: "Show cache usage per podcast",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var usage podcastUsageListView
			if err := client.get(callCtx, "/api/storage/podcasts", &usage); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, usage)
			}
			if len(usage.Podcasts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions")
				return nil
			}

			rows := make([][]string, 0, len(usage.Podcasts))
			for _, podcast := range usage.Podcasts {
				rows = append(rows, []string{
					fmt.Sprintf("%d", podcast.PodcastID),
					truncateText(podcast.Title, 45),
					formatBytes(podcast.UsedBytes),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"ID", "Title", "Used"}, rows, 1, 3))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStorageCleanupCommand(ctx *commandContext) *cobra.Command {
	var cleanupType string
	var daysOld int
	var maxStorageMB int
	var keepSynced string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Reclaim local cache space",
		Long: "Reclaim local cache space. Types: age (past retention), quota (over the " +
			"storage cap), failed (delete failed downloads), orphan (files no episode references).",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"type": cleanupType}
			if daysOld > 0 {
				body["days_old"] = daysOld
			}
			if maxStorageMB > 0 {
				body["max_storage_mb"] = maxStorageMB
			}
			if keepSynced != "" {
				switch keepSynced {
				case "on":
					body["keep_synced"] = true
				case "off":
					body["keep_synced"] = false
				default:
					return fmt.Errorf("--keep-synced must be on or off, got %q", keepSynced)
				}
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var result cleanupView
			if err := client.post(callCtx, "/api/storage/cleanup", body, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleanup %q: %d episode(s), %s freed\n",
				result.Type, result.EpisodesCleaned, formatBytes(result.BytesFreed))
			return nil
		},
	}

	cmd.Flags().StringVarP(&cleanupType, "type", "t", "age", "Cleanup type (age|quota|failed|orphan)")
	cmd.Flags().IntVar(&daysOld, "days", 0, "Override retention days for this run")
	cmd.Flags().IntVar(&maxStorageMB, "max-mb", 0, "Override storage cap in MB for this run")
	cmd.Flags().StringVar(&keepSynced, "keep-synced", "", "Override whether synced episodes are protected (on|off)")
	return cmd
}
