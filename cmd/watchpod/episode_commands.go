package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newEpisodesCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int
	var offset int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "episodes <podcast-id>",
		Short: "List episodes of a subscription",
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

			query := url.Values{}
			if status != "" {
				query.Set("status", status)
			}
			if limit > 0 {
				query.Set("limit", fmt.Sprintf("%d", limit))
			}
			if offset > 0 {
				query.Set("offset", fmt.Sprintf("%d", offset))
			}
			path := fmt.Sprintf("/api/podcasts/%d/episodes", id)
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}

			var list episodeListView
			if err := client.get(callCtx, path, &list); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, list)
			}
			if len(list.Episodes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No episodes")
				return nil
			}

			rows := make([][]string, 0, len(list.Episodes))
			for _, episode := range list.Episodes {
				rows = append(rows, []string{
					fmt.Sprintf("%d", episode.ID),
					truncateText(episode.Title, 45),
					formatDisplayTime(episode.PubDate),
					episodeStateLabel(episode),
					formatBytes(episode.FileSize),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"ID", "Title", "Published", "State", "Size"}, rows, 1, 5))
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by download status (pending|downloading|downloaded|failed)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum rows to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// episodeStateLabel folds progress and sync state into one column.
func episodeStateLabel(episode episodeView) string {
	switch episode.DownloadStatus {
	case "downloading":
		return fmt.Sprintf("Downloading %d%%", episode.DownloadProgress)
	case "downloaded":
		if episode.SyncedToWatch {
			return "On Device"
		}
		return "Downloaded"
	default:
		return formatStatusLabel(episode.DownloadStatus)
	}
}
