package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPodcastCommand(ctx *commandContext) *cobra.Command {
	podcastCmd := &cobra.Command{
		Use:   "podcast",
		Short: "Manage podcast subscriptions",
	}

	podcastCmd.AddCommand(newPodcastAddCommand(ctx))
	podcastCmd.AddCommand(newPodcastListCommand(ctx))
	podcastCmd.AddCommand(newPodcastShowCommand(ctx))
	podcastCmd.AddCommand(newPodcastRefreshCommand(ctx))
	podcastCmd.AddCommand(newPodcastSetCommand(ctx))
	podcastCmd.AddCommand(newPodcastRemoveCommand(ctx))

	return podcastCmd
}

func newPodcastAddCommand(ctx *commandContext) *cobra.Command {
	var episodeLimit int

	cmd := &cobra.Command{
		Use:   "add <feed-url>",
		Short: "Subscribe to a podcast feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var podcast podcastView
			body := map[string]any{"feed_url": args[0], "episode_limit": episodeLimit}
			if err := client.post(callCtx, "/api/podcasts", body, &podcast); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscribed to %q (id %d, keeping %d episodes)\n",
				podcast.Title, podcast.ID, podcast.EpisodeLimit)
			return nil
		},
	}

	cmd.Flags().IntVarP(&episodeLimit, "limit", "l", 0, "Episodes to keep on the device (default from config)")
	return cmd
}

func newPodcastListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List podcast subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var list podcastListView
			if err := client.get(callCtx, "/api/podcasts", &list); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, list)
			}
			if len(list.Podcasts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions. Add one with `watchpod podcast add <feed-url>`.")
				return nil
			}

			rows := make([][]string, 0, len(list.Podcasts))
			for _, podcast := range list.Podcasts {
				rows = append(rows, []string{
					fmt.Sprintf("%d", podcast.ID),
					truncateText(podcast.Title, 40),
					fmt.Sprintf("%d", podcast.EpisodeLimit),
					yesNo(podcast.AutoDownload),
					formatDisplayTime(podcast.LastChecked),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"ID", "Title", "Limit", "Auto", "Last Checked"}, rows, 1, 3))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newPodcastShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one subscription in detail",
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

			var podcast podcastView
			if err := client.get(callCtx, fmt.Sprintf("/api/podcasts/%d", id), &podcast); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, podcast)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Title:         %s\n", podcast.Title)
			fmt.Fprintf(out, "Feed URL:      %s\n", podcast.FeedURL)
			fmt.Fprintf(out, "Episode limit: %d\n", podcast.EpisodeLimit)
			fmt.Fprintf(out, "Auto download: %s\n", yesNo(podcast.AutoDownload))
			fmt.Fprintf(out, "Last checked:  %s\n", formatDisplayTime(podcast.LastChecked))
			if podcast.Description != "" {
				fmt.Fprintf(out, "Description:   %s\n", truncateText(podcast.Description, 200))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newPodcastRefreshCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh <id>",
		Short: "Fetch the feed and discover new episodes",
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

			var result struct {
				EpisodesAdded int `json:"episodes_added"`
			}
			if err := client.post(callCtx, fmt.Sprintf("/api/podcasts/%d/refresh", id), nil, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed: %d new episode(s)\n", result.EpisodesAdded)
			return nil
		},
	}
	return cmd
}

func newPodcastSetCommand(ctx *commandContext) *cobra.Command {
	var title string
	var episodeLimit int
	var autoDownload string

	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Change subscription settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePositiveID(args[0])
			if err != nil {
				return err
			}

			body := map[string]any{}
			if cmd.Flags().Changed("title") {
				body["title"] = title
			}
			if cmd.Flags().Changed("limit") {
				body["episode_limit"] = episodeLimit
			}
			if cmd.Flags().Changed("auto-download") {
				switch autoDownload {
				case "on":
					body["auto_download"] = true
				case "off":
					body["auto_download"] = false
				default:
					return fmt.Errorf("--auto-download must be on or off, got %q", autoDownload)
				}
			}
			if len(body) == 0 {
				return fmt.Errorf("nothing to change; pass --title, --limit, or --auto-download")
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var podcast podcastView
			if err := client.patch(callCtx, fmt.Sprintf("/api/podcasts/%d", id), body, &podcast); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %q: limit %d, auto download %s\n",
				podcast.Title, podcast.EpisodeLimit, yesNo(podcast.AutoDownload))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Override the display title")
	cmd.Flags().IntVarP(&episodeLimit, "limit", "l", 0, "Episodes to keep on the device")
	cmd.Flags().StringVar(&autoDownload, "auto-download", "", "Enable or disable automatic downloads (on|off)")
	return cmd
}

func newPodcastRemoveCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Unsubscribe and delete cached episode files",
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

			if err := client.delete(callCtx, fmt.Sprintf("/api/podcasts/%d", id), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed podcast %d and its cached files\n", id)
			return nil
		},
	}
	return cmd
}
