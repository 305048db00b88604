package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeviceCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Show watch device connection and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var dev deviceView
			if err := client.get(callCtx, "/api/device", &dev); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, dev)
			}

			out := cmd.OutOrStdout()
			if !dev.Connected {
				statusLine(out, "Device", "DISCONNECTED", "connect the watch and try again")
				return nil
			}
			statusLine(out, "Device", "CONNECTED", dev.MountPoint)
			fmt.Fprintf(out, "  %-18s %s\n", "Media folder:", dev.MediaPath)
			if dev.Storage != nil {
				fmt.Fprintf(out, "  %-18s %s of %s used (%.1f%%), %s free\n", "Storage:",
					formatMB(dev.Storage.UsedMB),
					formatMB(dev.Storage.TotalMB),
					dev.Storage.UsedPercent,
					formatMB(dev.Storage.FreeMB))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
