package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"watchpod/internal/daemon"
	"watchpod/internal/logging"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the watchpod background process",
	}
	daemonCmd.AddCommand(newDaemonRunCommand(ctx))
	return daemonCmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			if err := d.Start(signalCtx); err != nil {
				d.Stop()
				return err
			}

			<-signalCtx.Done()
			logger.Info("shutting down")
			d.Stop()
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			callCtx, cancel := callContext()
			defer cancel()

			var status statusView
			if err := client.get(callCtx, "/api/status", &status); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			runningState := "STOPPED"
			if status.Running {
				runningState = "RUNNING"
			}
			deviceState := "DISCONNECTED"
			if status.DeviceConnected {
				deviceState = "CONNECTED"
			}

			fmt.Fprintln(out, "Watchpod daemon")
			statusLine(out, "Daemon", runningState, fmt.Sprintf("pid %d", status.PID))
			statusLine(out, "API", "OK", status.APIBind)
			statusLine(out, "Device", deviceState, "")
			statusLine(out, "Downloads", "OK", fmt.Sprintf("%d active", status.ActiveDownloads))
			fmt.Fprintf(out, "  %-18s %s\n", "Database:", status.DatabasePath)

			for _, dep := range status.Dependencies {
				state := "OK"
				detail := dep.Detail
				if !dep.Available {
					state = "MISSING"
					if dep.Optional {
						state = "WARN"
					}
				}
				statusLine(out, dep.Name, state, detail)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
