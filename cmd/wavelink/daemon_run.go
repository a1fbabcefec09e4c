package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wavelink/internal/daemon"
	"wavelink/internal/ipc"
	"wavelink/internal/logging"
	"wavelink/internal/stats"
)

// newDaemonRunCommand runs the daemon in the foreground, for development and
// supervised setups where a separate wavelinkd process is unwanted.
func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("prepare directories: %w", err)
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := stats.Open(cfg)
			if err != nil {
				return fmt.Errorf("open stats store: %w", err)
			}

			d, err := daemon.New(cfg, store, logger)
			if err != nil {
				store.Close()
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ipcServer, err := ipc.NewServer(runCtx, ctx.socketPath(), d, logger)
			if err != nil {
				return fmt.Errorf("start IPC server: %w", err)
			}
			defer ipcServer.Close()
			ipcServer.Serve()

			if err := d.Start(runCtx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Daemon running; press Ctrl-C to stop")
			<-runCtx.Done()
			return nil
		},
	}
}
