package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"wavelink/internal/ipc"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the engine session",
	}

	attachCmd := &cobra.Command{
		Use:   "attach [engine-socket]",
		Short: "Attach to a media engine socket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			socket := ""
			if len(args) == 1 {
				socket = args[0]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionAttach(socket)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s attached (%s)\n", shortID(resp.Session.SessionID), resp.Session.Status)
				return nil
			})
		},
	}

	detachCmd := &cobra.Command{
		Use:   "detach",
		Short: "Detach from the media engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.SessionDetach(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Session detached")
				return nil
			})
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Rotate the session id and zero live counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SessionReset()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session reset, new id %s\n", shortID(resp.Session.SessionID))
				return nil
			})
		},
	}

	sessionCmd.AddCommand(attachCmd, detachCmd, resetCmd)
	return sessionCmd
}
