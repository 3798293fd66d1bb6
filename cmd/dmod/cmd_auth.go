package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(authCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Acquire a session and cache it locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := buildClients(cmd)
		if err != nil {
			return err
		}
		defer stack.transport.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), stack.timeout)
		defer cancel()

		session, err := stack.external.Auth().AcquireSession(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Session %d for user %s (created %s)\n", session.SessionID, session.User, session.Created)
		return nil
	},
}
