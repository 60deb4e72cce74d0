package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/primestream/internal/render"
)

func resolveCmd() *cobra.Command {
	var (
		at        string
		serverURL string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the stream cursor for an instant",
		Long: `Print the odd integer every viewer starts from at the given instant.

Examples:
  primestream resolve
  primestream resolve --at 2025-03-14T03:14:00Z
  primestream resolve --at 1741922050000
  primestream resolve --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			instant, err := parseInstant(at)
			if err != nil {
				return err
			}

			if serverURL != "" {
				cur, err := remoteClient(serverURL, logger).Cursor(cmd.Context(), instant)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), render.Thousands(cur.Cursor))
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), render.Thousands(cfg.Stream.Clock().Resolve(instant)))
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "instant as RFC3339 or unix milliseconds (default now)")
	cmd.Flags().StringVar(&serverURL, "server", "", "ask a running server instead of the local clock")

	return cmd
}
