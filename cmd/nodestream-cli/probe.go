package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/nodestream-go/internal/binaryport"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/reconnect"
)

func newProbeBinaryCommand() *cobra.Command {
	var (
		address  string
		attempts string
	)

	cmd := &cobra.Command{
		Use:   "probe-binary",
		Short: "Check that the node's binary port accepts connections",
		Long: `Dial the node's binary port using the configured exponential backoff and
report whether a connection could be established.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			proxy := cfg.BinaryPort
			if address != "" {
				proxy.Address = address
			}
			if attempts != "" {
				limit, err := reconnect.ParseMaxAttempts(attempts)
				if err != nil {
					return err
				}
				proxy.ExponentialBackoff.MaxAttempts = limit
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			conn, err := binaryport.Dial(ctx, proxy, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "binary port %s reachable (%s)\n",
				conn.RemoteAddr(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Binary port address host:port (overrides config)")
	cmd.Flags().StringVar(&attempts, "attempts", "3", `Maximum dial attempts, or "infinite"`)
	return cmd
}
