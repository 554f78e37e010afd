package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/sseclient"
)

type listenOptions struct {
	types     []string
	field     string
	count     int
	reconnect bool
}

func newListenCommand() *cobra.Command {
	var opts listenOptions

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print events from the node as they arrive",
		Long: `Print events from the node's event stream, one per line.
By default every event is printed as JSON. Use --field to print a single
value extracted from each payload. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.types, "type", nil, "Event types to print (default: all)")
	cmd.Flags().StringVar(&opts.field, "field", "", "gjson path to print from each payload, e.g. block.height")
	cmd.Flags().IntVar(&opts.count, "count", 0, "Stop after this many events (0 = no limit)")
	cmd.Flags().BoolVar(&opts.reconnect, "reconnect", false, "Reconnect per the reconnect policy when the stream is lost")

	return cmd
}

func runListen(cmd *cobra.Command, opts listenOptions) error {
	types, err := parseTypes(opts.types)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var skipped atomic.Int64
	client, err := newClient(func(c *sseclient.Config) {
		c.OnDecodeError = func(*sseclient.DecodingError) { skipped.Add(1) }
	})
	if err != nil {
		return err
	}
	defer client.Close()

	// handlers run on the client's actor and must not block
	lines := make(chan string, 256)
	var dropped atomic.Int64
	for _, t := range types {
		_, err := client.On(ctx, t, func(env events.Envelope) {
			select {
			case lines <- formatEvent(env, opts.field):
			default:
				dropped.Add(1)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to register handler: %w", err)
		}
	}

	var lost <-chan error
	superviseErr := make(chan error, 1)
	if opts.reconnect {
		go func() { superviseErr <- client.Supervise(ctx) }()
	} else {
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		lost = client.ConnectionLost()
	}

	out := cmd.OutOrStdout()
	printed := 0
	emit := func(line string) bool {
		fmt.Fprintln(out, line)
		printed++
		return opts.count > 0 && printed >= opts.count
	}
	// drain reports whether the count limit was reached
	drain := func() bool {
		for {
			select {
			case line := <-lines:
				if emit(line) {
					return true
				}
			default:
				return false
			}
		}
	}
	defer func() {
		if n := dropped.Load(); n > 0 {
			logger.Warn().Int64("dropped", n).Msg("Events dropped because output fell behind")
		}
		if n := skipped.Load(); n > 0 {
			logger.Warn().Int64("skipped", n).Msg("Malformed messages skipped")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			if emit(line) {
				return nil
			}
		case err := <-lost:
			if drain() {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		case err := <-superviseErr:
			if drain() || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// formatEvent renders one event as a line of output
func formatEvent(env events.Envelope, field string) string {
	if field == "" {
		b, err := json.Marshal(env)
		if err != nil {
			return env.String()
		}
		return string(b)
	}

	value := "-"
	if env.Payload().Codec() == events.CodecJSON {
		if res := gjson.GetBytes(env.Payload().Bytes(), field); res.Exists() {
			value = res.String()
		}
	}
	return env.Name() + "\t" + value
}
