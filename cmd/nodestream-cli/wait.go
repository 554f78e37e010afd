package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
)

// errNoMatch is returned when wait times out
var errNoMatch = errors.New("no matching event before timeout")

type match struct {
	path  string
	value string
}

func newWaitCommand() *cobra.Command {
	var (
		eventType string
		matches   []string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for an event matching the given conditions",
		Long: `Connect to the node and wait for the next event of the given type whose
payload satisfies every --match condition. Conditions take the form
path=value where path is a gjson path into the JSON payload. The matching
event is printed as JSON.`,
		Example: `  nodestream-cli wait --type BlockAdded --match block.height=1200 --timeout 2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWait(cmd, eventType, matches, timeout)
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Event type to wait for")
	cmd.Flags().StringArrayVar(&matches, "match", nil, "Payload condition path=value (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait (0 = forever)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runWait(cmd *cobra.Command, eventType string, rawMatches []string, timeout time.Duration) error {
	t, err := events.ParseEventType(eventType)
	if err != nil {
		return err
	}
	matches, err := parseMatches(rawMatches)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	env, ok, err := client.WaitForEvent(ctx, t, matchAll(matches), timeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w (%s)", errNoMatch, timeout)
	}

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func parseMatches(raw []string) ([]match, error) {
	matches := make([]match, 0, len(raw))
	for _, r := range raw {
		path, value, ok := strings.Cut(r, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid match %q: want path=value", r)
		}
		matches = append(matches, match{path: path, value: value})
	}
	return matches, nil
}

// matchAll builds a predicate requiring every condition. No conditions
// match any event.
func matchAll(matches []match) func(events.Envelope) bool {
	if len(matches) == 0 {
		return nil
	}
	return func(env events.Envelope) bool {
		if env.Payload().Codec() != events.CodecJSON {
			return false
		}
		payload := env.Payload().Bytes()
		for _, m := range matches {
			res := gjson.GetBytes(payload, m.path)
			if !res.Exists() || res.String() != m.value {
				return false
			}
		}
		return true
	}
}
