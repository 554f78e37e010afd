package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/nodestream-go/internal/config"
	"github.com/rmacdonaldsmith/nodestream-go/internal/logging"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/sseclient"
)

const appVersion = "0.1.0"

var (
	// Global flags
	configPath string
	streamURL  string
	token      string
	logLevel   string

	// Loaded in PersistentPreRunE
	cfg       *config.Config
	logger    zerolog.Logger
	logCloser io.Closer
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nodestream-cli",
		Short: "Node event stream command line interface",
		Long: `nodestream-cli connects to a node's server-sent event stream.
It can print events as they arrive, wait for a specific event, show the
effective configuration and probe the node's binary port.`,
		SilenceUsage:       true,
		PersistentPreRunE:  initializeConfig,
		PersistentPostRunE: closeLogger,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&streamURL, "url", "", "Event stream URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token for the stream (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	rootCmd.AddCommand(newListenCommand())
	rootCmd.AddCommand(newWaitCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newProbeBinaryCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// initializeConfig loads configuration and applies global flag overrides
func initializeConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "version" {
		return nil
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if streamURL != "" {
		loaded.Stream.URL = streamURL
	}
	if token != "" {
		loaded.Stream.Token = token
		loaded.Stream.ClientID = ""
		loaded.Stream.SecretKey = ""
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}

	logger, logCloser, err = logging.New(loaded.Log)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	cfg = loaded
	return nil
}

func closeLogger(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// newClient creates a stream client from the loaded configuration
func newClient(opts ...func(*sseclient.Config)) (*sseclient.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	clientCfg := cfg.ClientConfig(&logger, nil)
	for _, opt := range opts {
		opt(&clientCfg)
	}
	client, err := sseclient.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

// parseTypes resolves event type names. No names selects every type a
// handler can receive.
func parseTypes(names []string) ([]events.EventType, error) {
	if len(names) == 0 {
		return events.DeliveredTypes(), nil
	}

	types := make([]events.EventType, 0, len(names))
	for _, name := range names {
		t, err := events.ParseEventType(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
