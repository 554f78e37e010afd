package main

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

const redacted = "REDACTED"

func newConfigCommand() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after defaults, the config file, .env files,
environment variables and command line flags have been applied. Secrets are
redacted unless --show-secrets is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			effective := *cfg
			if !showSecrets {
				redact(&effective.Stream.SecretKey)
				redact(&effective.Stream.Token)
				redact(&effective.Server.AuthSecret)
			}

			out, err := yaml.MarshalWithOptions(effective, yaml.Indent(2))
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			if effective.ConfigFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", effective.ConfigFile)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print secrets in clear text")
	return cmd
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
