package main

import (
	"fmt"

	"github.com/spf13/cobra"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/rmacdonaldsmith/nodestream-go/internal/health"
)

func newHealthCommand() *cobra.Command {
	var (
		addr    string
		service string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running nodestream daemon's gRPC health service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.GRPCAddr
			}
			status, err := health.Check(cmd.Context(), addr, service)
			if err != nil {
				return err
			}
			if jsonOut {
				b, err := protojson.Marshal(&grpc_health_v1.HealthCheckResponse{Status: status})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", serviceLabel(service), status)
			}
			if status != grpc_health_v1.HealthCheckResponse_SERVING {
				return fmt.Errorf("service is %s", status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Daemon gRPC address (default from config)")
	cmd.Flags().StringVar(&service, "service", health.ServiceName, `Service to check ("" for the process)`)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw health response as JSON")
	return cmd
}

func serviceLabel(service string) string {
	if service == "" {
		return "process"
	}
	return service
}
