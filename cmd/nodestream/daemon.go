package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/nodestream-go/internal/config"
	"github.com/rmacdonaldsmith/nodestream-go/internal/health"
	"github.com/rmacdonaldsmith/nodestream-go/internal/httpapi"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/events"
	"github.com/rmacdonaldsmith/nodestream-go/pkg/sseclient"
)

// daemon keeps one supervised stream client running and exposes its state
// over HTTP and gRPC health.
type daemon struct {
	log      zerolog.Logger
	client   *sseclient.Client
	reporter *health.Reporter
	api      *httpapi.Server

	httpLn net.Listener // nil when disabled
	grpcLn net.Listener // nil when disabled
}

func newDaemon(cfg *config.Config, logger zerolog.Logger) (*daemon, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d := &daemon{
		log:      logger,
		reporter: health.NewReporter(logger),
	}

	clientCfg := cfg.ClientConfig(&logger, reg)
	clientCfg.OnStateChange = d.reporter.Observe
	clientCfg.OnHandlerFault = func(f sseclient.HandlerFault) {
		logger.Error().Err(f).Uint64("handler_id", f.ID).Msg("Event handler failed")
	}

	client, err := sseclient.New(clientCfg)
	if err != nil {
		return nil, err
	}
	d.client = client

	if err := d.registerHandlers(); err != nil {
		d.close()
		return nil, err
	}

	d.api = httpapi.NewServer(client, httpapi.Config{
		AuthSecret: cfg.Server.AuthSecret,
		Gatherer:   reg,
		Logger:     logger,
		Version:    appVersion,
	})

	if cfg.Server.HTTPAddr != "" {
		if d.httpLn, err = net.Listen("tcp", cfg.Server.HTTPAddr); err != nil {
			d.close()
			return nil, fmt.Errorf("listen on %s: %w", cfg.Server.HTTPAddr, err)
		}
	}
	if cfg.Server.GRPCAddr != "" {
		if d.grpcLn, err = net.Listen("tcp", cfg.Server.GRPCAddr); err != nil {
			d.close()
			return nil, fmt.Errorf("listen on %s: %w", cfg.Server.GRPCAddr, err)
		}
	}
	return d, nil
}

// registerHandlers logs every application event at debug level
func (d *daemon) registerHandlers() error {
	for _, t := range events.DeliveredTypes() {
		_, err := d.client.On(context.Background(), t, func(env events.Envelope) {
			d.log.Debug().Str("event_type", env.Name()).Stringer("payload", env.Payload()).Msg("Event received")
		})
		if err != nil {
			return fmt.Errorf("failed to register handler: %w", err)
		}
	}
	return nil
}

// Run blocks until ctx ends or a component fails. It always releases the
// client and listeners.
func (d *daemon) Run(ctx context.Context) error {
	defer d.close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := d.client.Supervise(gctx)
		var exhausted *sseclient.RetriesExhaustedError
		if errors.As(err, &exhausted) {
			return fmt.Errorf("event stream abandoned: %w", err)
		}
		return err
	})
	if d.httpLn != nil {
		g.Go(func() error { return d.api.Serve(gctx, d.httpLn) })
	}
	if d.grpcLn != nil {
		g.Go(func() error { return d.reporter.Serve(gctx, d.grpcLn) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		// asked to stop; component errors are shutdown noise
		return nil
	}
	return err
}

func (d *daemon) close() {
	if d.client != nil {
		d.client.Close()
	}
	if d.httpLn != nil {
		d.httpLn.Close()
	}
	if d.grpcLn != nil {
		d.grpcLn.Close()
	}
}
