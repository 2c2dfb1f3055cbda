package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/adapters/transport/httpapi"
	"github.com/flowgraph/nodeflow/internal/infrastructure/config"
)

// errNoBroker is returned by worker when no RabbitMQ URL is configured.
var errNoBroker = errors.New("worker requires rabbitmq.url (NODEFLOW_RABBITMQ_URL or RABBITMQ_URL)")

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and consume queued triggers",
		Long: `serve starts the HTTP API used by the editor. When a RabbitMQ URL is
configured it also consumes trigger requests from the trigger queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var override func(*config.Config)
			if cmd.Flags().Changed("addr") {
				override = func(c *config.Config) { c.Server.Addr = addr }
			}
			cfg, log, err := root.load(cmd, override)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn("shutdown", zap.Error(err))
				}
			}()

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           httpapi.New(a.graphs, a.execs, log).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 2)
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			if consumer := a.consumer(); consumer != nil {
				go func() {
					if err := consumer.Run(ctx); err != nil {
						errCh <- err
					}
				}()
			}

			var runErr error
			select {
			case <-ctx.Done():
				log.Info("shutting down")
			case runErr = <-errCh:
				log.Error("server stopped", zap.Error(runErr))
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errors.Join(runErr, err)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newWorkerCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued triggers without serving HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := root.load(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if !cfg.RabbitMQ.Enabled() {
				return errNoBroker
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn("shutdown", zap.Error(err))
				}
			}()
			return a.consumer().Run(ctx)
		},
	}
}
