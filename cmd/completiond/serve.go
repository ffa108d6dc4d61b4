package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"completiond/internal/config"
	"completiond/internal/httpapi"
	"completiond/internal/pipeline"
	"completiond/internal/service"
)

type serveOpts struct {
	addr            string
	maxBodyBytes    int64
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	corsOrigins     string
	corsMethods     string
	corsHeaders     string
}

func newServeCmd(g *globalOpts) *cobra.Command {
	o := &serveOpts{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: "  completiond serve --config completiond.yaml\n" +
			"  completiond serve --model t5-small --hf-url http://127.0.0.1:8000",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = o.addr
			}
			if o.maxBodyBytes > 0 {
				cfg.MaxBodyBytes = o.maxBodyBytes
			}
			if o.corsOrigins != "" {
				cfg.CORS.Enabled = true
				cfg.CORS.Origins = splitCSV(o.corsOrigins)
			}
			if o.corsMethods != "" {
				cfg.CORS.Methods = splitCSV(o.corsMethods)
			}
			if o.corsHeaders != "" {
				cfg.CORS.Headers = splitCSV(o.corsHeaders)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, g, cfg, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", ":8080", "HTTP listen address (overrides config and COMPLETIOND_ADDR)")
	f.Int64Var(&o.maxBodyBytes, "max-body-bytes", 0, "Maximum request body size (0 keeps config or 1MiB)")
	f.DurationVar(&o.requestTimeout, "request-timeout", 0, "Upper bound for one /complete request (0 disables)")
	f.DurationVar(&o.shutdownTimeout, "shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	f.StringVar(&o.corsOrigins, "cors-origins", "", "Comma-separated allowed origins; enables CORS")
	f.StringVar(&o.corsMethods, "cors-methods", "GET,POST,OPTIONS", "Comma-separated allowed methods")
	f.StringVar(&o.corsHeaders, "cors-headers", "Content-Type,X-Log-Level", "Comma-separated allowed headers")
	return cmd
}

func serve(ctx context.Context, g *globalOpts, cfg config.Config, o *serveOpts) error {
	log := g.log
	pub := pipeline.NoopPublisher{}
	runtimes := service.BuildRuntimes(cfg, log, pub)
	mgr, err := service.New(service.Config{
		Services:       cfg.Services,
		DefaultService: cfg.DefaultService,
		Runtimes:       runtimes,
		Logger:         log,
		Publisher:      pub,
	})
	if err != nil {
		return err
	}

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCompleteTimeout(o.requestTimeout)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("event", "listen").Str("addr", cfg.Addr).Int("services", len(cfg.Services)).Msg("completiond listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Services load in the background; /readyz reports when the default is up.
	go func() {
		if err := mgr.Open(ctx); err != nil {
			log.Error().Err(err).Str("event", "open_partial").Msg("some services failed to start")
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Str("event", "shutdown").Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), o.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Str("event", "shutdown_fail").Msg("graceful shutdown error")
	}
	if err := mgr.Close(sctx); err != nil {
		log.Error().Err(err).Str("event", "close_fail").Msg("closing services")
	}
	stopProcesses(runtimes)
	return nil
}

// stopProcesses kills any runtime-owned subprocesses left behind.
func stopProcesses(runtimes map[string]pipeline.Runtime) {
	for _, rt := range runtimes {
		if s, ok := rt.(interface{ StopAll() }); ok {
			s.StopAll()
		}
	}
}
