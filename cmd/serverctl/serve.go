package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/serverctl/internal/config"
	"github.com/loykin/serverctl/internal/logger"
	"github.com/loykin/serverctl/internal/metrics"
	"github.com/loykin/serverctl/internal/server"
	servertls "github.com/loykin/serverctl/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 30 * time.Second

// Serve runs the REST API until ctx is cancelled, then shuts down gracefully.
func (c command) Serve(ctx context.Context, configPath string) error {
	fc, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	closeLog := logger.Setup(fc.Log)
	defer closeLog()

	tlsCfg, err := servertls.Setup(fc.Server.TLS)
	if err != nil {
		return fmt.Errorf("tls setup: %w", err)
	}

	var metricsHandler http.Handler
	var metricsSrv *http.Server
	if fc.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		metricsHandler = metrics.Handler()
		if fc.Metrics.Listen != "" && fc.Metrics.Listen != fc.Server.Listen {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsHandler)
			metricsSrv = &http.Server{
				Addr:              fc.Metrics.Listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("metrics server error", "listen", fc.Metrics.Listen, "error", err)
				}
			}()
		}
	}

	orc, release, err := c.build(fc)
	if err != nil {
		return err
	}
	defer release()

	srv := server.NewServer(fc.Server.Listen, fc.Server.BasePath, orc, metricsHandler)
	srv.TLSConfig = tlsCfg
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("serverctl listening", "listen", fc.Server.Listen, "base_path", fc.Server.BasePath,
		"tls", tlsCfg != nil, "base_dir", fc.Servers.BaseDir, "port", fc.Servers.Port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(sctx)
	}
	return srv.Shutdown(sctx)
}
