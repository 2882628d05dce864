/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-dbpatch"
	"github.com/acronis/go-dbpatch/progress"
	"github.com/acronis/go-dbpatch/upgrade"
)

const configData = `
dbpatch:
  upgradeFile: upgrade.sql
  target: "1.1"
  connections:
    default:
      dialect: mysql
      url: tcp(localhost:3306)/app
`

func main() {
	logger, loggerClose := log.NewLogger(&log.Config{Output: log.OutputStdout, Level: log.LevelInfo})
	defer loggerClose()

	if err := run(logger); err != nil {
		logger.Errorf("upgrade failed: %v", err)
		loggerClose()
		os.Exit(1)
	}
}

func run(logger log.FieldLogger) error {
	// DBPATCH_TARGET overrides the target version.
	cfg := dbpatch.NewDefaultConfig()
	if err := config.NewDefaultLoader("DBPATCH").LoadFromReader(
		bytes.NewBufferString(configData), config.DataTypeYAML, cfg); err != nil {
		return err
	}

	// Create a Prometheus metrics collector and expose it while the upgrade is running.
	promMetrics := dbpatch.NewPrometheusMetrics()
	promMetrics.MustRegister()
	defer promMetrics.Unregister()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":9090",
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if srvErr := srv.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			logger.Errorf("metrics server failed: %v", srvErr)
		}
	}()
	defer func() { _ = srv.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u, err := upgrade.NewUpgrader(cfg,
		upgrade.WithLogger(logger),
		upgrade.WithListener(progress.NewLogListener(logger, nil)),
		upgrade.WithMetrics(promMetrics),
		upgrade.WithSlowCommandThreshold(time.Second), // Log commands that take more than 1s.
		upgrade.WithExclusiveLock(time.Minute),
	)
	if err != nil {
		return err
	}
	defer func() { _ = u.Close() }()

	return u.Upgrade(ctx, "")
}
