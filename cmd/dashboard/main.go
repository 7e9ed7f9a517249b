package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	config "github.com/NordCoder/ccwatch/internal/config/dashboard"
	"github.com/NordCoder/ccwatch/internal/httpapi"
	"github.com/NordCoder/ccwatch/internal/obs"
	"github.com/NordCoder/ccwatch/internal/repository/configfile"
	"github.com/NordCoder/ccwatch/internal/repository/genesys"
	"github.com/NordCoder/ccwatch/internal/services/supervisor"
	"github.com/NordCoder/ccwatch/internal/stats"
)

func main() {
	// init
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/dashboard.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	l.Info("starting dashboard",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.String("connections_file", cfg.ConnectionsFile),
	)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// connections document
	configs, err := configfile.New(cfg.ConnectionsFile, l)
	if err != nil {
		l.Fatal("connections document", zap.Error(err))
	}
	if err := configs.Watch(ctx); err != nil {
		l.Fatal("watch connections document", zap.Error(err))
	}

	// provider clients
	counters := stats.New()
	factory := &genesys.Factory{
		HTTPClient: genesys.NewHTTPClient(cfg.Provider.RequestTimeout),
		Log:        l,
		Stats:      counters,
	}
	dialer := &genesys.WSDialer{Log: l}

	// run metrics server
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(context.Context) error {
		_, err := configs.List()
		return err
	}, l)

	// wiring
	sup := supervisor.New(l, configs, factory, dialer, supervisor.Config{
		DefaultPollInterval: cfg.Ingest.DefaultPollInterval,
		MinPollInterval:     cfg.Ingest.MinPollInterval,
		ReconnectDelay:      cfg.Ingest.ReconnectDelay,
		UserPageSize:        cfg.Provider.UserPageSize,
		QueuePageSize:       cfg.Provider.QueuePageSize,
		EvaluationWindow:    cfg.Provider.EvaluationWindow,
	})
	api := httpapi.New(httpapi.Params{
		Log:         l,
		Core:        sup,
		Configs:     configs,
		Stats:       counters,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// run
	errCh := make(chan error, 1)
	go func() {
		l.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	// loop
	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server error", zap.Error(err))
		}
	}

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	sup.Close()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
