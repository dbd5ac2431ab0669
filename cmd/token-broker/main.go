package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/vai-talk/internal/dotenv"
	"github.com/vango-go/vai-talk/pkg/broker/config"
	"github.com/vango-go/vai-talk/pkg/broker/metrics"
	brokerserver "github.com/vango-go/vai-talk/pkg/broker/server"
)

type brokerDeps struct {
	loadConfig   func() (config.Config, error)
	newBroker    func(config.Config, *slog.Logger) *brokerserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBrokerDeps() brokerDeps {
	return brokerDeps{
		loadConfig: config.LoadFromEnv,
		newBroker: func(cfg config.Config, logger *slog.Logger) *brokerserver.Server {
			return brokerserver.New(cfg, logger, brokerserver.WithMetrics(metrics.New("")))
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runBroker(ctx context.Context, logger *slog.Logger, deps brokerDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newBroker == nil {
		return errors.New("missing newBroker dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	broker := deps.newBroker(cfg, logger)
	httpSrv := buildHTTPServer(cfg, broker.Handler())

	logger.Info("starting token broker",
		"addr", cfg.Addr,
		"upstream", cfg.UpstreamBaseURL,
		"agent_id", cfg.AgentID,
		"auth_key_set", cfg.AuthKey != "",
	)
	if !cfg.HasCredentials() {
		logger.Warn("BLAND_AGENT_ID or BLAND_AUTH_KEY is not set; /api/token will report a configuration error")
	}

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	broker.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("token broker stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps brokerDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFiles(".env", "server/.env"); err != nil {
		fmt.Fprintf(stderr, "token-broker: %v\n", err)
		return 1
	}

	if err := runBroker(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "token-broker: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBrokerDeps()))
}
