// Command aegisd is the Aegis proxy process: it loads configuration,
// wires the Hybrid PDP, MCP Router, and Agent RPC Core together, and
// serves both over one HTTP listener until told to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aegis-proxy/aegis/internal/config"
)

// Exit codes per spec.md §6: 0 clean shutdown, 1 config/startup failure,
// 2 unrecoverable supervisor failure.
const (
	exitOK              = 0
	exitConfigFailure   = 1
	exitSupervisorFault = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	log, err := newLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "aegisd: logger init: %v\n", err)
		return exitConfigFailure
	}
	defer log.Sync() //nolint:errcheck // best-effort flush on exit

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration failed to load", zap.Error(err))
		return exitConfigFailure
	}
	log.Info("configuration loaded", zap.Int("port", cfg.Port), zap.String("logLevel", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := buildApp(log, cfg)
	if err != nil {
		log.Error("component wiring failed", zap.Error(err))
		return exitConfigFailure
	}

	application.router.Start(ctx)
	defer func() {
		if cerr := application.router.Close(); cerr != nil {
			log.Warn("upstream shutdown reported errors", zap.Error(cerr))
		}
	}()

	mcpServer, err := application.router.BuildServer(ctx, "aegis-mcp-router", "1.0.0")
	if err != nil {
		log.Error("mcp server assembly failed", zap.Error(err))
		return exitSupervisorFault
	}
	mcpHandler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return mcpServer
	}, nil)

	mux := application.rpc.Router()
	mux.PathPrefix("/mcp/").Handler(withIdentityMiddleware(mcpHandler))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}
	application.server = httpServer

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
			return exitSupervisorFault
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		return exitSupervisorFault
	}
	if application.watcher != nil {
		application.watcher.Close()
	}
	if application.reportSink != nil {
		if err := application.reportSink.Close(); err != nil {
			log.Warn("report sink close failed", zap.Error(err))
		}
	}
	if application.closeAuditLog != nil {
		if err := application.closeAuditLog(); err != nil {
			log.Warn("audit log close failed", zap.Error(err))
		}
	}

	log.Info("shutdown complete")
	return exitOK
}

// newLogger builds a zap.Logger at the requested level, falling back to
// info when level is empty or unrecognized — matching the teacher's
// permissive LOG_LEVEL handling rather than failing startup over a typo.
func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if level == "" {
		lvl = zapcore.InfoLevel
	} else if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}
