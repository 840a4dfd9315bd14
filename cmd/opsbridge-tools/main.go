// Command opsbridge-tools serves the Kubernetes, Proxmox, Azure, GCP and
// status-page tools over MCP, on stdio by default or HTTP with -listen.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsbridge/opsbridge/internal/api"
	"github.com/opsbridge/opsbridge/internal/config"
	"github.com/opsbridge/opsbridge/internal/logbuf"
	"github.com/opsbridge/opsbridge/internal/toolkit"
)

const version = "0.1.0"

func main() {
	listen := flag.String("listen", "", "Serve streamable HTTP on this address (e.g. :8080) instead of stdio")
	key := flag.String("key", os.Getenv("OPSBRIDGE_TOOLS_KEY"), "Bearer key required on HTTP endpoints other than /api/health")
	level := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	kubectl := flag.String("kubectl", "kubectl", "kubectl binary used by apply_deployment")
	flag.Parse()

	logLevel, err := config.ParseLevel(*level)
	if err != nil {
		slog.Error("invalid flag", "error", err)
		os.Exit(1)
	}
	// stdout carries the MCP stream in stdio mode.
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := toolkit.NewServer("opsbridge-tools", version, logger, tools(*kubectl)...)
	logger.Info("opsbridge-tools starting", "tools", srv.Names())

	if *listen == "" {
		if err := srv.ServeStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stdio server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	if *key == "" {
		logger.Warn("HTTP endpoints are unauthenticated; set -key or OPSBRIDGE_TOOLS_KEY")
	}
	apiSrv := api.NewServer(srv, api.Config{Addr: *listen, Key: *key}, logger, logBuf)
	if err := apiSrv.Start(ctx); err != nil {
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}

// tools builds every served tool. Cloud configuration is reread from the
// environment on each call so credentials can change without a restart.
func tools(kubectl string) []toolkit.Tool {
	kube := toolkit.NewKubeHandle(toolkit.KubeConfigFromEnv())
	runner := &toolkit.ExecRunner{Timeout: toolkit.DefaultCommandTimeout}

	out := []toolkit.Tool{
		&toolkit.GetPodsTool{Kube: kube},
		&toolkit.CreateDemoNginxTool{Kube: kube},
		&toolkit.ApplyDeploymentTool{Runner: runner, Kubectl: kubectl},
		&toolkit.AzureForecastTool{},
		&toolkit.StatusPageTool{},
	}
	out = append(out, (&toolkit.Proxmox{}).Tools()...)
	out = append(out, (&toolkit.GCP{}).Tools()...)
	return out
}
