package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/safeai-run/safeai/pkg/config"
	"github.com/safeai-run/safeai/pkg/hook"
	"github.com/safeai-run/safeai/pkg/httpapi"
	"github.com/safeai-run/safeai/pkg/safeai"
	"github.com/safeai-run/safeai/pkg/safeailog"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: safeai <serve|hook|version> [flags]")
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(os.Args[2:])
	case "hook":
		code = runHook(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println("safeai (runtime policy enforcement engine)")
		code = 0
	default:
		fmt.Fprintf(os.Stderr, "safeai: unknown subcommand %q\n", os.Args[1])
		code = 2
	}
	os.Exit(code)
}

func newEngine(configPath string) (*safeai.Engine, config.Bundle, error) {
	auditLogPath := os.Getenv("SAFEAI_AUDIT_LOG")
	if auditLogPath == "" {
		auditLogPath = "safeai-audit.jsonl"
	}

	engine, err := safeai.New(safeai.Options{AuditLogPath: auditLogPath, Clock: time.Now})
	if err != nil {
		return nil, config.Bundle{}, fmt.Errorf("constructing engine: %w", err)
	}

	bundle, err := config.Load(configPath, config.DefaultPatterns())
	if err != nil {
		return nil, config.Bundle{}, fmt.Errorf("loading config at %s: %w", configPath, err)
	}
	engine.Reload(bundle)
	return engine, bundle, nil
}

// runServe starts the HTTP surface (sidecar or gateway mode, per
// SAFEAI_PROXY_MODE) and watches the config directory for changes,
// reloading the engine whenever a document is added, written, or
// removed.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", envOr("SAFEAI_LISTEN_ADDR", ":8443"), "listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := safeailog.New("safeai", slog.LevelInfo)

	configPath := config.ConfigPathFromEnv("safeai.yaml")
	engine, bundle, err := newEngine(configPath)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return 1
	}
	logger.ConfigReloaded(bundle.Files)

	mode := httpapi.ModeSidecar
	var tokenManager *httpapi.TokenManager
	if envOr("SAFEAI_PROXY_MODE", "sidecar") == "gateway" {
		mode = httpapi.ModeGateway
		secret := os.Getenv("SAFEAI_GATEWAY_SECRET")
		if secret == "" {
			logger.Error("gateway mode requires SAFEAI_GATEWAY_SECRET")
			return 1
		}
		tokenManager = httpapi.NewTokenManager(secret)
	}

	server := httpapi.NewServer(engine, httpapi.Config{
		Mode:            mode,
		UpstreamBaseURL: os.Getenv("SAFEAI_UPSTREAM_BASE_URL"),
		TokenManager:    tokenManager,
		ConfigPath:      configPath,
		FilePatterns:    config.DefaultPatterns(),
	})

	stopWatch, err := watchConfig(configPath, engine, logger)
	if err != nil {
		logger.Warn("config watcher not started", slog.String("error", err.Error()))
	} else {
		defer stopWatch()
	}

	httpServer := &http.Server{Addr: *addr, Handler: server}

	ctx := make(chan os.Signal, 1)
	signal.Notify(ctx, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx
		logger.Info("shutting down")
		httpServer.Close()
	}()

	logger.Info("listening", slog.String("addr", *addr), slog.String("mode", string(mode)))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// watchConfig wires fsnotify as a supplementary nudge on top of any
// caller-triggered /v1/policies/reload: a filesystem event in the
// config directory reloads the engine proactively, so a dropped-in
// policy file takes effect without an explicit reload call.
func watchConfig(configPath string, engine *safeai.Engine, logger *safeailog.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	dirs := config.WatchDirs(configPath, config.DefaultPatterns())
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Warn("cannot watch config directory", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				bundle, err := config.Load(configPath, config.DefaultPatterns())
				if err != nil {
					logger.ConfigReloadFailed(err)
					continue
				}
				engine.Reload(bundle)
				logger.ConfigReloaded(bundle.Files)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return func() { watcher.Close() }, nil
}

// runHook reads one JSON envelope from stdin and enforces it against
// the engine, printing a message and returning the hook's exit code.
func runHook(args []string) int {
	fs := flag.NewFlagSet("hook", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return hook.ExitError
	}

	configPath := config.ConfigPathFromEnv("safeai.yaml")
	engine, _, err := newEngine(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return hook.ExitError
	}

	result := hook.Run(engine, os.Stdin)
	if result.Message != "" {
		fmt.Fprintln(os.Stderr, result.Message)
	}
	return result.ExitCode
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
