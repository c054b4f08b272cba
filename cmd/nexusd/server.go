package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/nexusai/nexusd/internal/api"
	"github.com/nexusai/nexusd/internal/cloud"
	"github.com/nexusai/nexusd/internal/config"
	"github.com/nexusai/nexusd/internal/quota"
	"github.com/nexusai/nexusd/internal/storage"
	"github.com/nexusai/nexusd/internal/syncer"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nexusd daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running nexusd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nexusd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "nexusd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(cfg config.Config) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "nexusd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg)

	// Write PID file. Check if the daemon is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("nexusd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("nexusd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the record store, degrading to in-memory when the database cannot
	// be opened. Records kept in memory are lost on exit.
	var (
		rec      storage.Recorder
		degraded bool
	)
	store := storage.New(cfg.Storage.DataDir)
	if err := store.Init(); err != nil {
		slog.Warn("record store unavailable, using in-memory fallback", "error", err)
		rec = storage.NewMemory()
		degraded = true
	} else {
		rec = store
		defer func() {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
			}
		}()
	}

	// Cloud-backed features come up only when credentials exist.
	var (
		syncTrigger api.SyncTrigger
		quotaSvc    api.QuotaChecker
	)
	if cfg.HasCloudCredentials() {
		client := cloud.NewClientWithBaseURL(cfg.Cloud.APIKey, cfg.Cloud.BaseURL)
		client.SetTimeouts(cfg.Sync.PushTimeout, cfg.Sync.ReadTimeout)
		quotaSvc = quota.NewService(client, cfg.Quota.CacheTTL)

		if cfg.Sync.Enabled {
			coord := syncer.New(rec, client, cfg.Sync.InitialDelay, cfg.Sync.Interval)
			go coord.Run(ctx)
			syncTrigger = coord
			slog.Info("sync coordinator started", "interval", cfg.Sync.Interval)
		} else {
			slog.Info("cloud sync disabled by config")
		}
	} else {
		slog.Info("no cloud API key configured, sync and quota disabled",
			"hint", "set NEXUSD_CLOUD_API_KEY"+config.CredentialHint())
	}

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:    rec,
		Syncer:   syncTrigger,
		Quota:    quotaSvc,
		UserID:   cfg.Cloud.UserID,
		Token:    cfg.Server.APIToken,
		Degraded: degraded,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:  rec,
		UserID: cfg.Cloud.UserID,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "nexusd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout. In-flight uploads are not bound to the
	// run context and finish on their own.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("nexusd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop nexusd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to nexusd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := apiClientFor(cfg)
	client.httpClient = &http.Client{Timeout: 2 * time.Second}
	ctx := context.Background()

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health map[string]string
		if decodeJSON(resp, &health) == nil && health["status"] == "ok" {
			running = true
			if health["storage"] == "degraded" {
				printStatus("Server", "running on port %d (in-memory storage)", cfg.Server.Port)
			} else {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			}
		} else {
			printStatus("Server", "error")
		}
	}

	if running {
		if resp, err := client.get(ctx, "/stats"); err == nil {
			var stats storage.StorageStats
			if decodeJSON(resp, &stats) == nil {
				printStatus("Records", "%d total, %d unsynced, %d failed", stats.Total, stats.Unsynced, stats.Failed)
				printStatus("Storage used", "%s", formatBytes(stats.TotalBytes))
			}
		}
		if resp, err := client.get(ctx, "/sync/status"); err == nil {
			var st syncer.Status
			if decodeJSON(resp, &st) == nil {
				printStatus("Sync", "%s", syncSummary(st))
			} else {
				printStatus("Sync", "not configured")
			}
		}
	}

	if cfg.HasCloudCredentials() {
		printStatus("Cloud account", "%s", cfg.Cloud.UserID)
	} else {
		printStatus("Cloud account", "not configured (offline-only)")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func syncSummary(st syncer.Status) string {
	if !st.Active {
		return "inactive"
	}
	s := fmt.Sprintf("active, %d pending", st.Pending)
	if st.Syncing {
		s += ", pass running"
	}
	if st.LastPassAt != nil {
		s += ", last pass " + st.LastPassAt.Local().Format("15:04:05")
	}
	if st.LastError != "" {
		s += ", last error: " + st.LastError
	}
	return s
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
