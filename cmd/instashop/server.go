package main

import (
	"context"
	"encoding/json"
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

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/bakirov/instashop/internal/ai"
	"github.com/bakirov/instashop/internal/api"
	"github.com/bakirov/instashop/internal/bot"
	"github.com/bakirov/instashop/internal/cleanup"
	"github.com/bakirov/instashop/internal/config"
	"github.com/bakirov/instashop/internal/health"
	"github.com/bakirov/instashop/internal/intent"
	"github.com/bakirov/instashop/internal/respond"
	"github.com/bakirov/instashop/internal/storage"
	"github.com/bakirov/instashop/internal/transport"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the instashop server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running instashop server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show instashop system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "instashop.pid")
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

func parseDurationOr(raw string, fallback time.Duration, name string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", name, "value", raw, "default", fallback)
		return fallback
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "instashop version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.Server.APIToken == "" {
		return fmt.Errorf("missing API token. Set it via environment variable INSTASHOP_API_TOKEN")
	}
	if cfg.Instagram.VerifyToken == "" || cfg.Instagram.AccessToken == "" {
		return fmt.Errorf("missing Instagram credentials. Set INSTASHOP_INSTAGRAM_VERIFY_TOKEN and INSTASHOP_INSTAGRAM_ACCESS_TOKEN")
	}

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("instashop is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("instashop is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	requestTimeout := parseDurationOr(cfg.AI.RequestTimeout, 8*time.Second, "ai.request_timeout")
	probeTimeout := parseDurationOr(cfg.AI.ProbeTimeout, 3*time.Second, "ai.probe_timeout")
	staleAfter := parseDurationOr(cfg.Health.StaleAfter, 5*time.Minute, "health.stale_after")
	historyMaxAge := parseDurationOr(cfg.History.MaxAge, 24*time.Hour, "history.max_age")

	// Build the conversation core.
	aiClient := ai.NewClientWithBaseURL(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL, requestTimeout, probeTimeout)
	monitor := health.NewMonitor(aiClient, cfg.Health.MaxFailures, staleAfter)
	classifier := intent.NewClassifier(aiClient, monitor)
	responder := respond.NewGenerator(aiClient, monitor, store, store, cfg.AI.MaxTokens, cfg.History.Window, historyMaxAge)
	orchestrator := bot.NewOrchestrator(store, store, store, store, classifier, responder)
	sender := transport.NewInstagram(cfg.Instagram.GraphBaseURL, cfg.Instagram.AccessToken)

	// Compose top-level router: public webhook + health, authenticated operator API.
	webhookHandler := api.NewWebhookHandler(api.WebhookDeps{
		Handler:     orchestrator,
		Sender:      sender,
		VerifyToken: cfg.Instagram.VerifyToken,
		BotID:       cfg.Instagram.BotID,
	})
	adminHandler := api.NewAdminHandler(api.AdminDeps{
		Store:  store,
		Health: monitor,
		Token:  cfg.Server.APIToken,
	})

	topRouter := chi.NewRouter()
	topRouter.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version})
	})
	topRouter.Mount("/", webhookHandler)
	topRouter.Mount("/admin", adminHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
	}

	// Start retention worker.
	worker := cleanup.NewWorker(store, time.Hour, historyMaxAge, 7*24*time.Hour)
	go worker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store})
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
		fmt.Fprintf(os.Stderr, "instashop listening on %s\n", addr)
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

	// Graceful shutdown with timeout.
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
		printError("instashop is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop instashop (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to instashop (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("AI model", "%s", cfg.AI.Model)
	printStatus("Graph API", "%s", cfg.Instagram.GraphBaseURL)

	if running && cfg.Server.APIToken != "" {
		apiCli := &apiClient{baseURL: serverURL, token: cfg.Server.APIToken, httpClient: client}

		if healthResp, err := apiCli.get(ctx, "/admin/ai-health"); err == nil {
			var h struct {
				ConsecutiveFailures int    `json:"consecutive_failures"`
				LastSuccessAt       string `json:"last_success_at"`
			}
			if decodeJSON(healthResp, &h) == nil {
				if h.LastSuccessAt != "" {
					printStatus("AI health", "%d consecutive failures, last success %s", h.ConsecutiveFailures, h.LastSuccessAt)
				} else {
					printStatus("AI health", "%d consecutive failures, no success yet", h.ConsecutiveFailures)
				}
			}
		}

		if statsResp, err := apiCli.get(ctx, "/admin/stats"); err == nil {
			var st struct {
				ActiveSessions int `json:"active_sessions"`
				TotalPurchases int `json:"total_purchases"`
			}
			if decodeJSON(statsResp, &st) == nil {
				printStatus("Active sessions", "%d", st.ActiveSessions)
				printStatus("Total orders", "%d", st.TotalPurchases)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
