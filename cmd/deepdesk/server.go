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

	"github.com/kalambet/deepdesk/internal/api"
	"github.com/kalambet/deepdesk/internal/catalog"
	"github.com/kalambet/deepdesk/internal/config"
	"github.com/kalambet/deepdesk/internal/deepresearch"
	"github.com/kalambet/deepdesk/internal/deliverables"
	"github.com/kalambet/deepdesk/internal/observability"
	"github.com/kalambet/deepdesk/internal/outbox"
	"github.com/kalambet/deepdesk/internal/poller"
	"github.com/kalambet/deepdesk/internal/session"
	"github.com/kalambet/deepdesk/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the deepdesk daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", true, "serve MCP tools over stdin/stdout")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running deepdesk daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deepdesk daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "deepdesk.pid")
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

func parseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// credentialSource returns the research access token, preferring the
// environment and re-reading the secret store so a token set while the
// daemon runs is picked up on the next poll.
func credentialSource(cfg config.Config, kc config.Keychain) func() string {
	return func() string {
		if tok := os.Getenv("DEEPDESK_ACCESS_TOKEN"); tok != "" {
			return tok
		}
		if tok, err := config.ReadAccessToken(kc); err == nil && tok != "" {
			return tok
		}
		return cfg.Research.AccessToken
	}
}

// completionNotifier logs completed reports and optionally rings the bell
// on the daemon's terminal.
type completionNotifier struct {
	logger *slog.Logger
	bell   bool
}

func (n completionNotifier) TaskCompleted(v session.View) {
	n.logger.Info("research completed", "task_id", v.TaskID, "title", v.DisplayTitle())
	if n.bell {
		fmt.Fprint(os.Stderr, "\a")
	}
}

// trackHistoryGauge refreshes the history gauge whenever the active task
// changes phase.
func trackHistoryGauge(ctx context.Context, ctrl *session.Controller, store *storage.Store, metrics *observability.Metrics, limit int) {
	views, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	refresh := func() {
		items, err := store.ListHistory(limit)
		if err != nil {
			slog.Warn("counting history failed", "error", err)
			return
		}
		metrics.SetHistoryEntries(len(items))
	}
	refresh()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			key := v.TaskID + "/" + string(v.Phase)
			if key != last {
				last = key
				refresh()
			}
		}
	}
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "deepdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))
	logger := slog.Default()

	kc := config.NewKeychain()
	apiToken, err := config.GetAPIToken(kc)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("deepdesk is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("deepdesk is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	store.SetHistoryLimit(cfg.History.MaxItems)

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	credential := credentialSource(cfg, kc)
	if credential() == "" {
		slog.Warn("no research access token configured; only public reports can be followed")
	}

	research := deepresearch.NewClient(cfg.Research.BaseURL, deepresearch.WithAlertEmail(cfg.Research.AlertEmail))

	queue := outbox.NewQueue(store)
	worker := outbox.NewWorker(store, research,
		outbox.WithCredential(credential),
		outbox.WithWakeup(queue.Wakeup()),
		outbox.WithRecorder(metrics),
		outbox.WithLogger(logger),
	)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	ctrl := session.New(session.Options{
		Client:           research,
		History:          store,
		Scheduler:        poller.New(poller.WithLogger(logger)),
		Canceller:        queue,
		Notifier:         completionNotifier{logger: logger, bell: cfg.Notify.Bell},
		Recorder:         metrics,
		Credential:       credential,
		Logger:           logger,
		AuthFailureLimit: cfg.Polling.AuthFailureLimit,
	})
	defer ctrl.Close()
	go trackHistoryGauge(ctx, ctrl, store, metrics, cfg.History.MaxItems)

	examples := catalog.Default()
	handler := api.NewAppHandler(api.AppDeps{
		Session:    ctrl,
		History:    store,
		Catalog:    examples,
		Sharer:     queue,
		Downloader: deliverables.NewDownloader(nil),
		Metrics:    metrics.Handler(),
		Token:      apiToken,
		AppURL:     cfg.ShareBaseURL(),
		AlertEmail: cfg.Research.AlertEmail,
		Logger:     logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Session:    ctrl,
			History:    store,
			Catalog:    examples,
			AlertEmail: cfg.Research.AlertEmail,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "deepdesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	// Flush queued cancels and share toggles before the store closes.
	stop()
	<-workerDone
	if err := worker.Drain(shutdownCtx); err != nil {
		slog.Warn("outbox not fully drained", "error", err)
	}
	return shutdownErr
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
		printError("deepdesk is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop deepdesk (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to deepdesk (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	hc := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := hc.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Research API", "%s", cfg.Research.BaseURL)
	if cfg.Research.AccessToken != "" {
		printStatus("Access token", "configured")
	} else {
		printStatus("Access token", "missing (public reports only)")
	}

	if running {
		if client, err := newAPIClient(); err == nil {
			if v, err := client.session(ctx); err == nil {
				if v.TaskID == "" {
					printStatus("Active research", "none")
				} else {
					printStatus("Active research", "%s (%s, %d%%)", v.DisplayTitle(), v.Phase, v.ProgressPercent)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
