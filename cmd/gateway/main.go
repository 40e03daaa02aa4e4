// Command gateway runs the CI security gateway: it listens for GitHub
// webhooks, enqueues differential scans for qualifying pull requests, and
// runs each job through the scan orchestrator.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/audit-pit-crew/gateway/pkg/core/orchestrator"
	"github.com/audit-pit-crew/gateway/pkg/core/queue"
	"github.com/audit-pit-crew/gateway/pkg/core/scanner"
	"github.com/audit-pit-crew/gateway/pkg/core/workspace"
	"github.com/audit-pit-crew/gateway/pkg/infrastructure/baseline"
	"github.com/audit-pit-crew/gateway/pkg/infrastructure/hosting"
	"github.com/audit-pit-crew/gateway/pkg/infrastructure/reporting"
	"github.com/audit-pit-crew/gateway/pkg/infrastructure/webhook"
	"github.com/audit-pit-crew/gateway/pkg/logger"
)

// Version is the semantic version of the gateway, set via ldflags at
// build time.
var Version = "dev"

type flags struct {
	envFile       string
	addr          string
	logLevel      string
	webhookSecret string
	baselinePath  string
	appID         int64
	appPrivateKey string
	workers       int
	queueDepth    int
}

func main() {
	f := &flags{}

	root := &cobra.Command{
		Use:     "gateway",
		Short:   "CI security gateway for Solidity repositories",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	root.Flags().StringVar(&f.envFile, "env-file", ".env", "Path to .env configuration file")
	root.Flags().StringVar(&f.addr, "addr", ":8080", "HTTP listen address")
	root.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.Flags().StringVar(&f.webhookSecret, "webhook-secret", "", "GitHub webhook HMAC secret; overrides GITHUB_WEBHOOK_SECRET")
	root.Flags().StringVar(&f.baselinePath, "baseline-db", "", "Path to the baseline store database file; overrides BASELINE_STORE_PATH (default \"gateway.db\")")
	root.Flags().Int64Var(&f.appID, "github-app-id", 0, "GitHub App ID; overrides GITHUB_APP_ID")
	root.Flags().StringVar(&f.appPrivateKey, "github-app-private-key", "", "Path to the GitHub App's PEM private key file; if unset, the key is read from GITHUB_APP_PRIVATE_KEY directly")
	root.Flags().IntVar(&f.workers, "workers", 0, "Number of concurrent scan workers; overrides QUEUE_CONCURRENCY (default queue.DefaultConfig().Workers)")
	root.Flags().IntVar(&f.queueDepth, "queue-depth", queue.DefaultConfig().QueueDepth, "Job queue buffer depth")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	_ = godotenv.Load(f.envFile)

	logLevel := f.logLevel
	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	log := logger.New(logLevel)

	webhookSecret := f.webhookSecret
	if webhookSecret == "" {
		webhookSecret = os.Getenv("GITHUB_WEBHOOK_SECRET")
	}
	if webhookSecret == "" {
		return fmt.Errorf("gateway: a webhook secret is required (--webhook-secret or GITHUB_WEBHOOK_SECRET)")
	}

	appID := f.appID
	if appID == 0 {
		fmt.Sscanf(os.Getenv("GITHUB_APP_ID"), "%d", &appID)
	}

	var privateKeyPEM []byte
	if f.appPrivateKey != "" {
		pem, err := os.ReadFile(f.appPrivateKey)
		if err != nil {
			return fmt.Errorf("gateway: failed to read GitHub App private key: %w", err)
		}
		privateKeyPEM = pem
	} else if key := os.Getenv("GITHUB_APP_PRIVATE_KEY"); key != "" {
		privateKeyPEM = []byte(key)
	}
	if appID == 0 || len(privateKeyPEM) == 0 {
		return fmt.Errorf("gateway: a GitHub App ID and private key are required (--github-app-id/--github-app-private-key or GITHUB_APP_ID/GITHUB_APP_PRIVATE_KEY)")
	}
	hostingClient, err := hosting.NewClient(appID, privateKeyPEM, nil)
	if err != nil {
		return fmt.Errorf("gateway: failed to build GitHub client: %w", err)
	}

	baselinePath := f.baselinePath
	if baselinePath == "" {
		baselinePath = os.Getenv("BASELINE_STORE_PATH")
	}
	if baselinePath == "" {
		baselinePath = "gateway.db"
	}
	store, err := baseline.NewBoltStore(baselinePath)
	if err != nil {
		return fmt.Errorf("gateway: failed to open baseline store: %w", err)
	}
	defer store.Close()

	workers := f.workers
	if workers == 0 {
		fmt.Sscanf(os.Getenv("QUEUE_CONCURRENCY"), "%d", &workers)
	}
	if workers == 0 {
		workers = queue.DefaultConfig().Workers
	}

	jail, err := workspace.NewFilesystemJail(workspace.DefaultSecurityOptions(os.TempDir()))
	if err != nil {
		return fmt.Errorf("gateway: failed to build filesystem jail: %w", err)
	}
	ws := workspace.NewManager(log, jail)
	sc := scanner.NewScanner(log)
	reporter := reporting.NewReporter(hostingClient, log)
	orch := orchestrator.New(ws, sc, store, reporter, hostingClient, log)

	pool := queue.NewPool(queue.Config{Workers: workers, QueueDepth: f.queueDepth}, orch, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	mux := http.NewServeMux()
	mux.Handle("/webhook/github", webhook.NewHandler(webhookSecret, pool, log))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              f.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", f.addr).Msg("gateway: listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("gateway: received shutdown signal")
	case err := <-serverErr:
		log.Error().Err(err).Msg("gateway: server failed")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway: graceful shutdown failed")
	}

	return nil
}
