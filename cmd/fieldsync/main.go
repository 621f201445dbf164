package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vistoria/fieldsync/internal/api"
	"github.com/vistoria/fieldsync/internal/config"
	"github.com/vistoria/fieldsync/internal/connectivity"
	"github.com/vistoria/fieldsync/internal/media"
	"github.com/vistoria/fieldsync/internal/models"
	"github.com/vistoria/fieldsync/internal/observability"
	"github.com/vistoria/fieldsync/internal/orchestrator"
	"github.com/vistoria/fieldsync/internal/store"
	"github.com/vistoria/fieldsync/internal/uploader"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Offline-first sync agent for vistoria field inspections",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSyncCmd(),
		newRetryCmd(),
		newPendingCmd(),
		newStatusCmd(),
		newClearCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs, built once per invocation
type app struct {
	cfg   *config.Config
	store *store.RecordStore
	orch  *orchestrator.Orchestrator
	tel   *observability.Telemetry
	close func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := observability.GetLogger()
	logger.SetMinLevel(observability.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FilePath != "" {
		logger.SetRotatingFile(cfg.Logging.FilePath, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	}

	tel, err := observability.Initialize(ctx, observability.NewConfig("fieldsync", version))
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	db, err := store.NewSQLiteDB(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	records := store.NewRecordStore(db)

	var preparer *media.Preparer
	if cfg.Media.PrepareUploads {
		preparer = media.NewPreparer(cfg.Media.MaxDimension, cfg.Media.JPEGQuality)
	}

	storage := api.NewHTTPObjectStorage(api.StorageConfig{
		BaseURL:      cfg.ServerBaseURL,
		APIKey:       cfg.Security.APIKey,
		APIKeyHeader: cfg.Security.APIKeyHeader,
		DeviceID:     cfg.DeviceID,
		Timeout:      cfg.APITimeout(),
		Preparer:     preparer,
	})

	prober := connectivity.NewProber(cfg.ServerBaseURL, cfg.ProbeTimeout(), nil)
	up := uploader.New(storage, prober)

	client := api.NewClient(api.ClientConfig{
		BaseURL:      cfg.ServerBaseURL,
		APIKey:       cfg.Security.APIKey,
		APIKeyHeader: cfg.Security.APIKeyHeader,
		DeviceID:     cfg.DeviceID,
		Timeout:      cfg.APITimeout(),
		BulkTimeout:  cfg.BulkTimeout(),
	})

	orch := orchestrator.New(records, prober, up, client, orchestrator.Config{
		ProbeAttempts: cfg.Sync.ProbeAttempts,
		ProbeDelay:    cfg.ProbeDelay(),
		MaxRetries:    cfg.Sync.MaxRetries,
		RetryDelay:    cfg.RetryDelay(),
		FixedDelay:    cfg.Sync.FixedDelay,
		ReconnectWait: cfg.ReconnectWait(),
		BatchSize:     cfg.Sync.BatchSize,
	})

	if metrics, err := observability.NewSyncMetrics(); err == nil {
		orch.SetMetrics(metrics)
		up.SetMetrics(metrics)
	} else {
		observability.Warnf("sync metrics unavailable: %v", err)
	}

	return &app{
		cfg:   cfg,
		store: records,
		orch:  orch,
		tel:   tel,
		close: func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutCtx); err != nil {
				observability.Warnf("telemetry shutdown: %v", err)
			}
			if err := db.Close(); err != nil {
				observability.Warnf("closing local store: %v", err)
			}
		},
	}, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so an
// interrupted run leaves records in a consistent status
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func syncOptions() orchestrator.Options {
	return orchestrator.Options{
		Progress: func(msg string) {
			fmt.Println(msg)
		},
		OnBatch: func(batch, total, succeeded, failed int) {
			fmt.Printf("  photo batch %d/%d: %d uploaded, %d failed\n",
				batch, total, succeeded, failed)
		},
	}
}

func printResult(res models.SyncResult) error {
	fmt.Printf("\nConnection quality: %s\n", res.ConnectionQuality)
	fmt.Printf("Synced: %d  Failed: %d\n", res.Synced, res.Failed)
	if res.PartialSuccess {
		fmt.Println("Partial success: some items synced, some did not")
	}
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if !res.Success {
		return fmt.Errorf("sync finished with failures")
	}
	fmt.Println("All pending work synced")
	return nil
}

func newSyncCmd() *cobra.Command {
	var force bool
	var auto bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Submit all pending inspections to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			opts := syncOptions()
			opts.Force = force

			var res models.SyncResult
			if auto {
				res = a.orch.AutoSync(ctx, confirmPoorConnection, opts)
			} else {
				res = a.orch.SyncPendingInspections(ctx, opts)
			}
			return printResult(res)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false,
		"attempt the sync even when the connectivity probe fails")
	cmd.Flags().BoolVar(&auto, "auto", false,
		"ask for confirmation before syncing over a poor connection")
	return cmd
}

// confirmPoorConnection asks the operator whether to proceed on a flaky link
func confirmPoorConnection(q models.ConnectionQuality) bool {
	fmt.Printf("Connection quality is %s. Sync anyway? [y/N]: ", q)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false
	}
	return answer == "y" || answer == "Y" || answer == "yes"
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-attempt inspections that previously failed to sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			return printResult(a.orch.RetryFailedInspections(ctx, syncOptions()))
		},
	}
}

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List inspections waiting on the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			for _, status := range []models.RecordStatus{models.StatusPending, models.StatusError} {
				records, err := a.store.ListByStatus(ctx, status)
				if err != nil {
					return fmt.Errorf("list %s records: %w", status, err)
				}
				for _, rec := range records {
					line := fmt.Sprintf("%s  %-8s  %s  imovel=%s  photos=%d",
						rec.ID, rec.Status, rec.Kind, rec.ImovelID, len(rec.Photos))
					if rec.ErrorMessage != "" {
						line += "  error=" + rec.ErrorMessage
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts, connectivity and last sync time",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			counts, err := a.store.CountByStatus(ctx)
			if err != nil {
				return fmt.Errorf("count records: %w", err)
			}
			fmt.Printf("pending: %d  error: %d  synced: %d\n",
				counts[models.StatusPending], counts[models.StatusError], counts[models.StatusSynced])

			lastSync, err := a.store.GetBlob(ctx, "lastSyncAt")
			if err == nil && lastSync != "" {
				fmt.Printf("last sync: %s\n", lastSync)
			} else {
				fmt.Println("last sync: never")
			}

			prober := connectivity.NewProber(a.cfg.ServerBaseURL, a.cfg.ProbeTimeout(), nil)
			reachable, quality := prober.CheckWithRetry(ctx, a.cfg.Sync.ProbeAttempts, a.cfg.ProbeDelay())
			fmt.Printf("server reachable: %v (quality: %s)\n", reachable, quality)
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every locally queued inspection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete queued inspections without --yes")
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.Clear(ctx); err != nil {
				return fmt.Errorf("clear queue: %w", err)
			}
			fmt.Println("Local queue cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}
