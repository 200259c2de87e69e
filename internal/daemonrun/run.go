// Package daemonrun boots the daemon process: logging, PID and lock files,
// store and object-store wiring, stage registration, and the IPC server.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"loom/internal/acquisition"
	"loom/internal/audit"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/evaluation"
	"loom/internal/ipc"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/objectstore"
	"loom/internal/queue"
	"loom/internal/trainer"
	"loom/internal/training"
	"loom/internal/workflow"
	"loom/internal/workspace"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	SocketPath  string
	Development bool
}

// Run starts the loom daemon runtime loop and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("loom-%s.log", runID))

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update loom.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "loom-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "runs"), Pattern: "*.log"},
	)
	pidPath := filepath.Join(cfg.Paths.LogDir, "loom.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open run store", logging.Error(err))
		return err
	}
	defer store.Close()

	retention := time.Duration(cfg.Workflow.StagingRetentionHours) * time.Hour
	workspace.CleanStale(signalCtx, cfg.Paths.StagingDir, retention, logger)

	notifier := notifications.NewService(cfg)
	workflowManager := workflow.NewManagerWithOptions(cfg, store, logger, notifier)
	registerStages(signalCtx, workflowManager, cfg, store, logger, notifier)

	d, err := daemon.New(cfg, store, logger, workflowManager)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = filepath.Join(cfg.Paths.LogDir, "loom.sock")
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and run database access"),
			logging.String(logging.FieldImpact, "daemon may not process runs"),
		)
	}

	<-signalCtx.Done()
	logger.Info("loom daemon shutting down")
	return nil
}

func registerStages(ctx context.Context, mgr *workflow.Manager, cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) {
	if mgr == nil || cfg == nil {
		return
	}

	recorder := audit.NewRecorder(store, logger)
	ws := workspace.New(cfg)

	objects, err := objectstore.New(cfg)
	if err != nil {
		logger.Warn("object store unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "objectstore_unavailable"),
			logging.String(logging.FieldImpact, "stages will fail records until object_store is configured"))
	} else {
		bucketCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := objects.EnsureBuckets(bucketCtx); err != nil {
			logger.Warn("ensure buckets failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "objectstore_buckets_failed"),
				logging.String(logging.FieldErrorHint, "verify object_store endpoint and credentials"))
		}
		cancel()
	}

	var catalogClient acquisition.Catalog
	if client, err := catalog.New(catalog.FromConfig(cfg)); err != nil {
		logger.Warn("catalog unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "catalog_unavailable"),
			logging.String(logging.FieldImpact, "dataset acquisition will fail records until catalog credentials are set"))
	} else {
		catalogClient = client
	}

	var runner trainer.Runner
	if command, err := trainer.New(cfg); err != nil {
		logger.Warn("trainer unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "trainer_unavailable"),
			logging.String(logging.FieldImpact, "training and evaluation will fail records until the trainer binary is configured"))
	} else {
		runner = command
	}

	var acqObjects acquisition.ObjectStore
	var trainObjects training.ObjectStore
	var evalObjects evaluation.ObjectStore
	if objects != nil {
		acqObjects = objects
		trainObjects = objects
		evalObjects = objects
	}

	mgr.ConfigureStages(workflow.StageSet{
		Acquisition: acquisition.New(cfg, store, catalogClient, acqObjects, ws, recorder, notifier, logger),
		Training:    training.New(cfg, store, trainObjects, runner, ws, recorder, notifier, logger),
		Evaluation:  evaluation.New(cfg, store, evalObjects, runner, ws, recorder, notifier, logger),
	})
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "loom.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	trainerBinary := cfg.TrainerBinary()
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("trainer_available", binaryAvailable(trainerBinary)),
		logging.String("trainer_binary", trainerBinary),
		logging.Bool("catalog_credentials_present", strings.TrimSpace(cfg.Catalog.Username) != "" && strings.TrimSpace(cfg.Catalog.APIKey) != ""),
		logging.Bool("object_store_configured", strings.TrimSpace(cfg.ObjectStore.Endpoint) != ""),
		logging.Bool("planner_llm_enabled", cfg.Planner.Enabled && strings.TrimSpace(cfg.Planner.APIKey) != ""),
		logging.Bool("notifications_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
