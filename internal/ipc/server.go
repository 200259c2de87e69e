package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"loom/internal/api"
	"loom/internal/daemon"
	"loom/internal/logging"
	"loom/internal/logs"
	"loom/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Loom", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun loom stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.StoreDBPath = status.StoreDBPath
	resp.LockPath = status.LockFilePath
	resp.PID = os.Getpid()
	resp.RunStats = api.MergePhaseStats(status.Workflow.QueueStats)
	resp.LastError = status.Workflow.LastError
	resp.InFlight = status.Workflow.InFlight
	if status.Workflow.LastRecord != nil {
		last := api.FromRecord(status.Workflow.LastRecord)
		resp.LastRun = &last
	}
	resp.StageHealth = api.StageHealthSlice(status.Workflow.StageHealth)
	for _, dep := range status.Dependencies {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:      dep.Name,
			Command:   dep.Command,
			Available: dep.Available,
			Detail:    dep.Detail,
		})
	}
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	s.log().Debug("run submit requested")
	record, err := s.daemon.Submit(s.ctx, req.Intent, req.Name, req.Owner)
	if err != nil {
		return err
	}
	resp.Run = api.FromRecord(record)
	s.log().Info("run submitted via IPC",
		logging.String(logging.FieldEventType, "run_submit"),
		logging.Int64(logging.FieldRecordID, record.ID))
	return nil
}

func (s *service) Trigger(req TriggerRequest, resp *TriggerResponse) error {
	s.log().Debug("stage trigger requested",
		logging.String(logging.FieldStage, req.Stage),
		logging.Int64(logging.FieldRecordID, req.ID))
	if err := s.daemon.TriggerStage(s.ctx, req.Stage, req.ID); err != nil {
		return err
	}
	if detail, err := s.daemon.DescribeRun(s.ctx, req.ID); err == nil && detail != nil {
		resp.Phase = detail.Run.Phase
	}
	return nil
}

func (s *service) RunList(req RunListRequest, resp *RunListResponse) error {
	phases := make([]queue.Phase, 0, len(req.Phases))
	for _, raw := range req.Phases {
		parsed, ok := queue.ParsePhase(raw)
		if !ok {
			continue
		}
		phases = append(phases, parsed)
	}
	runs, err := s.daemon.ListRuns(s.ctx, phases)
	if err != nil {
		return err
	}
	resp.Runs = runs
	return nil
}

func (s *service) RunDescribe(req RunDescribeRequest, resp *RunDescribeResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid run id %d", req.ID)
	}
	detail, err := s.daemon.DescribeRun(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if detail == nil {
		return fmt.Errorf("run %d not found", req.ID)
	}
	resp.Detail = *detail
	return nil
}

func (s *service) RunClear(_ RunClearRequest, resp *RunClearResponse) error {
	removed, err := s.daemon.ClearRuns(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("runs cleared",
		logging.String(logging.FieldEventType, "run_clear"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) RunClearCompleted(_ RunClearCompletedRequest, resp *RunClearCompletedResponse) error {
	removed, err := s.daemon.ClearCompleted(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("completed runs cleared",
		logging.String(logging.FieldEventType, "run_clear_completed"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) RunClearFailed(_ RunClearFailedRequest, resp *RunClearFailedResponse) error {
	removed, err := s.daemon.ClearFailed(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("failed runs cleared",
		logging.String(logging.FieldEventType, "run_clear_failed"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) RunReset(_ RunResetRequest, resp *RunResetResponse) error {
	updated, err := s.daemon.ResetStuck(s.ctx)
	if err != nil {
		return err
	}
	resp.Updated = updated
	s.log().Info("stuck runs reset",
		logging.String(logging.FieldEventType, "run_reset_stuck"),
		logging.Int64("updated_count", updated))
	return nil
}

func (s *service) RunRetry(req RunRetryRequest, resp *RunRetryResponse) error {
	updated, err := s.daemon.RetryFailed(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Updated = updated
	s.log().Info("failed runs retried",
		logging.String(logging.FieldEventType, "run_retry"),
		logging.Int64("updated_count", updated))
	return nil
}

func (s *service) RunReconcile(_ ReconcileRequest, resp *ReconcileResponse) error {
	repaired, err := s.daemon.Reconcile(s.ctx)
	if err != nil {
		return err
	}
	resp.Repaired = repaired
	s.log().Info("reconcile sweep finished",
		logging.String(logging.FieldEventType, "run_reconcile"),
		logging.Int("repaired_count", len(repaired)))
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) RunHealth(_ RunHealthRequest, resp *RunHealthResponse) error {
	health, err := s.daemon.RunHealth(s.ctx)
	if err != nil {
		return err
	}
	resp.Total = health.Total
	resp.Pending = health.Pending
	resp.Processing = health.Processing
	resp.Failed = health.Failed
	resp.Completed = health.Completed
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil && health.Error == "" {
		return err
	}
	resp.DBPath = health.DBPath
	resp.DatabaseExists = health.DatabaseExists
	resp.DatabaseReadable = health.DatabaseReadable
	resp.SchemaVersion = health.SchemaVersion
	resp.TableExists = health.TableExists
	resp.ColumnsPresent = append(resp.ColumnsPresent, health.ColumnsPresent...)
	resp.MissingColumns = append(resp.MissingColumns, health.MissingColumns...)
	resp.IntegrityCheck = health.IntegrityCheck
	resp.TotalRecords = health.TotalRecords
	resp.Error = health.Error
	return err
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
