// Package worker wires the daemon process: the peer client connection
// to a master, and a bounded pool of job runner goroutines fed from
// incoming Job messages.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shirou/gopsutil/v4/load"

	"github.com/trahl-dev/trahl/internal/config"
	"github.com/trahl-dev/trahl/internal/peer"
	"github.com/trahl-dev/trahl/internal/startup"
	"github.com/trahl-dev/trahl/internal/util"
	"github.com/trahl-dev/trahl/internal/version"
	"github.com/trahl-dev/trahl/internal/wire"
	"github.com/trahl-dev/trahl/internal/workerrunner"
)

// Worker owns the outbound connection to a master and every in-flight
// job runner goroutine it has spawned from that connection.
type Worker struct {
	cfg         config.WorkerConfig
	logger      *slog.Logger
	ffmpegPath  string
	ffprobePath string

	sem chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New resolves the ffmpeg and ffprobe binaries and constructs a Worker
// ready to Run.
func New(cfg config.WorkerConfig, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ffmpegPath, err := resolveBinary(cfg.FFmpegPath, "ffmpeg", "TRAHL_FFMPEG_PATH")
	if err != nil {
		return nil, err
	}
	ffprobePath, err := resolveBinary(cfg.FFprobePath, "ffprobe", "TRAHL_FFPROBE_PATH")
	if err != nil {
		return nil, err
	}

	return &Worker{
		cfg:         cfg,
		logger:      logger,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		sem:         make(chan struct{}, cfg.ParallelJobs),
		running:     make(map[string]context.CancelFunc),
	}, nil
}

// resolveBinary prefers an explicitly configured path, falling back to
// util.FindBinary's PATH/env-var search.
func resolveBinary(configured, name, envVar string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	path, err := util.FindBinary(name, envVar)
	if err != nil {
		return "", fmt.Errorf("worker: locating %s: %w", name, err)
	}
	return path, nil
}

// logSystemStats logs a one-line load-average snapshot at startup —
// useful context for interpreting job throughput, without adding any
// field to the wire Hello/keepalive contract.
func (w *Worker) logSystemStats(ctx context.Context) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		w.logger.Debug("worker: load average unavailable", "error", err)
		return
	}
	w.logger.Info("worker: starting",
		"identifier", w.cfg.Identifier,
		"parallel_jobs", w.cfg.ParallelJobs,
		"load1", avg.Load1, "load5", avg.Load5, "load15", avg.Load15,
	)
}

// Run connects to the master and processes Job messages until ctx is
// cancelled or the connection drops.
func (w *Worker) Run(ctx context.Context) error {
	w.logSystemStats(ctx)

	if removed, err := startup.CleanupOrphanedWorkspaces(w.logger, w.cfg.CacheDir, startup.DefaultCleanupAge); err != nil {
		w.logger.Warn("worker: orphaned workspace cleanup failed", "error", err)
	} else if removed > 0 {
		w.logger.Info("worker: removed orphaned job workspaces", "count", removed)
	}

	info := wire.WorkerInfo{
		Identifier:       w.cfg.Identifier,
		SimultaneousJobs: w.cfg.ParallelJobs,
		SWVersion:        version.Version,
	}

	client, err := peer.Connect(ctx, w.cfg.MasterAddr, info, w.logger)
	if err != nil {
		return fmt.Errorf("worker: connecting to %s: %w", w.cfg.MasterAddr, err)
	}
	defer client.Close()

	runner := workerrunner.New(workerrunner.Config{
		CacheDir:    w.cfg.CacheDir,
		Remaps:      w.cfg.Table(),
		FFmpegPath:  w.ffmpegPath,
		FFprobePath: w.ffprobePath,
		Logger:      w.logger,
	}, w.send(client))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.cancelAll()
			return nil

		case msg, ok := <-client.Inbound:
			if !ok {
				w.cancelAll()
				return fmt.Errorf("worker: connection to %s closed", w.cfg.MasterAddr)
			}
			switch msg.Kind {
			case wire.KindJob:
				if msg.Job == nil {
					continue
				}
				w.dispatch(ctx, &wg, runner, *msg.Job)
			case wire.KindCancelJobs:
				w.cancelAll()
			}
		}
	}
}

// dispatch runs one job on a goroutine bounded by the worker's
// parallel_jobs semaphore, tracking its cancel func so CancelJobs can
// abandon it mid-flight.
func (w *Worker) dispatch(ctx context.Context, wg *sync.WaitGroup, runner *workerrunner.Runner, job wire.JobMsg) {
	jobCtx, cancel := context.WithCancel(ctx)
	key := job.JobID.String()

	w.mu.Lock()
	w.running[key] = cancel
	w.mu.Unlock()

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		cancel()
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			<-w.sem
			w.mu.Lock()
			delete(w.running, key)
			w.mu.Unlock()
			cancel()
		}()
		runner.Handle(jobCtx, job)
	}()
}

// cancelAll abandons every in-flight job, run in response to
// CancelJobs or local shutdown; the runner's own workspace cleanup
// still fires via its deferred guard.
func (w *Worker) cancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, cancel := range w.running {
		cancel()
		delete(w.running, key)
	}
}

// send adapts workerrunner's plain JobStatusMsg callback onto the peer
// client's wire.Message outbound channel.
func (w *Worker) send(client *peer.Client) func(wire.JobStatusMsg) {
	return func(status wire.JobStatusMsg) {
		select {
		case client.Outbound <- wire.NewJobStatus(status):
		default:
			w.logger.Warn("worker: outbound buffer full, dropping status", "job_id", status.JobID.String())
		}
	}
}
