// Package workerrunner executes one dispatched job end to end: it
// stages an ephemeral workspace, builds the variable set a script
// sees, drives the scripting host, and places the produced file
// according to the mode the script chose.
package workerrunner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trahl-dev/trahl/internal/fsremap"
	"github.com/trahl-dev/trahl/internal/scripting"
	"github.com/trahl-dev/trahl/internal/wire"
)

// Output placement modes a script may request via set_output.
const (
	ModePreserveDir = 1
	ModeFlat        = 2
	ModeOverwrite   = 3
)

// Config bundles everything a Runner needs to build workspaces and
// drive the scripting host, independent of any one job.
type Config struct {
	CacheDir    string
	Remaps      fsremap.Table
	FFmpegPath  string
	FFprobePath string
	Logger      *slog.Logger
}

// Runner executes Job messages, reporting every JobStatus onto Send.
type Runner struct {
	cfg  Config
	send func(wire.JobStatusMsg)
}

// New constructs a Runner. send is called once per status event the
// job produces (Ack, Progress, Milestone, Log, Copying, Error, Done);
// the caller wires it to the worker's outbound link to the master.
func New(cfg Config, send func(wire.JobStatusMsg)) *Runner {
	return &Runner{cfg: cfg, send: send}
}

// Handle runs job to completion. It never returns an error to its
// caller: every failure is reported as a JobStatus instead, matching
// the wire protocol's expectation that the worker always speaks in
// status events, not local errors.
func (r *Runner) Handle(ctx context.Context, job wire.JobMsg) {
	workspace, cleanup, err := r.stageWorkspace(job.JobID.String())
	if err != nil {
		r.emit(job.JobID, wire.JobStatus{Kind: wire.JobStatusDeclined, Reason: err.Error()})
		return
	}
	defer cleanup()

	vars := r.buildVars(job, workspace)

	statusCh := make(chan wire.JobStatus, 64)
	host := scripting.New(r.cfg.Logger, vars, r.cfg.FFmpegPath, r.cfg.FFprobePath, statusCh)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for status := range statusCh {
			r.emit(job.JobID, status)
		}
	}()

	r.emit(job.JobID, wire.JobStatus{Kind: wire.JobStatusAck})

	runErr := host.Run(ctx, job.Script)
	close(statusCh)
	wg.Wait()

	if runErr != nil {
		r.emit(job.JobID, wire.JobStatus{Kind: wire.JobStatusError, Text: runErr.Error()})
		return
	}

	r.place(job.JobID, host, vars)
}

func (r *Runner) stageWorkspace(jobID string) (string, func(), error) {
	dir, err := os.MkdirTemp(r.cfg.CacheDir, "job-"+jobID+"-")
	if err != nil {
		return "", nil, fmt.Errorf("workerrunner: creating workspace: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.cfg.Logger.Warn("workerrunner: workspace cleanup failed", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// buildVars merges the job's own variables with the four auto-injected
// paths, each passed through the worker's filesystem remap table.
func (r *Runner) buildVars(job wire.JobMsg, workspace string) map[string]string {
	vars := make(map[string]string, len(job.Vars)+4)
	for k, v := range job.Vars {
		vars[k] = v
	}
	vars["CACHEDIR"] = r.cfg.Remaps.ToWorker(workspace)
	vars["SRCFILE"] = r.cfg.Remaps.ToWorker(job.File)
	vars["DSTDIR"] = r.cfg.Remaps.ToWorker(job.DstDir)
	vars["LIBRARYROOT"] = r.cfg.Remaps.ToWorker(job.LibraryRoot)
	return vars
}

func (r *Runner) emit(jobID ulid.ULID, status wire.JobStatus) {
	r.send(wire.JobStatusMsg{
		Timestamp: uint64(time.Now().Unix()),
		JobID:     jobID,
		Status:    status,
	})
}

func (r *Runner) place(jobID ulid.ULID, host *scripting.Host, vars map[string]string) {
	produced, mode, ok := host.Output()
	if !ok {
		r.emit(jobID, wire.JobStatus{Kind: wire.JobStatusDone})
		return
	}

	dst, err := destinationFor(mode, produced, vars)
	if err != nil {
		r.emit(jobID, wire.JobStatus{Kind: wire.JobStatusError, Text: err.Error()})
		return
	}

	r.emit(jobID, wire.JobStatus{Kind: wire.JobStatusCopying})

	if err := copyFile(produced, dst); err != nil {
		r.emit(jobID, wire.JobStatus{Kind: wire.JobStatusError, Text: err.Error()})
		return
	}

	file := dst
	r.emit(jobID, wire.JobStatus{Kind: wire.JobStatusDone, File: &file})
}

// destinationFor computes the final path for produced given mode,
// consulting the job's DSTDIR/SRCFILE/LIBRARYROOT variables.
func destinationFor(mode int, produced string, vars map[string]string) (string, error) {
	switch mode {
	case ModePreserveDir:
		rel, err := filepath.Rel(vars["LIBRARYROOT"], vars["SRCFILE"])
		if err != nil {
			return "", fmt.Errorf("workerrunner: resolving relative source path: %w", err)
		}
		return filepath.Join(vars["DSTDIR"], filepath.Dir(rel), filepath.Base(produced)), nil
	case ModeFlat:
		return filepath.Join(vars["DSTDIR"], filepath.Base(produced)), nil
	case ModeOverwrite:
		return vars["SRCFILE"], nil
	default:
		return "", fmt.Errorf("workerrunner: unknown output mode %d", mode)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("workerrunner: opening produced file: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("workerrunner: creating destination directory: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("workerrunner: creating destination file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("workerrunner: copying to destination: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("workerrunner: syncing destination file: %w", err)
	}
	return nil
}
