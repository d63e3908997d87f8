// Package master wires the coordinator process: catalog store, library
// merge from configuration, the librarian scanner, the peer socket
// server, and the job manager, driven as one unit from cmd/trahl.
package master

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trahl-dev/trahl/internal/catalog"
	"github.com/trahl-dev/trahl/internal/catalog/repository"
	"github.com/trahl-dev/trahl/internal/config"
	"github.com/trahl-dev/trahl/internal/events"
	"github.com/trahl-dev/trahl/internal/jobmanager"
	"github.com/trahl-dev/trahl/internal/librarian"
	"github.com/trahl-dev/trahl/internal/peer"
	"github.com/trahl-dev/trahl/internal/startup"
)

// rescanSchedule is how often every enabled library is re-walked for
// files added since its last scan, in addition to the scan each
// library gets once at startup.
const rescanSchedule = "@every 10m"

// scannerConcurrency bounds how many files one library scan hashes at
// once; 0 lets the scanner pick runtime.NumCPU().
const scannerConcurrency = 0

// Master owns every coordinator-side component's lifetime.
type Master struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *catalog.Store
	libraries  *repository.LibraryRepository
	files      *repository.FileRepository
	jobs       *repository.JobRepository
	workers    *repository.WorkerRepository
	bus        *events.Bus
	scanner    *librarian.Scanner
	peerServer *peer.Server
	manager    *jobmanager.Manager
	cron       *cron.Cron
}

// New opens the catalog, merges configured libraries, and wires every
// master-side component without starting any of them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Master, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := catalog.Open(ctx, cfg.Master.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("master: opening catalog: %w", err)
	}

	libraries := repository.NewLibraryRepository(store.DB())
	files := repository.NewFileRepository(store.DB())
	jobs := repository.NewJobRepository(store.DB())
	workers := repository.NewWorkerRepository(store.DB())

	if err := mergeLibraries(ctx, store, cfg.Jobs); err != nil {
		store.Close()
		return nil, err
	}

	bus := events.NewBus()

	scanner := librarian.NewScanner(files, libraries, scannerConcurrency, logger)
	scanner.SetJobCreator(jobs, bus)

	peerServer, err := peer.NewServer(cfg.Master.OrchBindAddr, bus, workers, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("master: starting peer server: %w", err)
	}

	manager := jobmanager.New(ctx, jobs, workers, peerServer, bus, logger)

	return &Master{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		libraries:  libraries,
		files:      files,
		jobs:       jobs,
		workers:    workers,
		bus:        bus,
		scanner:    scanner,
		peerServer: peerServer,
		manager:    manager,
		cron:       cron.New(),
	}, nil
}

// mergeLibraries reads each [[jobs]] entry's lua_script file from disk
// and upserts the resulting library set into the catalog.
func mergeLibraries(ctx context.Context, store *catalog.Store, jobs []config.JobConfig) error {
	entries := make([]catalog.LibraryConfig, 0, len(jobs))
	for _, j := range jobs {
		body, err := os.ReadFile(j.LuaScript)
		if err != nil {
			return fmt.Errorf("master: reading lua_script for library %q: %w", j.Name, err)
		}
		entries = append(entries, catalog.LibraryConfig{
			Name:            j.Name,
			Enabled:         j.Enabled,
			SourcePath:      j.SourcePath,
			DestinationPath: j.DestinationPath,
			ScriptPath:      filepath.Base(j.LuaScript),
			ScriptBody:      string(body),
			Variables:       j.Variables,
		})
	}
	if err := store.MergeLibrariesFromConfig(ctx, entries); err != nil {
		return fmt.Errorf("master: merging configured libraries: %w", err)
	}
	return nil
}

// Addr returns the bound peer-server listener address, useful for
// tests that bind to ":0".
func (m *Master) Addr() string {
	return m.peerServer.Addr().String()
}

// Run recovers any job a prior crash left mid-flight, starts the
// periodic rescan schedule, and drives the peer server and job manager
// until ctx is cancelled.
func (m *Master) Run(ctx context.Context) error {
	if _, err := startup.RecoverStaleProcessingJobs(ctx, m.logger, m.jobs); err != nil {
		m.logger.Warn("master: stale job recovery failed, continuing", "error", err)
	}

	if err := m.scanAllEnabled(ctx); err != nil {
		m.logger.Error("master: initial library scan failed", "error", err)
	}

	if _, err := m.cron.AddFunc(rescanSchedule, func() {
		if err := m.scanAllEnabled(ctx); err != nil {
			m.logger.Error("master: scheduled library scan failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("master: scheduling rescan: %w", err)
	}
	m.cron.Start()
	defer func() {
		cronCtx := m.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-time.After(5 * time.Second):
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.peerServer.Serve(ctx)
	}()

	m.manager.Run(ctx)
	m.scanner.AbortAll()

	if err := <-errCh; err != nil {
		return fmt.Errorf("master: peer server: %w", err)
	}
	return nil
}

// Reload re-merges the catalog's configured libraries against a freshly
// loaded configuration, in response to SIGHUP.
func (m *Master) Reload(ctx context.Context, cfg *config.Config) error {
	if err := mergeLibraries(ctx, m.store, cfg.Jobs); err != nil {
		return err
	}
	m.cfg = cfg
	m.logger.Info("master: configuration reloaded")
	return nil
}

// scanAllEnabled requests a scan for every currently enabled library.
// Scan is synchronous per library but single-flight guarded, so an
// already-running scan from the previous tick is simply skipped.
func (m *Master) scanAllEnabled(ctx context.Context) error {
	libs, err := m.libraries.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("master: listing enabled libraries: %w", err)
	}
	for _, lib := range libs {
		if err := m.scanner.Scan(ctx, lib.ID); err != nil {
			m.logger.Error("master: scanning library", "library", lib.Name, "error", err)
		}
	}
	return nil
}

// Close releases the catalog connection.
func (m *Master) Close() error {
	return m.store.Close()
}
