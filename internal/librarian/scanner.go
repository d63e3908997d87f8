// Package librarian walks a library's source tree, discovers files not
// already known to the catalog, content-hashes them on a bounded
// worker pool, and records them as file_entry rows.
package librarian

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/trahl-dev/trahl/internal/catalog"
	"github.com/trahl-dev/trahl/internal/catalog/models"
	"github.com/trahl-dev/trahl/internal/events"
)

// FileRepository is the subset of the catalog's file repository the
// scanner drives.
type FileRepository interface {
	IsKnown(ctx context.Context, libraryID uint, filePath string) (bool, error)
	Insert(ctx context.Context, entry *models.FileEntry) error
	MarkLibraryScanned(ctx context.Context, libraryID uint) error
}

// LibraryRepository is the subset of the catalog's library repository
// the scanner needs to resolve a library id to its source path.
type LibraryRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Library, error)
}

// JobCreator is the subset of the catalog's job repository the scanner
// drives to queue a job for every newly discovered file — the
// discovery flow is where a job first comes into existence.
type JobCreator interface {
	Create(ctx context.Context, fileID uint) (*models.Job, error)
}

// Scanner runs one scan per library at a time; a request against a
// library already being scanned is dropped with a warning rather than
// queued.
type Scanner struct {
	files       FileRepository
	libraries   LibraryRepository
	jobs        JobCreator
	events      *events.Bus
	logger      *slog.Logger
	concurrency int

	mu       sync.Mutex
	inFlight map[uint]context.CancelFunc
}

// SetJobCreator wires the job-queueing step a newly discovered file
// triggers, and the event bus a queued job is announced on. Left unset,
// the scanner only records file_entry rows (used by tests that only
// care about discovery behavior).
func (s *Scanner) SetJobCreator(jobs JobCreator, bus *events.Bus) {
	s.jobs = jobs
	s.events = bus
}

// NewScanner constructs a Scanner. concurrency bounds the number of
// files hashed at once; zero selects runtime.NumCPU().
func NewScanner(files FileRepository, libraries LibraryRepository, concurrency int, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Scanner{
		files:       files,
		libraries:   libraries,
		logger:      logger,
		concurrency: concurrency,
		inFlight:    make(map[uint]context.CancelFunc),
	}
}

// Scan walks libraryID's source tree and discovers unknown files. If a
// scan is already running for this library, the request is dropped.
// Scan blocks until the walk and every hash have completed, or ctx is
// cancelled.
func (s *Scanner) Scan(ctx context.Context, libraryID uint) error {
	scanCtx, cancel, ok := s.beginScan(ctx, libraryID)
	if !ok {
		s.logger.Warn("librarian: scan already running, dropping request", "library_id", libraryID)
		return nil
	}
	defer s.endScan(libraryID, cancel)

	lib, err := s.libraries.GetByID(scanCtx, libraryID)
	if err != nil {
		return fmt.Errorf("librarian: loading library %d: %w", libraryID, err)
	}
	if lib == nil {
		return fmt.Errorf("librarian: library %d not found", libraryID)
	}

	g, gctx := errgroup.WithContext(scanCtx)
	g.SetLimit(s.concurrency)

	walkErr := filepath.WalkDir(lib.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(lib.Path, path)
		if err != nil {
			return fmt.Errorf("librarian: relativizing %s: %w", path, err)
		}

		g.Go(func() error {
			return s.discover(gctx, libraryID, relPath, path)
		})
		return nil
	})

	groupErr := g.Wait()
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		return fmt.Errorf("librarian: walking %s: %w", lib.Path, walkErr)
	}
	if groupErr != nil {
		return fmt.Errorf("librarian: hashing discovered files: %w", groupErr)
	}
	if scanCtx.Err() != nil {
		return scanCtx.Err()
	}

	if err := s.files.MarkLibraryScanned(scanCtx, libraryID); err != nil {
		return fmt.Errorf("librarian: stamping last_scanned_at: %w", err)
	}
	return nil
}

func (s *Scanner) discover(ctx context.Context, libraryID uint, relPath, absPath string) error {
	known, err := s.files.IsKnown(ctx, libraryID, relPath)
	if err != nil {
		return fmt.Errorf("checking %s: %w", relPath, err)
	}
	if known {
		return nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", relPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", relPath, err)
	}

	hash, err := catalog.HashReader(f)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", relPath, err)
	}

	entry := &models.FileEntry{
		LibraryID: libraryID,
		FilePath:  relPath,
		FileSize:  info.Size(),
		Hash:      hash,
	}
	if err := s.files.Insert(ctx, entry); err != nil {
		return fmt.Errorf("inserting file_entry for %s: %w", relPath, err)
	}

	if s.jobs != nil {
		job, err := s.jobs.Create(ctx, entry.ID)
		if err != nil {
			return fmt.Errorf("queueing job for %s: %w", relPath, err)
		}
		if s.events != nil {
			s.events.JobQueued(job.ID)
		}
	}
	return nil
}

func (s *Scanner) beginScan(ctx context.Context, libraryID uint) (context.Context, context.CancelFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inFlight[libraryID]; running {
		return nil, nil, false
	}
	scanCtx, cancel := context.WithCancel(ctx)
	s.inFlight[libraryID] = cancel
	return scanCtx, cancel, true
}

func (s *Scanner) endScan(libraryID uint, cancel context.CancelFunc) {
	s.mu.Lock()
	delete(s.inFlight, libraryID)
	s.mu.Unlock()
	cancel()
}

// AbortAll cancels every in-flight scan; called on process termination.
func (s *Scanner) AbortAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.inFlight {
		cancel()
	}
}
