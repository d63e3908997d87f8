package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trahl-dev/trahl/internal/catalog/models"
	"github.com/trahl-dev/trahl/internal/catalog/repository"
	"github.com/trahl-dev/trahl/internal/events"
	"github.com/trahl-dev/trahl/internal/peer"
	"github.com/trahl-dev/trahl/internal/wire"
)

const dispatchInterval = 2 * time.Second

// JobRepository is the subset of the catalog's job repository the
// manager drives.
type JobRepository interface {
	PopOldestQueued(ctx context.Context, workerID uint, dispatchToken string) (*models.Job, error)
	GlobalVariables(ctx context.Context) ([]models.Variable, error)
	Requeue(ctx context.Context, jobID uint) error
	RequeueActiveForWorker(ctx context.Context, workerID uint) error
	Finish(ctx context.Context, jobID uint, status models.JobStatus, outputFile *string) error
}

// WorkerRepository is the subset of the catalog's worker repository
// the manager needs to resolve a peer identifier to its catalog row.
type WorkerRepository interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.Worker, error)
}

// PeerTransport is the subset of peer.Server the manager drives.
type PeerTransport interface {
	Send(id peer.Identity, msg wire.Message) bool
	Broadcast(msg wire.Message)
	ManagerOut() <-chan peer.Frame
}

// Manager owns all dispatch state: who is connected, what is in
// flight, and when to pull the next job. It holds no lock shared with
// peer actors — everything here is touched only from Run's single
// goroutine.
type Manager struct {
	jobs    JobRepository
	workers WorkerRepository
	peers   PeerTransport
	events  *events.Bus
	logger  *slog.Logger

	peerEvents *events.Subscriber

	mu        sync.Mutex // guards connected and tracked
	connected map[peer.Identity]peerInfo
	tracked   map[ulid.ULID]*tracking
}

// New constructs a Manager. ctx governs the lifetime of its event
// subscription; callers should pass the same ctx to Run.
func New(ctx context.Context, jobs JobRepository, workers WorkerRepository, peers PeerTransport, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:       jobs,
		workers:    workers,
		peers:      peers,
		events:     bus,
		logger:     logger,
		peerEvents: bus.Subscribe(ctx),
		connected:  make(map[peer.Identity]peerInfo),
		tracked:    make(map[ulid.ULID]*tracking),
	}
}

// Run drives the four concurrent inputs — dispatch timer, peer-actor
// messages, socket-server events, and ctx cancellation — until ctx is
// cancelled, broadcasting CancelJobs to every peer before returning.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.peers.Broadcast(wire.NewCancelJobs())
			return

		case ev, ok := <-m.peerEvents.Events:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)

		case frame, ok := <-m.peers.ManagerOut():
			if !ok {
				return
			}
			m.handleFrame(ctx, frame)

		case <-ticker.C:
			m.dispatchTick(ctx)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.KindPeerConnected:
		id := peer.Identity(ev.PeerID)
		info := peerInfo{WorkerIdentifier: ev.WorkerIdentifier, SimultaneousJobs: ev.SimultaneousJobs}
		if w, err := m.workers.GetByIdentifier(ctx, ev.WorkerIdentifier); err == nil && w != nil {
			info.WorkerDBID = w.ID
		} else if err != nil {
			m.logger.Error("jobmanager: resolving worker row", "identifier", ev.WorkerIdentifier, "error", err)
		}
		m.mu.Lock()
		m.connected[id] = info
		m.mu.Unlock()

	case events.KindPeerDisconnected:
		id := peer.Identity(ev.PeerID)
		m.mu.Lock()
		info, ok := m.connected[id]
		delete(m.connected, id)
		for token, tr := range m.tracked {
			if tr.Peer == id {
				delete(m.tracked, token)
			}
		}
		m.mu.Unlock()
		if ok && info.WorkerDBID != 0 {
			if err := m.jobs.RequeueActiveForWorker(ctx, info.WorkerDBID); err != nil {
				m.logger.Error("jobmanager: requeueing after peer disconnect", "worker_id", info.WorkerDBID, "error", err)
			}
		}
	}
}

func (m *Manager) handleFrame(ctx context.Context, frame peer.Frame) {
	if frame.Message.Kind != wire.KindJobStatus || frame.Message.JobStatus == nil {
		return
	}
	status := frame.Message.JobStatus

	m.mu.Lock()
	tr, ok := m.tracked[status.JobID]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("jobmanager: status for unknown dispatch token", "token", status.JobID.String())
		return
	}

	switch status.Status.Kind {
	case wire.JobStatusAck:
		m.mu.Lock()
		tr.State = stateRunning
		m.mu.Unlock()
		m.events.JobStarted(tr.CatalogJobID, string(frame.Identity))

	case wire.JobStatusDeclined:
		if err := m.jobs.Requeue(ctx, tr.CatalogJobID); err != nil {
			m.logger.Error("jobmanager: requeueing declined job", "job_id", tr.CatalogJobID, "error", err)
		}
		m.forget(status.JobID)
		m.events.JobEnded(tr.CatalogJobID, fmt.Sprintf("declined: %s", status.Status.Reason))

	case wire.JobStatusProgress, wire.JobStatusMilestone, wire.JobStatusLog, wire.JobStatusCopying:
		// No catalog write; a dashboard could subscribe to these via
		// the event bus in a future iteration.

	case wire.JobStatusError:
		if err := m.jobs.Finish(ctx, tr.CatalogJobID, models.JobStatusFailure, nil); err != nil {
			m.logger.Error("jobmanager: finishing failed job", "job_id", tr.CatalogJobID, "error", err)
		}
		m.forget(status.JobID)
		m.events.JobEnded(tr.CatalogJobID, status.Status.Text)

	case wire.JobStatusDone:
		if err := m.jobs.Finish(ctx, tr.CatalogJobID, models.JobStatusSuccess, status.Status.File); err != nil {
			m.logger.Error("jobmanager: finishing successful job", "job_id", tr.CatalogJobID, "error", err)
		}
		m.forget(status.JobID)
		m.events.JobEnded(tr.CatalogJobID, "success")
	}
}

func (m *Manager) forget(token ulid.ULID) {
	m.mu.Lock()
	delete(m.tracked, token)
	m.mu.Unlock()
}

// dispatchTick implements one iteration of the dispatch loop: find the
// least-loaded eligible peer, pop the oldest queued job for it, and
// send it.
func (m *Manager) dispatchTick(ctx context.Context) {
	id, info, ok := m.leastLoadedEligiblePeer()
	if !ok {
		return
	}

	token := ulid.Make()
	job, err := m.jobs.PopOldestQueued(ctx, info.WorkerDBID, token.String())
	if err != nil {
		if !errors.Is(err, repository.ErrNoWork) {
			m.logger.Error("jobmanager: popping queued job", "error", err)
		}
		return
	}

	vars := make(map[string]string, len(job.File.Library.Variables))
	if globals, err := m.jobs.GlobalVariables(ctx); err != nil {
		m.logger.Error("jobmanager: loading global variables", "error", err)
	} else {
		for _, v := range globals {
			if v.Value != nil {
				vars[v.Key] = *v.Value
			}
		}
	}
	for _, v := range job.File.Library.Variables {
		if v.Value != nil {
			vars[v.Key] = *v.Value
		}
	}

	msg := wire.NewJob(wire.JobMsg{
		JobID:       token,
		Script:      job.File.Library.Script.Body,
		Vars:        vars,
		File:        job.File.FilePath,
		DstDir:      job.File.Library.Destination,
		LibraryRoot: job.File.Library.Path,
	})

	if !m.peers.Send(id, msg) {
		if err := m.jobs.Requeue(ctx, job.ID); err != nil {
			m.logger.Error("jobmanager: requeueing after failed send", "job_id", job.ID, "error", err)
		}
		return
	}

	m.mu.Lock()
	m.tracked[token] = &tracking{CatalogJobID: job.ID, Peer: id, State: stateSent}
	m.mu.Unlock()
}

// leastLoadedEligiblePeer finds the connected peer with the fewest
// active (Sent or Running) dispatches that still has spare capacity.
func (m *Manager) leastLoadedEligiblePeer() (peer.Identity, peerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[peer.Identity]int, len(m.connected))
	for _, tr := range m.tracked {
		active[tr.Peer]++
	}

	var best peer.Identity
	var bestInfo peerInfo
	bestActive := -1
	found := false

	for id, info := range m.connected {
		n := active[id]
		if n >= int(info.SimultaneousJobs) {
			continue
		}
		if !found || n < bestActive {
			found = true
			best = id
			bestInfo = info
			bestActive = n
		}
	}
	return best, bestInfo, found
}
