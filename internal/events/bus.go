// Package events is the job manager's UI event bus: a typed pub/sub
// fan-out that an out-of-scope web dashboard could subscribe to.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies an event type.
type Kind string

const (
	KindPeerConnected    Kind = "peer_connected"
	KindPeerDisconnected Kind = "peer_disconnected"
	KindJobQueued        Kind = "job_queued"
	KindJobStarted       Kind = "job_started"
	KindJobEnded         Kind = "job_ended"
)

// Event is one broadcast notification.
type Event struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	PeerID    string
	JobID     uint
	Detail    string

	// WorkerIdentifier and SimultaneousJobs are set on PeerConnected,
	// carrying the worker's catalog identifier and declared concurrency
	// capacity from its Hello so the job manager's dispatch loop never
	// needs to reach back into the socket layer.
	WorkerIdentifier string
	SimultaneousJobs uint8
}

const defaultBufferSize = 100

// Subscriber receives events on Events until Close or the owning
// context is cancelled.
type Subscriber struct {
	id     string
	Events chan Event
	done   chan struct{}
}

// Close unsubscribes; safe to call more than once.
func (s *Subscriber) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Bus is a fan-out broadcaster: every Publish is delivered to every
// live subscriber's buffered channel, best-effort (a full subscriber
// buffer drops the event rather than blocking the publisher).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*Subscriber)}
}

// Subscribe registers a new subscriber, automatically unsubscribed when
// ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) *Subscriber {
	b.mu.Lock()
	sub := &Subscriber{
		id:     ulid.Make().String(),
		Events: make(chan Event, defaultBufferSize),
		done:   make(chan struct{}),
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		b.unsubscribe(sub.id)
	}()

	return sub
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.Events)
	}
}

// Publish broadcasts ev to every live subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub.Events <- ev:
		default:
		}
	}
}

// PeerConnected is a convenience wrapper around Publish.
func (b *Bus) PeerConnected(peerID, workerIdentifier string, simultaneousJobs uint8) {
	b.Publish(Event{Kind: KindPeerConnected, PeerID: peerID, WorkerIdentifier: workerIdentifier, SimultaneousJobs: simultaneousJobs})
}

// PeerDisconnected is a convenience wrapper around Publish.
func (b *Bus) PeerDisconnected(peerID string) {
	b.Publish(Event{Kind: KindPeerDisconnected, PeerID: peerID})
}

// JobQueued is a convenience wrapper around Publish.
func (b *Bus) JobQueued(jobID uint) {
	b.Publish(Event{Kind: KindJobQueued, JobID: jobID})
}

// JobStarted is a convenience wrapper around Publish.
func (b *Bus) JobStarted(jobID uint, peerID string) {
	b.Publish(Event{Kind: KindJobStarted, JobID: jobID, PeerID: peerID})
}

// JobEnded is a convenience wrapper around Publish.
func (b *Bus) JobEnded(jobID uint, detail string) {
	b.Publish(Event{Kind: KindJobEnded, JobID: jobID, Detail: detail})
}
