package peer

import (
	"context"
	"log/slog"
	"time"

	"github.com/trahl-dev/trahl/internal/wire"
)

// State is the peer actor's handshake state machine.
type State int

const (
	// StateNotReady is entered on spawn by the socket server after a Hello.
	StateNotReady State = iota
	// StateConfigured follows application-level acknowledgement (HelloAck sent).
	StateConfigured
)

const (
	keepaliveInterval = 2 * time.Second
	peerTimeout       = 5 * time.Second
	channelCapacity   = 64
)

// Frame pairs a decoded message with the peer it arrived from/is bound
// for, so a single manager-facing channel can multiplex many peers.
type Frame struct {
	Identity Identity
	Message  wire.Message
}

// Actor owns one connected peer's handshake state, keepalive timer, and
// two-way fanout between its socket and the job manager. It holds no
// shared mutable state with other actors or the manager.
type Actor struct {
	Identity Identity
	Worker   wire.WorkerInfo

	// SocketIn receives frames decoded off this peer's connection by
	// the socket server's reader loop.
	SocketIn chan wire.Message
	// SocketOut is drained by the socket server's writer loop and sent
	// to this peer.
	SocketOut chan wire.Message
	// ManagerOut delivers frames up to the job manager.
	ManagerOut chan<- Frame
	// ManagerIn receives messages from the job manager to forward to
	// the peer unchanged.
	ManagerIn chan wire.Message

	state    State
	lastSeen time.Time
	logger   *slog.Logger
}

// NewActor constructs an Actor for a newly accepted identity. managerOut
// is shared across every actor spawned by one socket server.
func NewActor(identity Identity, worker wire.WorkerInfo, managerOut chan<- Frame, logger *slog.Logger) *Actor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actor{
		Identity:   identity,
		Worker:     worker,
		SocketIn:   make(chan wire.Message, channelCapacity),
		SocketOut:  make(chan wire.Message, channelCapacity),
		ManagerOut: managerOut,
		ManagerIn:  make(chan wire.Message, channelCapacity),
		state:      StateNotReady,
		lastSeen:   time.Now(),
		logger:     logger.With("peer", string(identity), "worker", worker.Identifier),
	}
}

// Run drives the actor until its socket-in channel closes, it emits
// Bye on timeout, or ctx is cancelled. Call in its own goroutine; the
// socket server observes termination by this method returning and then
// emits PeerDisconnected.
func (a *Actor) Run(ctx context.Context) {
	a.state = StateConfigured
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-a.SocketIn:
			if !ok {
				return
			}
			a.lastSeen = time.Now()
			select {
			case a.ManagerOut <- Frame{Identity: a.Identity, Message: msg}:
			case <-ctx.Done():
				return
			}

		case msg := <-a.ManagerIn:
			select {
			case a.SocketOut <- msg:
			case <-ctx.Done():
				return
			}

		case <-ticker.C:
			if time.Since(a.lastSeen) >= peerTimeout {
				a.logger.Warn("peer timed out, sending Bye")
				select {
				case a.SocketOut <- wire.NewBye():
				default:
				}
				return
			}
			select {
			case a.SocketOut <- wire.NewPing():
			default:
			}
		}
	}
}
