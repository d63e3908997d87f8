package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/trahl-dev/trahl/internal/catalog/models"
	"github.com/trahl-dev/trahl/internal/events"
	"github.com/trahl-dev/trahl/internal/wire"
)

// WorkerUpserter is the subset of the catalog's worker repository the
// server needs on every successful handshake.
type WorkerUpserter interface {
	Upsert(ctx context.Context, identifier string) (*models.Worker, error)
}

type peerHandle struct {
	actor  *Actor
	cancel context.CancelFunc
}

// Server is the master-side socket server: it accepts identity-tagged
// connections, routes frames to the owning peer actor, and spawns/reaps
// actors on Hello/Bye/timeout.
type Server struct {
	listener net.Listener
	managerOut chan Frame
	events   *events.Bus
	workers  WorkerUpserter
	logger   *slog.Logger

	mu        sync.Mutex
	peers     map[Identity]*peerHandle
	managerIn map[Identity]chan<- wire.Message
}

// ManagerOut returns the shared channel every peer actor forwards
// decoded frames onto; the job manager reads from this.
func (s *Server) ManagerOut() <-chan Frame { return s.managerOut }

// NewServer starts listening on addr.
func NewServer(addr string, bus *events.Bus, workers WorkerUpserter, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: binding %s: %w", addr, err)
	}
	return &Server{
		listener:   ln,
		managerOut: make(chan Frame, channelCapacity),
		events:     bus,
		workers:    workers,
		logger:     logger,
		peers:      make(map[Identity]*peerHandle),
		managerIn:  make(map[Identity]chan<- wire.Message),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Send delivers msg to the peer identified by id, if still connected.
func (s *Server) Send(id Identity, msg wire.Message) bool {
	s.mu.Lock()
	ch, ok := s.managerIn[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

// Broadcast delivers msg to every connected peer (used for CancelJobs
// on shutdown).
func (s *Server) Broadcast(msg wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.managerIn {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Serve accepts connections until ctx is cancelled or the listener errors.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("peer: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	identity := NewIdentity()
	r := bufio.NewReader(conn)

	first, err := wire.ReadMessage(r)
	if err != nil {
		s.logger.Warn("peer: failed reading handshake", "error", err)
		return
	}
	if first.Kind != wire.KindHello || first.Hello == nil {
		s.logger.Warn("peer: first frame was not Hello", "kind", first.Kind)
		return
	}

	actorCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	actor := NewActor(identity, *first.Hello, s.managerOut, s.logger)

	s.mu.Lock()
	s.peers[identity] = &peerHandle{actor: actor, cancel: cancel}
	s.managerIn[identity] = actor.ManagerIn
	s.mu.Unlock()

	if s.workers != nil {
		if _, err := s.workers.Upsert(ctx, first.Hello.Identifier); err != nil {
			s.logger.Error("peer: upserting worker", "error", err)
		}
	}
	if s.events != nil {
		s.events.PeerConnected(string(identity), first.Hello.Identifier, first.Hello.SimultaneousJobs)
	}

	if err := wire.WriteMessage(conn, wire.NewHelloAck()); err != nil {
		s.logger.Warn("peer: writing HelloAck", "error", err)
		s.removePeer(identity)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		actor.Run(actorCtx)
		// Unblock readLoop so an actor that stopped on its own (peer
		// timeout) still has its connection reaped below.
		_ = conn.SetReadDeadline(time.Now())
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(actorCtx, conn, actor.SocketOut)
	}()

	s.readLoop(actorCtx, r, actor, identity)
	cancel()
	wg.Wait()
	s.removePeer(identity)
}

func (s *Server) readLoop(ctx context.Context, r *bufio.Reader, actor *Actor, identity Identity) {
	for {
		msg, err := wire.ReadMessage(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("peer: read error", "error", err)
			}
			return
		}
		if msg.Kind == wire.KindBye {
			return
		}
		select {
		case actor.SocketIn <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, w io.Writer, out <-chan wire.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				return
			}
			if err := wire.WriteMessage(w, msg); err != nil {
				s.logger.Debug("peer: write error", "error", err)
				return
			}
		}
	}
}

func (s *Server) removePeer(identity Identity) {
	s.mu.Lock()
	handle, ok := s.peers[identity]
	if ok {
		delete(s.peers, identity)
		delete(s.managerIn, identity)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	handle.cancel()
	close(actorSocketIn(handle.actor))
	if s.events != nil {
		s.events.PeerDisconnected(string(identity))
	}
}

// actorSocketIn returns the actor's SocketIn channel, which removePeer
// closes; removePeer deletes the identity before closing, so the
// channel is closed at most once.
func actorSocketIn(a *Actor) chan wire.Message {
	return a.SocketIn
}
