package peer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trahl-dev/trahl/internal/catalog/models"
	"github.com/trahl-dev/trahl/internal/events"
	"github.com/trahl-dev/trahl/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUpserter struct {
	identifiers []string
}

func (f *fakeUpserter) Upsert(_ context.Context, identifier string) (*models.Worker, error) {
	f.identifiers = append(f.identifiers, identifier)
	return &models.Worker{Identifier: identifier}, nil
}

func TestServerClientHandshakeAndRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	connected := bus.Subscribe(ctx)
	defer connected.Close()

	upserter := &fakeUpserter{}
	srv, err := NewServer("127.0.0.1:0", bus, upserter, discardLogger())
	require.NoError(t, err)
	go srv.Serve(ctx)

	client, err := Connect(ctx, srv.Addr().String(), wire.WorkerInfo{Identifier: "worker-1", SimultaneousJobs: 2}, discardLogger())
	require.NoError(t, err)
	defer client.Close()

	select {
	case ev := <-connected.Events:
		assert.Equal(t, events.KindPeerConnected, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PeerConnected event")
	}

	// The actor's keepalive ticker pings the client, which auto-replies
	// Pong; that reply is what first reaches the manager's inbound queue.
	var frame Frame
	select {
	case frame = <-srv.ManagerOut():
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for frame at manager")
	}
	require.Equal(t, wire.KindPong, frame.Message.Kind)

	ok := srv.Send(frame.Identity, wire.NewCancelJobs())
	require.True(t, ok)

	select {
	case msg := <-client.Inbound:
		assert.Equal(t, wire.KindCancelJobs, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message at client")
	}

	assert.Equal(t, []string{"worker-1"}, upserter.identifiers)
}

func TestActorTimesOutAndEmitsBye(t *testing.T) {
	out := make(chan Frame, 8)
	a := NewActor(Identity("peer-x"), wire.WorkerInfo{Identifier: "w"}, out, discardLogger())
	a.lastSeen = time.Now().Add(-peerTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	select {
	case msg := <-a.SocketOut:
		assert.Equal(t, wire.KindBye, msg.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Bye")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("actor did not terminate after timeout")
	}
}
