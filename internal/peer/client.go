package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/trahl-dev/trahl/internal/wire"
)

// Client is the worker-side dealer: a single outbound connection to the
// master. It sends Hello on connect, replies to Ping with Pong, and
// forwards everything else between the socket and the worker
// supervisor. It never reconnects or backs off on its own; a supervisor
// that wants resilience dials a new Client.
type Client struct {
	conn   net.Conn
	logger *slog.Logger

	// Inbound delivers messages received from the master, other than
	// Ping (handled here) and HelloAck (consumed during Connect).
	Inbound chan wire.Message
	// Outbound is sent to the master verbatim; the worker supervisor
	// writes JobStatus updates here.
	Outbound chan wire.Message
}

// Connect dials addr, sends Hello, and waits for HelloAck.
func Connect(ctx context.Context, addr string, info wire.WorkerInfo, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: dialing %s: %w", addr, err)
	}

	if err := wire.WriteMessage(conn, wire.NewHello(info)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer: sending hello: %w", err)
	}

	r := bufio.NewReader(conn)
	ack, err := wire.ReadMessage(r)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("peer: reading hello ack: %w", err)
	}
	if ack.Kind != wire.KindHelloAck {
		conn.Close()
		return nil, fmt.Errorf("peer: expected HelloAck, got %s", ack.Kind)
	}

	c := &Client{
		conn:     conn,
		logger:   logger.With("worker", info.Identifier),
		Inbound:  make(chan wire.Message, channelCapacity),
		Outbound: make(chan wire.Message, channelCapacity),
	}
	go c.readLoop(r)
	go c.writeLoop(ctx)
	return c, nil
}

func (c *Client) readLoop(r *bufio.Reader) {
	defer close(c.Inbound)
	for {
		msg, err := wire.ReadMessage(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("peer: read error", "error", err)
			}
			return
		}
		switch msg.Kind {
		case wire.KindPing:
			select {
			case c.Outbound <- wire.NewPong():
			default:
			}
		case wire.KindBye:
			return
		default:
			c.Inbound <- msg
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.sendBye()
			return
		case msg, ok := <-c.Outbound:
			if !ok {
				c.sendBye()
				return
			}
			if err := wire.WriteMessage(c.conn, msg); err != nil {
				c.logger.Debug("peer: write error", "error", err)
				return
			}
		}
	}
}

func (c *Client) sendBye() {
	_ = wire.WriteMessage(c.conn, wire.NewBye())
}

// Close terminates the connection after sending Bye.
func (c *Client) Close() error {
	c.sendBye()
	return c.conn.Close()
}
