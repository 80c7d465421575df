package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ErrSlowConsumer is the close reason for a connection whose send buffer
// overflowed because its reader stopped draining.
var ErrSlowConsumer = errors.New("transport: send buffer overflow")

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	ReadTimeout time.Duration
}

// Connection represents a single, thread-safe WebSocket connection. The
// send channel is buffered and drained by a single writer goroutine, so
// messages enqueued by one producer are delivered in enqueue order.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    logger.With(slog.String("connID", id.String())),
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, 256), // Buffered channel
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	c.wg.Add(1)
	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		message, err := c.readOne()
		if err != nil {
			readErr = err
			return
		}
		if message == nil {
			// non-data frame, keep reading
			continue
		}
		// Pass a connection-scoped context to the handler.
		c.onMessage(c.ctx, c.id, message)
	}
}

func (c *Connection) readOne() ([]byte, error) {
	readCtx := c.ctx
	if c.config.ReadTimeout > 0 {
		var cancelRead context.CancelFunc
		readCtx, cancelRead = context.WithTimeout(c.ctx, c.config.ReadTimeout)
		defer cancelRead()
	}
	typ, r, err := c.conn.Reader(readCtx)
	if err != nil {
		return nil, err
	}
	// Ensure we are only handling text or binary messages.
	if typ != websocket.MessageText && typ != websocket.MessageBinary {
		return nil, nil
	}
	return io.ReadAll(r)
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "request cancelled")
			return
		}
	}
}

// Send enqueues a message to the client without ever blocking the
// caller. A full buffer means the reader stopped draining; the
// connection is dropped rather than letting it stall producers. Safe for
// concurrent use.
func (c *Connection) Send(message []byte) {
	select {
	case <-c.ctx.Done():
		c.logger.Warn("Attempted to send on a closed connection")
		return
	default:
	}
	select {
	case c.send <- message:
	default:
		c.logger.Warn("Send buffer full, dropping slow connection")
		go c.Close(ErrSlowConsumer)
	}
}

// Close gracefully shuts down the connection and its resources.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		// The send channel is never closed: Send may race Close, and a
		// send on a closed channel would panic. The context cancel stops
		// the write pump instead.
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
