package cluster

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Role describes the declared role of a channel connection
type Role = string

const (
	// RoleWorker indicates a connection that executes tasks
	//   e.g. /ws?role=worker
	RoleWorker Role = "worker"
	// RoleObserver indicates a passive listener for progress broadcasts
	//   e.g. /ws?role=observer
	RoleObserver Role = "observer"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// Conn is one live remote endpoint on the message channel. All outbound
// data frames funnel through a single write pump, which keeps frames sent
// to this peer in enqueue order; ping control frames are written directly.
type Conn struct {
	id       string
	role     Role
	isMobile bool
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	alive    atomic.Bool
}

func newConn(ws *websocket.Conn, id string, role Role, isMobile bool) *Conn {
	c := &Conn{
		id:       id,
		role:     role,
		isMobile: isMobile,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
	c.alive.Store(true)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	go c.writePump()
	return c
}

// ID returns the connection's identifier
func (c *Conn) ID() string { return c.id }

// Role returns the role declared at handshake time
func (c *Conn) Role() Role { return c.role }

// Send enqueues a frame for delivery, failing if the connection is closed
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection %s is closed", c.id)
	case c.send <- frame:
		return nil
	}
}

// TrySend enqueues a frame without blocking. A full outbound buffer or a
// closed connection drops the frame; broadcasts are best-effort.
func (c *Conn) TrySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Ping sends a framing-layer ping control frame
func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Alive reports whether a pong arrived since the last liveness tick
func (c *Conn) Alive() bool { return c.alive.Load() }

// markProvisional flags the connection dead until the next pong
func (c *Conn) markProvisional() { c.alive.Store(false) }

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		}
	}
}

// ReadFrame blocks on the socket for the next inbound frame
func (c *Conn) ReadFrame() ([]byte, error) {
	_, frame, err := c.ws.ReadMessage()
	return frame, err
}
