package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/identity"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/proximity"
	"github.com/example/ride-dispatch/internal/rooms"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

var (
	errQueueFull  = errors.New("outbound queue full")
	errConnClosed = errors.New("connection closed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// native apps send no Origin and browser clients are served from
	// several hosts; the bearer credential is the only gate
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn is one authenticated websocket session. Every write goes through the
// send queue and the single writePump goroutine.
type conn struct {
	id       string
	ws       *websocket.Conn
	who      identity.Identity
	defaults proximity.Params
	send     chan rooms.Message
	done     chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

func (c *conn) ID() string                  { return c.id }
func (c *conn) Identity() identity.Identity { return c.who }

// Send queues m without blocking. A full queue drops m.
func (c *conn) Send(m rooms.Message) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- m:
		return nil
	default:
		observability.RoomDeliveries.WithLabelValues("dropped").Inc()
		c.logger.Warn("ws_send_dropped", "event", m.Event)
		return errQueueFull
	}
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case m := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(m); err != nil {
				c.logger.Debug("ws_write_failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes what is already queued so replies to the last events are
// not lost on a clean close.
func (c *conn) drain() {
	for {
		select {
		case m := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(m); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw := identity.ExtractCredential(r)
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "error", err)
		return
	}

	who, err := s.authenticate(r, raw)
	if err != nil {
		observability.AuthFailures.Inc()
		s.logger.Info("ws_auth_rejected", "error", err, "remote_addr", remoteIP(r))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"), time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	c := &conn{
		id:       uuid.NewString(),
		ws:       ws,
		who:      who,
		defaults: proximity.ParamsFromQuery(r.URL.Query()),
		send:     make(chan rooms.Message, s.deps.SendQueueSize),
		done:     make(chan struct{}),
	}
	c.logger = s.logger.With("conn_id", c.id, "role", string(who.Role), "user_id", who.UserID)

	s.conns.Add(1)
	defer s.conns.Done()
	observability.ConnectionsOpen.Inc()
	defer observability.ConnectionsOpen.Dec()

	s.deps.Topology.JoinBaseRooms(c, who.Role, who.UserID)
	joined, err := s.deps.Topology.SyncActiveBookingRooms(r.Context(), c, who.Role, who.UserID)
	if err != nil {
		c.logger.Warn("booking_room_sync_failed", "error", err)
	}
	c.logger.Info("ws_connected", "active_bookings", len(joined))

	go c.writePump()
	go func() {
		select {
		case <-s.ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	s.readPump(c)

	c.close()
	left := s.deps.Topology.Registry.LeaveAll(c)
	c.logger.Info("ws_disconnected", "rooms_left", len(left))
}

func (s *Server) authenticate(r *http.Request, raw string) (identity.Identity, error) {
	if raw == "" {
		return identity.Identity{}, errors.New("missing credential")
	}
	return s.deps.Resolver.Resolve(r.Context(), raw)
}

// readPump handles frames one at a time until the peer goes away or the
// connection is closed locally.
func (s *Server) readPump(c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		// unblock ReadMessage once the session is closed locally
		<-c.done
		_ = c.ws.SetReadDeadline(time.Now())
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("ws_read_failed", "error", err)
			}
			return
		}
		s.handleFrame(c, data)
	}
}
