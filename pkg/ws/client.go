package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"ethiogram/pkg/logger"
	"ethiogram/pkg/models"
	"ethiogram/pkg/protocol"
	"ethiogram/pkg/session"
	"ethiogram/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendQueue  = 64
)

// Options tunes the transport.
type Options struct {
	MaxFrameBytes int64
	// Per-connection inbound command rate.
	RPS         float64
	Burst       int
	CheckOrigin func(r *http.Request) bool
}

// Client is one websocket connection. Reads are funneled into the
// coordinator; writes go through a buffered queue drained by WritePump.
type Client struct {
	connID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	coord  *session.Coordinator
	sess   *session.Conn
	lim    *rate.Limiter
	opts   Options
}

// Server upgrades HTTP requests into hub clients.
type Server struct {
	hub      *Hub
	coord    *session.Coordinator
	upgrader websocket.Upgrader
	opts     Options
}

// NewServer builds the websocket endpoint handler.
func NewServer(hub *Hub, coord *session.Coordinator, opts Options) *Server {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 16 * 1024
	}
	if opts.RPS <= 0 {
		opts.RPS = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if opts.CheckOrigin != nil {
		up.CheckOrigin = opts.CheckOrigin
	}
	return &Server{hub: hub, coord: coord, upgrader: up, opts: opts}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	connID := utils.GenConnID()
	c := &Client{
		connID: connID,
		conn:   conn,
		send:   make(chan []byte, sendQueue),
		hub:    s.hub,
		coord:  s.coord,
		sess:   session.NewConn(connID),
		lim:    rate.NewLimiter(rate.Limit(s.opts.RPS), s.opts.Burst),
		opts:   s.opts,
	}
	s.hub.register(c)
	logger.Info("ws_connected", "conn", connID, "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.coord.HandleDisconnect(c.sess)
		c.hub.unregister(c)
		_ = c.conn.Close()
		logger.Info("ws_disconnected", "conn", c.connID)
	}()

	c.conn.SetReadLimit(c.opts.MaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ws_read_error", "conn", c.connID, "error", err)
			}
			return
		}
		if !c.lim.Allow() {
			c.hub.Send(c.connID, protocol.MustEvent(protocol.EvtError, protocol.ErrorEvent{
				Code:   models.ErrorCode(models.ErrRateLimited),
				Reason: "too many commands",
			}))
			continue
		}
		c.coord.HandleCommand(c.sess, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
