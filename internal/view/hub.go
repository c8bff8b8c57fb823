package view

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/benmeehan/ride-relay/internal/relay"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxActionBytes = 512
	sendBuffer     = 8
)

// Client actions.
const (
	ActionExit  = "exit"
	ActionRetry = "retry"
)

// Controller is the tracking lifecycle as seen by map clients.
type Controller interface {
	View() relay.View
	Exit()
	RetrySensor() error
}

// ClientAction is a message a map client may send.
type ClientAction struct {
	Action string `json:"action"`
}

// Hub streams frames to connected map clients over WebSocket.
type Hub struct {
	ctrl     Controller
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Frame
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// NewHub creates a hub serving frames of ctrl.
func NewHub(ctrl Controller, logger zerolog.Logger) *Hub {
	return &Hub{
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Handler serves GET /ws and GET /frame. Other methods get 405.
func (h *Hub) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/ws", h.handleWS)
	e.GET("/frame", h.handleFrame)
	return e
}

// Publish renders v and queues it for every client. Slow clients skip frames.
// It is registered as a tracker observer.
func (h *Hub) Publish(v relay.View) {
	frame := BuildFrame(v)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("Map client is slow, skipping frame")
		}
	}
}

// Clients returns the number of connected map clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay stopping"),
			time.Now().Add(writeWait))
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) handleFrame(c echo.Context) error {
	return c.JSON(http.StatusOK, BuildFrame(h.ctrl.View()))
}

func (h *Hub) handleWS(ec echo.Context) error {
	conn, err := h.upgrader.Upgrade(ec.Response(), ec.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return nil
	}

	c := &client{conn: conn, send: make(chan Frame, sendBuffer)}
	// The current frame goes out first so the map is never blank.
	c.send <- BuildFrame(h.ctrl.View())

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Map client connected")

	go h.writeLoop(c)
	h.readLoop(c)
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.logger.Info().Str("remote", c.conn.RemoteAddr().String()).Msg("Map client disconnected")
	}()

	c.conn.SetReadLimit(maxActionBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("Map client connection error")
			}
			return
		}
		h.handleAction(msg)
	}
}

func (h *Hub) handleAction(msg []byte) {
	var action ClientAction
	if err := json.Unmarshal(msg, &action); err != nil {
		h.logger.Debug().Err(err).Msg("Ignoring malformed client action")
		return
	}

	switch action.Action {
	case ActionExit:
		h.logger.Info().Msg("Exit requested by map client")
		h.ctrl.Exit()
	case ActionRetry:
		if err := h.ctrl.RetrySensor(); err != nil {
			h.logger.Warn().Err(err).Msg("Sensor retry failed")
		}
	default:
		h.logger.Debug().Str("action", action.Action).Msg("Ignoring unknown client action")
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				h.logger.Debug().Err(err).Msg("Failed to write frame to map client")
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
