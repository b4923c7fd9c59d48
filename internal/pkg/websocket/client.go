package websocket

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development, in production you should restrict this
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Identity is the authenticated user behind a peer connection
type Identity struct {
	UserID string
	Name   string
	Role   models.Role
}

// Client is a middleman between one server-side websocket connection and the hub
type Client struct {
	hub *Hub

	// The WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound frames
	send chan []byte

	identity Identity

	// set once the peer sent CONNECT
	connected bool

	closeOnce sync.Once

	logger zerolog.Logger
}

// Identity returns the authenticated user of the connection
func (c *Client) Identity() Identity { return c.identity }

// SendFrame queues a frame for this peer only. It reports false when the peer is gone
// or its buffer is full.
func (c *Client) SendFrame(f Frame) (ok bool) {
	data, err := f.Encode()
	if err != nil {
		return false
	}
	defer func() {
		// send is closed by the hub once the peer is unregistered
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) leave() {
	c.closeOnce.Do(func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	})
}

// readPump pumps frames from the websocket connection to the hub
func (c *Client) readPump() {
	defer c.leave()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(appData string) error {
		// the session pings; any liveness counts towards our own deadline
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			// Don't log normal close conditions as warnings
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info().Str("userID", c.identity.UserID).Msg("WebSocket closed normally")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Str("userID", c.identity.UserID).Msg("Unexpected WebSocket close")
			} else {
				c.logger.Debug().Err(err).Str("userID", c.identity.UserID).Msg("WebSocket read error")
			}
			return
		}

		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))

		frame, err := DecodeFrame(message)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("userID", c.identity.UserID).
				Str("message", string(message)).
				Msg("Failed to decode client frame")
			c.SendFrame(errorFrame("MALFORMED_FRAME", err.Error()))
			continue
		}

		if !c.handleFrame(frame) {
			return
		}
	}
}

// handleFrame reacts to one peer frame and reports whether the connection stays open
func (c *Client) handleFrame(frame Frame) bool {
	if !c.connected && frame.Command != CommandConnect {
		c.SendFrame(errorFrame("NOT_CONNECTED", "CONNECT expected"))
		return false
	}

	switch frame.Command {
	case CommandConnect:
		c.connected = true
		reply, _ := NewFrame(CommandConnected, "", map[string]string{"userId": c.identity.UserID})
		c.SendFrame(reply)

	case CommandSubscribe:
		if _, ok := models.ChannelFromTopic(frame.Destination); !ok || frame.Subscription == "" {
			c.SendFrame(errorFrame("INVALID_TOPIC", "cannot subscribe to "+frame.Destination))
			return true
		}
		c.hubRequest(c.hub.subscribe, subscriptionRequest{client: c, topic: frame.Destination, id: frame.Subscription})

	case CommandUnsubscribe:
		c.hubRequest(c.hub.unsubscribe, subscriptionRequest{client: c, id: frame.Subscription})

	case CommandSend:
		in := &Inbound{
			Client:      c,
			Sender:      c.identity,
			Destination: frame.Destination,
			Body:        frame.Body,
		}
		select {
		case c.hub.inbound <- in:
		case <-c.hub.done:
			return false
		}

	case CommandDisconnect:
		return false

	default:
		c.SendFrame(errorFrame("UNSUPPORTED_COMMAND", frame.Command+" is not accepted from clients"))
	}
	return true
}

func (c *Client) hubRequest(ch chan subscriptionRequest, req subscriptionRequest) {
	select {
	case ch <- req:
	case <-c.hub.done:
	}
}

// writePump pumps frames from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued frames to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
