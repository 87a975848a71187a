package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"skill-forge/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// openChannel creates a channel whose first message identifies it to the
// client.
func openChannel(sessionID string) *pushChannel {
	ch := newPushChannel()
	// The queue is empty, so this never blocks.
	ch.Send(protocol.MustMessage(protocol.TypeConnected, protocol.ConnectedPayload{
		SessionID: sessionID,
		ChannelID: ch.ID(),
	}))
	return ch
}

// attach binds ch to the session while writer delivers its queue, then
// tears the session down once the writer stops. Attach may block flushing
// buffered events, so the writer must already be running.
func (s *Server) attach(sessionID string, ch *pushChannel, writer func()) {
	written := make(chan struct{})
	go func() {
		defer close(written)
		defer ch.Close()
		writer()
	}()

	s.sessions.Attach(sessionID, ch)
	<-written
	s.sessions.Detach(sessionID, ch)
}

// handleSSE serves GET /stream?sessionId=.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing required query parameter 'sessionId'")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := openChannel(sessionID)
	log.Debug().Str("sessionId", sessionID).Str("channel", ch.ID()).Msg("SSE client connected")

	s.attach(sessionID, ch, func() {
		s.pumpSSE(r.Context(), w, flusher, ch)
	})

	log.Debug().Str("sessionId", sessionID).Str("channel", ch.ID()).Msg("SSE client disconnected")
}

// pumpSSE writes queued messages as data frames and comments as heartbeats.
func (s *Server) pumpSSE(ctx context.Context, w io.Writer, flusher http.Flusher, ch *pushChannel) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.Done():
			return

		case msg := <-ch.queue:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal stream event")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleWebSocket serves GET /ws?sessionId=. The socket is push-only;
// inbound frames are read only to detect disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing required query parameter 'sessionId'")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsClient{
		conn:      conn,
		ch:        openChannel(sessionID),
		heartbeat: s.cfg.Heartbeat,
	}
	log.Debug().Str("sessionId", sessionID).Str("channel", c.ch.ID()).Msg("WebSocket client connected")

	go c.readPump()
	s.attach(sessionID, c.ch, c.writePump)

	log.Debug().Str("sessionId", sessionID).Str("channel", c.ch.ID()).Msg("WebSocket client disconnected")
}

type wsClient struct {
	conn      *websocket.Conn
	ch        *pushChannel
	heartbeat time.Duration
}

// readPump discards inbound frames and closes the channel when the peer
// goes away or stops answering pings.
func (c *wsClient) readPump() {
	defer c.ch.Close()

	readDeadline := 2*c.heartbeat + writeDeadline
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("channel", c.ch.ID()).Msg("WebSocket read error")
			}
			return
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.heartbeat)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.ch.queue:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-c.ch.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
