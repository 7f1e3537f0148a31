package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"ecobot/internal/event"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

type wsClient struct {
	userID string
	send   chan []byte
}

// Hub fans session events out to the websocket connections of the users they
// are addressed to. Publish never blocks: a client whose buffer is full
// misses the event.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*wsClient]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]struct{}),
		logger:  logger,
	}
}

// Publish implements event.Notifier.
func (h *Hub) Publish(ev event.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	var targets []*wsClient
	for _, user := range ev.Users {
		for c := range h.clients[user] {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping event for slow client",
				slog.String("user", c.userID),
				slog.String("kind", string(ev.Kind)),
			)
		}
	}
}

func (h *Hub) subscribe(userID string) *wsClient {
	c := &wsClient{userID: userID, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*wsClient]struct{})
	}
	h.clients[userID][c] = struct{}{}
	peers := len(h.clients[userID])
	h.mu.Unlock()

	h.logger.Info("ws connected", slog.String("user", userID), slog.Int("connections", peers))
	return c
}

func (h *Hub) unsubscribe(c *wsClient) {
	h.mu.Lock()
	peers := h.clients[c.userID]
	delete(peers, c)
	if len(peers) == 0 {
		delete(h.clients, c.userID)
	}
	remaining := len(peers)
	h.mu.Unlock()

	h.logger.Info("ws disconnected", slog.String("user", c.userID), slog.Int("connections", remaining))
}

// Connections reports how many sockets userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user")
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" && s.matchOrigin(origin) == "" {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: s.allowAllOrigins,
		OriginPatterns:     s.originPatterns(),
	})
	if err != nil {
		s.logger.Error("ws accept", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	client := s.hub.subscribe(userID)
	defer s.hub.unsubscribe(client)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	hello, _ := json.Marshal(map[string]any{"kind": "connected", "users": []string{userID}})
	if err := writeMessage(ctx, conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case payload := <-client.send:
			if err := writeMessage(ctx, conn, payload); err != nil {
				s.logger.Debug("ws write", slog.String("user", userID), slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

// originPatterns turns the configured origins into host patterns for the
// websocket origin check.
func (s *Server) originPatterns() []string {
	patterns := make([]string, 0, len(s.allowedOrigins))
	for _, origin := range s.allowedOrigins {
		if origin == "*" {
			continue
		}
		host := origin
		if i := strings.Index(host, "://"); i >= 0 {
			host = host[i+3:]
		}
		patterns = append(patterns, host)
	}
	return patterns
}
