package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kkhouse/wecopilot/pkg/bus"
	"github.com/kkhouse/wecopilot/pkg/convstore"
	"github.com/kkhouse/wecopilot/pkg/logger"
)

// Hub tracks one WebSocket connection per agent and pushes suggestion
// results to it. An agent with no live connection keeps its results in the
// mailbox until they expire or something pulls them.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*agentConn

	store     convstore.Store
	bus       *bus.MessageBus
	resultTTL time.Duration
	upgrader  websocket.Upgrader
}

type agentConn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes
}

func (ac *agentConn) writeText(payload []byte) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.ws.WriteMessage(websocket.TextMessage, payload)
}

func NewHub(store convstore.Store, mb *bus.MessageBus, resultTTL time.Duration) *Hub {
	return &Hub{
		conns:     make(map[string]*agentConn),
		store:     store,
		bus:       mb,
		resultTTL: resultTTL,
		upgrader: websocket.Upgrader{
			// Agent frontends are served from their own origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades GET /ws/:agent_id and services the connection until the
// client goes away. A new connection for the same agent replaces the old one.
func (h *Hub) Handle(c *gin.Context) {
	agentID := c.Param("agent_id")
	if agentID == "" {
		c.String(http.StatusBadRequest, "missing agent id")
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WarnCF("gateway", "WebSocket upgrade failed",
			map[string]interface{}{"agent_id": agentID, "error": err.Error()})
		return
	}

	conn := &agentConn{ws: ws}
	h.register(agentID, conn)
	logger.InfoCF("gateway", "WebSocket connected",
		map[string]interface{}{"agent_id": agentID})

	defer func() {
		h.unregister(agentID, conn)
		ws.Close()
		logger.InfoCF("gateway", "WebSocket disconnected",
			map[string]interface{}{"agent_id": agentID})
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		h.handleClientMessage(agentID, conn, data)
	}
}

func (h *Hub) handleClientMessage(agentID string, conn *agentConn, data []byte) {
	if string(data) == "ping" {
		if err := conn.writeText([]byte("pong")); err != nil {
			logger.WarnCF("gateway", "Heartbeat reply failed",
				map[string]interface{}{"agent_id": agentID, "error": err.Error()})
		}
		return
	}

	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.WarnCF("gateway", "Invalid JSON from agent",
			map[string]interface{}{"agent_id": agentID, "data": string(data)})
		return
	}
	if msg.Type == "feedback" {
		logger.InfoCF("gateway", "Received agent feedback",
			map[string]interface{}{"agent_id": agentID, "payload": string(data)})
	}
}

func (h *Hub) register(agentID string, conn *agentConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[agentID]; ok {
		old.ws.Close()
	}
	h.conns[agentID] = conn
}

func (h *Hub) unregister(agentID string, conn *agentConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[agentID] == conn {
		delete(h.conns, agentID)
	}
}

func (h *Hub) lookup(agentID string) (*agentConn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[agentID]
	return conn, ok
}

// Connected reports whether an agent has a live connection.
func (h *Hub) Connected(agentID string) bool {
	_, ok := h.lookup(agentID)
	return ok
}

// Run consumes result notices until ctx is cancelled. Presence is checked
// before the mailbox take so an offline agent's result stays claimable.
func (h *Hub) Run(ctx context.Context) {
	for {
		notice, ok := h.bus.ConsumeNotice(ctx)
		if !ok {
			return
		}

		conn, online := h.lookup(notice.AgentID)
		if !online {
			logger.DebugCF("gateway", "Agent offline, result left in mailbox",
				map[string]interface{}{"agent_id": notice.AgentID, "mailbox_key": notice.MailboxKey})
			continue
		}

		payload, present, err := h.store.TakeResult(ctx, notice.MailboxKey)
		if err != nil {
			logger.ErrorCF("gateway", "Mailbox take failed",
				map[string]interface{}{"mailbox_key": notice.MailboxKey, "error": err.Error()})
			continue
		}
		if !present {
			continue
		}

		if err := conn.writeText(payload); err != nil {
			logger.WarnCF("gateway", "Push to agent failed, returning result to mailbox",
				map[string]interface{}{"agent_id": notice.AgentID, "error": err.Error()})
			// The take already removed the slot; put the result back so it
			// stays claimable for the TTL window.
			if perr := h.store.PublishResult(ctx, notice.MailboxKey, payload, h.resultTTL); perr != nil {
				logger.ErrorCF("gateway", "Failed to return result to mailbox",
					map[string]interface{}{"mailbox_key": notice.MailboxKey, "error": perr.Error()})
			}
			continue
		}
		logger.DebugCF("gateway", "Result pushed to agent",
			map[string]interface{}{"agent_id": notice.AgentID, "mailbox_key": notice.MailboxKey})
	}
}
