package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kkhouse/wecopilot/pkg/bus"
	"github.com/kkhouse/wecopilot/pkg/config"
	"github.com/kkhouse/wecopilot/pkg/convstore"
	"github.com/kkhouse/wecopilot/pkg/wecrypt"
)

func newTestHub(t *testing.T) (*Hub, *bus.MessageBus, convstore.Store, *httptest.Server) {
	t.Helper()
	crypt, err := wecrypt.NewMsgCrypt(testToken, testAESKey, testCorpID)
	if err != nil {
		t.Fatalf("new crypt: %v", err)
	}
	mb := bus.NewMessageBus(4)
	store := convstore.NewMemoryStore(10, time.Hour)
	hub := NewHub(store, mb, time.Minute)

	web := httptest.NewServer(NewServer(config.DefaultConfig(), crypt, mb, hub).Engine())
	t.Cleanup(web.Close)
	return hub, mb, store, web
}

func TestHubPingPong(t *testing.T) {
	_, _, _, web := newTestHub(t)

	ws := dial(t, web, "agent1")
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "pong" {
		t.Fatalf("reply = %q, want pong", data)
	}
}

func TestHubPushesResultToConnectedAgent(t *testing.T) {
	hub, mb, store, web := newTestHub(t)

	ws := dial(t, web, "agent1")
	defer ws.Close()
	waitConnected(t, hub, "agent1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	key := convstore.Key{AgentID: "agent1", CustomerID: "cust1"}
	mbKey := convstore.ResultKey(key, "m1")
	payload := []byte(`{"session_id":"agent1:cust1","suggestions":["A"]}`)
	if err := store.PublishResult(ctx, mbKey, payload, time.Minute); err != nil {
		t.Fatalf("publish: %v", err)
	}
	mb.PublishNotice(bus.ResultNotice{AgentID: "agent1", CustomerID: "cust1", MailboxKey: mbKey})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if result["session_id"] != "agent1:cust1" {
		t.Fatalf("push = %s", data)
	}

	// Pushed results are consumed from the mailbox.
	if _, ok, _ := store.TakeResult(ctx, mbKey); ok {
		t.Fatal("pushed result should be gone from the mailbox")
	}
}

func TestHubOfflineAgentKeepsResultInMailbox(t *testing.T) {
	mb := bus.NewMessageBus(4)
	store := convstore.NewMemoryStore(10, time.Hour)
	hub := NewHub(store, mb, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	mbKey := convstore.ResultKey(convstore.Key{AgentID: "offline", CustomerID: "c"}, "m1")
	_ = store.PublishResult(ctx, mbKey, []byte(`{}`), time.Minute)
	mb.PublishNotice(bus.ResultNotice{AgentID: "offline", MailboxKey: mbKey})

	time.Sleep(100 * time.Millisecond)
	if _, ok, _ := store.TakeResult(ctx, mbKey); !ok {
		t.Fatal("offline agent's result must stay claimable")
	}
}

func TestHubFailedPushReturnsResultToMailbox(t *testing.T) {
	mb := bus.NewMessageBus(4)
	store := convstore.NewMemoryStore(10, time.Hour)
	hub := NewHub(store, mb, time.Minute)

	// Stand up a raw websocket pair and kill the server side so the push
	// write fails after the agent counts as connected.
	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	web := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- ws
	}))
	t.Cleanup(web.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(web.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	serverConn := <-serverConns
	serverConn.Close()

	hub.register("agent1", &agentConn{ws: serverConn})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	mbKey := convstore.ResultKey(convstore.Key{AgentID: "agent1", CustomerID: "c"}, "m1")
	payload := []byte(`{"session_id":"agent1:c"}`)
	if err := store.PublishResult(ctx, mbKey, payload, time.Minute); err != nil {
		t.Fatalf("publish: %v", err)
	}
	mb.PublishNotice(bus.ResultNotice{AgentID: "agent1", MailboxKey: mbKey})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, ok, _ := store.TakeResult(ctx, mbKey)
		if ok {
			if string(got) != string(payload) {
				t.Fatalf("restored payload = %s", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("result not returned to mailbox after failed push")
}

func TestHubFeedbackFrameAccepted(t *testing.T) {
	_, _, _, web := newTestHub(t)

	ws := dial(t, web, "agent1")
	defer ws.Close()

	frame := []byte(`{"type":"feedback","suggestion_index":1,"helpful":true}`)
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection must survive the feedback frame.
	if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write after feedback: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "pong" {
		t.Fatalf("reply = %q", data)
	}
}

func TestHubReplacesConnectionForSameAgent(t *testing.T) {
	hub, _, _, web := newTestHub(t)

	first := dial(t, web, "agent1")
	defer first.Close()
	waitConnected(t, hub, "agent1")

	second := dial(t, web, "agent1")
	defer second.Close()

	// The replacement stays registered and serviceable.
	if err := second.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := second.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "pong" {
		t.Fatalf("reply = %q", data)
	}
}

func dial(t *testing.T, web *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(web.URL, "http") + "/ws/" + agentID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ws
}

func waitConnected(t *testing.T, hub *Hub, agentID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Connected(agentID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("agent %s never registered", agentID)
}
