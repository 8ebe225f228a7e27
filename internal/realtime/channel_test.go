package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// testServer is a minimal realtime endpoint: it records subscribe
// messages and lets the test push change envelopes to the client.
type testServer struct {
	srv *httptest.Server

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ts.mu.Lock()
		ts.conn = conn
		ts.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(data, &env) == nil && env.Type == MsgSubscribe {
				ts.mu.Lock()
				ts.subscribed = append(ts.subscribed, env.Table+"/"+env.EntityID)
				ts.mu.Unlock()
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) push(t *testing.T, env Envelope) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ts.mu.Lock()
		conn := ts.conn
		ts.mu.Unlock()
		if conn != nil {
			data, _ := json.Marshal(env)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.Fatalf("push failed: %v", err)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client never connected")
}

func (ts *testServer) subscriptions() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, len(ts.subscribed))
	copy(out, ts.subscribed)
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestSubscribeAndDispatch verifies a change envelope reaches the
// entity's callback with the pushed fields.
func TestSubscribeAndDispatch(t *testing.T) {
	ts := newTestServer(t)
	ch := NewChannel(ts.url(), nil)
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	var mu sync.Mutex
	var got []models.Snapshot
	ref := models.EntityRef{Table: "notes", EntityID: "n1"}
	unsub, err := ch.Subscribe(ref, func(snap models.Snapshot) {
		mu.Lock()
		got = append(got, snap)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsub()

	waitFor(t, func() bool {
		return len(ts.subscriptions()) == 1
	}, "subscribe message never reached server")
	if subs := ts.subscriptions(); subs[0] != "notes/n1" {
		t.Errorf("unexpected subscription %q", subs[0])
	}

	ts.push(t, Envelope{
		Type:     MsgEntityChanged,
		Table:    "notes",
		EntityID: "n1",
		Fields:   map[string]interface{}{"title": "Standup notes"},
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "change never dispatched")

	mu.Lock()
	defer mu.Unlock()
	if got[0].Ref != ref || got[0].Fields["title"] != "Standup notes" {
		t.Errorf("unexpected dispatched snapshot: %+v", got[0])
	}
}

// TestConnectAnnouncesEarlySubscriptions verifies subscriptions
// registered before the first dial are sent once the dial succeeds.
func TestConnectAnnouncesEarlySubscriptions(t *testing.T) {
	ts := newTestServer(t)
	ch := NewChannel(ts.url(), nil)
	defer ch.Close()

	for _, id := range []string{"n1", "n2"} {
		_, err := ch.Subscribe(models.EntityRef{Table: "notes", EntityID: id}, func(models.Snapshot) {})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	waitFor(t, func() bool {
		return len(ts.subscriptions()) == 2
	}, "early subscriptions never announced")
}

// TestDispatchIgnoresOtherEntities verifies changes for entities with
// no subscriber are dropped.
func TestDispatchIgnoresOtherEntities(t *testing.T) {
	ts := newTestServer(t)
	ch := NewChannel(ts.url(), nil)
	defer ch.Close()

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	var mu sync.Mutex
	calls := 0
	_, err := ch.Subscribe(models.EntityRef{Table: "notes", EntityID: "n1"}, func(models.Snapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	ts.push(t, Envelope{Type: MsgEntityChanged, Table: "notes", EntityID: "other"})
	ts.push(t, Envelope{Type: "sync.completed"})
	ts.push(t, Envelope{Type: MsgEntityChanged, Table: "notes", EntityID: "n1",
		Fields: map[string]interface{}{"title": "x"}})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, "subscribed change never arrived")

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("expected exactly 1 dispatch, got %d", calls)
	}
}

// TestConnectionStateCallback verifies connect and disconnect are
// reported.
func TestConnectionStateCallback(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var states []bool
	ch := NewChannel(ts.url(), func(connected bool) {
		mu.Lock()
		states = append(states, connected)
		mu.Unlock()
	})

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 1 && states[0]
	}, "connect never reported")

	ch.Close()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2 && !states[len(states)-1]
	}, "disconnect never reported")
}

// TestSubscribeAfterClose verifies a closed channel rejects new
// subscriptions.
func TestSubscribeAfterClose(t *testing.T) {
	ts := newTestServer(t)
	ch := NewChannel(ts.url(), nil)
	ch.Close()

	if err := ch.Connect(context.Background()); err == nil {
		t.Error("connect on closed channel should fail")
	}
	_, err := ch.Subscribe(models.EntityRef{Table: "notes", EntityID: "n1"}, func(models.Snapshot) {})
	if err == nil {
		t.Error("subscribe on closed channel should fail")
	}
}
