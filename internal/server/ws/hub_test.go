package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

func dialHub(t *testing.T, h *Hub, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var status map[string]any
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read hub_status: %v", err)
	}
	if status["type"] != "hub_status" {
		t.Fatalf("first message type = %v, want hub_status", status["type"])
	}

	// Registration follows the status message; wait for it so events
	// published next are not missed.
	deadline := time.Now().Add(2 * time.Second)
	for h.clientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHub_FiltersByTypeAndUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Storage: "memory"})
	go h.Run(ctx)

	conn := dialHub(t, h, "?events=transaction_committed&users=marcus254")

	events := []domain.Event{
		{Type: domain.EventGroupCreated, GroupID: "g1", Usernames: []string{"marcus254"}},
		{Type: domain.EventTransactionCommitted, TransactionID: "t-other", Usernames: []string{"ella77"}},
		{Type: domain.EventTransactionCommitted, TransactionID: "t-mine", Usernames: []string{"sheldon256", "marcus254"}},
	}
	for _, evt := range events {
		if err := h.Publish(ctx, evt); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var got domain.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.TransactionID != "t-mine" {
		t.Errorf("delivered transaction = %q, want t-mine", got.TransactionID)
	}
}

func TestClient_Wants(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		users  []string
		evt    domain.Event
		want   bool
	}{
		{"wildcard", []string{allEvents}, nil, domain.Event{Type: domain.EventGroupDeleted}, true},
		{"type mismatch", []string{"group_created"}, nil, domain.Event{Type: domain.EventGroupDeleted}, false},
		{"user match", []string{allEvents}, []string{"ella77"}, domain.Event{Type: domain.EventMemberAdded, Usernames: []string{"ella77"}}, true},
		{"user mismatch", []string{allEvents}, []string{"ella77"}, domain.Event{Type: domain.EventMemberAdded, Usernames: []string{"marcus254"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &client{events: map[string]bool{}, users: map[string]bool{}}
			c.handleSubscription(subscribeMsg{Action: "subscribe", Events: tt.events, Users: tt.users})
			if got := c.wants(tt.evt); got != tt.want {
				t.Errorf("wants() = %v, want %v", got, tt.want)
			}
		})
	}
}

// memoryStream serves StreamRead from a fixed slice of entries.
type memoryStream struct {
	entries []domain.StreamMessage
}

func (m *memoryStream) Publish(context.Context, string, []byte) error { return nil }

func (m *memoryStream) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (m *memoryStream) StreamAppend(_ context.Context, _ string, payload []byte) error {
	m.entries = append(m.entries, domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", len(m.entries)+1),
		Payload: payload,
	})
	return nil
}

func (m *memoryStream) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := 0
	for i, e := range m.entries {
		if e.ID == lastID {
			start = i + 1
		}
	}
	end := min(start+count, len(m.entries))
	return m.entries[start:end], nil
}

func TestHub_ReplaysStreamSince(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &memoryStream{}
	history := []domain.Event{
		{Type: domain.EventTransactionCommitted, TransactionID: "t-1", Usernames: []string{"marcus254"}},
		{Type: domain.EventTransactionCommitted, TransactionID: "t-2", Usernames: []string{"ella77"}},
		{Type: domain.EventTransactionCommitted, TransactionID: "t-3", Usernames: []string{"marcus254"}},
	}
	for _, evt := range history {
		data, _ := json.Marshal(evt)
		bus.StreamAppend(ctx, "events", data)
	}

	h := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Stream: "events", Storage: "memory"})
	go h.Run(ctx)

	conn := dialHub(t, h, "?users=marcus254&since=1-0")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read replayed event: %v", err)
	}
	if got.TransactionID != "t-3" {
		t.Errorf("replayed transaction = %q, want t-3", got.TransactionID)
	}

	var done struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&done); err != nil {
		t.Fatalf("read replay_done: %v", err)
	}
	if done.Type != "replay_done" || done.Payload["last_id"] != "3-0" || done.Payload["count"] != float64(1) {
		t.Errorf("replay_done = %+v", done)
	}

	// Live delivery resumes after the catch-up.
	live := domain.Event{Type: domain.EventTransactionCommitted, TransactionID: "t-live", Usernames: []string{"marcus254"}}
	if err := h.Publish(ctx, live); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if got.TransactionID != "t-live" {
		t.Errorf("live transaction = %q, want t-live", got.TransactionID)
	}
}

func TestHub_ReplayWithoutStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Storage: "memory"})
	go h.Run(ctx)

	conn := dialHub(t, h, "?since=0")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var done struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&done); err != nil {
		t.Fatalf("read replay_done: %v", err)
	}
	if done.Type != "replay_done" || done.Payload["error"] == nil {
		t.Errorf("replay_done = %+v, want an error payload", done)
	}
}
