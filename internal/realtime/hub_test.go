package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/riskgate/internal/alerts"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func alertEvent(kind alerts.EventKind, acct string, typ alerts.Type, sev alerts.Severity) *Event {
	return &Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Alert:     &alerts.Alert{ID: "alert_1", AccountID: acct, Type: typ, Severity: sev},
	}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_EmptySubscriptionGetsEverything(t *testing.T) {
	h := testHub()
	client := &Client{}

	if !h.shouldSend(client, alertEvent(alerts.EventCreated, "a", alerts.TypeLimitBreach, alerts.SeverityInfo)) {
		t.Error("Empty subscription should receive all events")
	}
	if !h.shouldSend(client, &Event{Kind: alerts.EventResolved}) {
		t.Error("Empty subscription should receive events without an alert body")
	}
}

func TestShouldSend_KindFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{Kinds: []alerts.EventKind{alerts.EventCreated, alerts.EventEscalated}}}

	if !h.shouldSend(client, alertEvent(alerts.EventEscalated, "a", alerts.TypeSecurityAlert, alerts.SeverityHigh)) {
		t.Error("Should receive escalations")
	}
	if h.shouldSend(client, alertEvent(alerts.EventResolved, "a", alerts.TypeSecurityAlert, alerts.SeverityHigh)) {
		t.Error("Should NOT receive resolutions")
	}
}

func TestShouldSend_AccountAndTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{
		AccountIDs: []string{"acct-1"},
		Types:      []alerts.Type{alerts.TypeComplianceIssue},
	}}

	tests := []struct {
		name string
		ev   *Event
		want bool
	}{
		{"match", alertEvent(alerts.EventCreated, "acct-1", alerts.TypeComplianceIssue, alerts.SeverityCritical), true},
		{"other account", alertEvent(alerts.EventCreated, "acct-2", alerts.TypeComplianceIssue, alerts.SeverityCritical), false},
		{"other type", alertEvent(alerts.EventCreated, "acct-1", alerts.TypeLimitBreach, alerts.SeverityCritical), false},
		{"no alert body", &Event{Kind: alerts.EventCreated}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.shouldSend(client, tt.ev); got != tt.want {
				t.Errorf("shouldSend = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldSend_MinSeverity(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinSeverity: alerts.SeverityHigh}}

	for sev, want := range map[alerts.Severity]bool{
		alerts.SeverityInfo:     false,
		alerts.SeverityWarning:  false,
		alerts.SeverityHigh:     true,
		alerts.SeverityCritical: true,
	} {
		if got := h.shouldSend(client, alertEvent(alerts.EventCreated, "a", alerts.TypeUnusualActivity, sev)); got != want {
			t.Errorf("severity %s: got %v, want %v", sev, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats.ConnectedClients != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats.ConnectedClients)
	}
	if stats.TotalEvents != 0 {
		t.Errorf("Expected 0 total events, got %v", stats.TotalEvents)
	}
}

func TestHub_NotifyCountsEvents(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	err := h.Notify(ctx, alerts.Event{Kind: alerts.EventCreated, Alert: &alerts.Alert{ID: "a1"}, At: time.Now()})
	if err != nil {
		t.Fatalf("Notify returned %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if n := h.Stats().TotalEvents; n != 1 {
		t.Errorf("Expected 1 total event, got %v", n)
	}
	if h.Name() != "websocket" {
		t.Errorf("Unexpected notifier name %q", h.Name())
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{hub: h, send: make(chan []byte, 256)}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats.ConnectedClients != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats.ConnectedClients)
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats.ConnectedClients != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats.ConnectedClients)
	}
	// Peak should still be 1
	if stats.PeakClients != 1 {
		t.Errorf("Expected peak still 1, got %v", stats.PeakClients)
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{MinSeverity: alerts.SeverityCritical},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(alertEvent(alerts.EventCreated, "a", alerts.TypeLimitBreach, alerts.SeverityInfo))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive info alerts")
	default:
	}

	h.Broadcast(alertEvent(alerts.EventCreated, "a", alerts.TypeComplianceIssue, alerts.SeverityCritical))

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if ev.Alert == nil || ev.Alert.Type != alerts.TypeComplianceIssue {
			t.Errorf("Unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("Client should receive critical alert")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketStream(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(Subscription{AccountIDs: []string{"acct-9"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Stats().ConnectedClients == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(alertEvent(alerts.EventCreated, "acct-1", alerts.TypeLimitBreach, alerts.SeverityInfo))
	h.Broadcast(alertEvent(alerts.EventCreated, "acct-9", alerts.TypeSecurityAlert, alerts.SeverityCritical))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Alert.AccountID != "acct-9" {
		t.Errorf("Expected only acct-9 events, got %s", ev.Alert.AccountID)
	}
}

func TestHub_ReplaysBacklogToNewClient(t *testing.T) {
	h := NewHub(slog.Default(), WithBacklog(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	for _, acct := range []string{"a1", "a2", "a3"} {
		h.Broadcast(alertEvent(alerts.EventCreated, acct, alerts.TypeLimitBreach, alerts.SeverityInfo))
	}
	deadline := time.Now().Add(time.Second)
	for h.Stats().TotalEvents < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	client := &Client{hub: h, send: make(chan []byte, 8)}
	h.register <- client

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-client.send:
			var ev Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			got = append(got, ev.Alert.AccountID)
		case <-time.After(time.Second):
			t.Fatalf("expected replayed event %d", i)
		}
	}
	if got[0] != "a2" || got[1] != "a3" {
		t.Errorf("Expected the two newest events oldest first, got %v", got)
	}
}

func TestHub_CheckOrigin(t *testing.T) {
	h := NewHub(slog.Default(), WithAllowedOrigins([]string{"https://desk.example.com"}))

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://risk.internal", true},
		{"https://desk.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://risk.internal/v1/admin/alerts/stream", nil)
		r.Host = "risk.internal"
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}
