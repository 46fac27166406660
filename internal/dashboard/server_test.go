package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// loopbackAddr resolves the server's listen address to a dialable host.
func loopbackAddr(t *testing.T, s *Server) string {
	t.Helper()

	_, port, err := net.SplitHostPort(s.GetAddr())
	if err != nil {
		t.Fatalf("failed to split server address %q: %v", s.GetAddr(), err)
	}
	return net.JoinHostPort("127.0.0.1", port)
}

func startTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(&Config{
		Port:   0, // OS-assigned port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("failed to stop server: %v", err)
		}
	})

	return s
}

func dialTestServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", loopbackAddr(t, s)), nil)
	if err != nil {
		t.Fatalf("failed to dial server: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, s *Server, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", s.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", loopbackAddr(t, s)))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestBroadcastPass(t *testing.T) {
	s := startTestServer(t)

	conn := dialTestServer(t, s)
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, s, 1)

	s.BroadcastPass(3, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if msg.Type != MessageTypePassComplete {
		t.Errorf("type = %q, want %q", msg.Type, MessageTypePassComplete)
	}
	if msg.Timestamp.IsZero() {
		t.Error("message has no timestamp")
	}

	var pass PassCompleteData
	if err := json.Unmarshal(msg.Data, &pass); err != nil {
		t.Fatalf("failed to decode pass data: %v", err)
	}
	if pass.Synced != 3 || pass.Failed != 1 {
		t.Errorf("pass data = %+v, want {Synced:3 Failed:1}", pass)
	}
}

func TestBroadcastQueueDepth(t *testing.T) {
	s := startTestServer(t)

	conn := dialTestServer(t, s)
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, s, 1)

	s.BroadcastQueueDepth(4, 2, 7)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if msg.Type != MessageTypeQueueDepth {
		t.Errorf("type = %q, want %q", msg.Type, MessageTypeQueueDepth)
	}

	var depth QueueDepthData
	if err := json.Unmarshal(msg.Data, &depth); err != nil {
		t.Fatalf("failed to decode queue data: %v", err)
	}
	if depth.Pending != 4 || depth.DeadLetters != 2 || depth.Unsynced != 7 {
		t.Errorf("queue data = %+v", depth)
	}
}

func TestClientDisconnect(t *testing.T) {
	s := startTestServer(t)

	conn := dialTestServer(t, s)
	waitForClients(t, s, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, s, 0)
}
