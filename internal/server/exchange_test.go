package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/maja42/aniscraper/internal/envelope"
)

func TestExchange_PublishRunsHandlersInOrder(t *testing.T) {
	ex := NewExchange(nil)

	var calls []string
	ex.Handle("news", func(req *Request) { calls = append(calls, "first:"+req.Session) })
	ex.Handle("news", func(req *Request) { calls = append(calls, "second:"+req.Session) })
	ex.Handle("sports", func(req *Request) { calls = append(calls, "sports") })

	n := ex.Publish(&Request{Session: "s1", Envelope: envelope.Envelope{MessageType: "news"}})
	if n != 2 {
		t.Errorf("Publish() = %d, want 2", n)
	}

	want := []string{"first:s1", "second:s1"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestExchange_Stats(t *testing.T) {
	ex := NewExchange(nil)
	ex.Handle("known", func(*Request) {})

	tests := []struct {
		messageType string
		want        int
	}{
		{"known", 1},
		{"known", 1},
		{"unknown", 0},
	}

	for _, tt := range tests {
		if got := ex.Publish(&Request{Envelope: envelope.Envelope{MessageType: tt.messageType}}); got != tt.want {
			t.Errorf("Publish(%q) = %d, want %d", tt.messageType, got, tt.want)
		}
	}

	stats := ex.Stats()
	if stats.Received != 3 {
		t.Errorf("Received = %d, want 3", stats.Received)
	}
	if stats.Routed != 2 {
		t.Errorf("Routed = %d, want 2", stats.Routed)
	}
	if stats.Unrouted != 1 {
		t.Errorf("Unrouted = %d, want 1", stats.Unrouted)
	}
	if stats.ByType["known"] != 2 || stats.ByType["unknown"] != 1 {
		t.Errorf("ByType = %v", stats.ByType)
	}

	// The snapshot is a copy.
	stats.ByType["known"] = 100
	if ex.Stats().ByType["known"] != 2 {
		t.Error("Stats() exposed internal map")
	}
}

func TestExchange_LogsRecipients(t *testing.T) {
	var logs bytes.Buffer
	ex := NewExchange(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	ex.Handle("known", func(*Request) {})

	ex.Publish(&Request{
		Session:    "s1",
		Envelope:   envelope.Envelope{MessageType: "known"},
		ReceivedAt: time.Now().Add(-time.Second),
	})
	ex.Publish(&Request{Session: "s1", Envelope: envelope.Envelope{Message: []byte("1")}})

	out := logs.String()
	if !strings.Contains(out, "message handled") || !strings.Contains(out, "elapsed=1") {
		t.Errorf("missing handled log with elapsed time:\n%s", out)
	}
	if !strings.Contains(out, "no recipients for message type") {
		t.Errorf("missing no recipients warning:\n%s", out)
	}
}
