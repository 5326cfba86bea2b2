//go:build integration

package events

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_Publish(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	logger := slog.Default()

	client, err := NewClient(natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	// Raw subscriber to observe our own publish.
	nc, err := nats.Connect(natsURL)
	if err != nil {
		t.Fatalf("raw connect: %v", err)
	}
	defer nc.Close()

	received := make(chan map[string]any, 1)
	sub, err := nc.Subscribe("honeypot.test.>", func(msg *nats.Msg) {
		var body map[string]any
		json.Unmarshal(msg.Data, &body)
		received <- body
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	if err := client.Publish("honeypot.test.ping", map[string]any{"session_id": "sess-1"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg["session_id"] != "sess-1" {
			t.Errorf("expected session id, got %v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
