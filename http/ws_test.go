package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"farmcredit/training"
)

func TestHubBroadcastsProgress(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	// Registration goes through the hub loop; give it a beat before publishing.
	time.Sleep(50 * time.Millisecond)

	hub.Publish(training.ProgressEvent{
		RunID:     "run-42",
		Stage:     "training",
		Timestamp: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var event training.ProgressEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if event.RunID != "run-42" || event.Stage != "training" {
		t.Fatalf("unexpected event: %+v", event)
	}
}
