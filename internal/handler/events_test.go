package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"veltrix/internal/events"
)

func TestEventStreamDeliversOwnEvents(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?access_token=" + token(t, "alice")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// The subscription is registered after the upgrade completes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		env.create(t, "bob")
		env.create(t, "alice")
		_, raw, err := readWithin(ctx, conn, 200*time.Millisecond)
		if err == nil {
			var evt events.Event
			if err := json.Unmarshal(raw, &evt); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if evt.UserID != "alice" || evt.Type != events.StrategyCreated {
				t.Fatalf("evt=%+v", evt)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no event delivered: %v", err)
		}
	}
}

func readWithin(ctx context.Context, conn *websocket.Conn, d time.Duration) (websocket.MessageType, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return conn.Read(ctx)
}

func TestEventStreamRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/events", nil)
	if err == nil {
		t.Fatalf("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp=%v want 401", resp)
	}
}
