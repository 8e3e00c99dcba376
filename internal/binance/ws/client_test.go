package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func TestClientReplaysSubscriptionsAfterReconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var conns atomic.Int32
	subCh := make(chan Subscription, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		n := conns.Add(1)
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var sub Subscription
		if err := json.Unmarshal(data, &sub); err == nil {
			subCh <- sub
		}
		if n == 1 {
			// drop the first connection to force a reconnect
			_ = conn.Close(websocket.StatusGoingAway, "bye")
			return
		}
		<-ctx.Done()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, 0, zap.NewNop())
	if err := client.Subscribe(ctx, Subscribe(1, "btcusdt@kline_1m")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, nil)
	}()

	for i := 0; i < 2; i++ {
		select {
		case sub := <-subCh:
			if sub.Method != "SUBSCRIBE" || len(sub.Params) != 1 || sub.Params[0] != "btcusdt@kline_1m" {
				t.Fatalf("unexpected subscription %+v", sub)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for subscription %d", i+1)
		}
	}
	if conns.Load() < 2 {
		t.Fatalf("expected a reconnect, got %d connections", conns.Load())
	}
}

func TestClientDeliversMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"e":"kline"}`))
		<-ctx.Done()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, 50*time.Millisecond, zap.NewNop())
	msgCh := make(chan json.RawMessage, 1)
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, func(msg json.RawMessage) {
			select {
			case msgCh <- msg:
			default:
			}
		})
	}()

	select {
	case msg := <-msgCh:
		if string(msg) != `{"e":"kline"}` {
			t.Fatalf("unexpected message %s", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}
