package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestGetDecodesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ping" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			t.Errorf("missing symbol param: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil, zap.NewNop())
	var out struct {
		OK bool `json:"ok"`
	}
	if err := client.Get(context.Background(), "/api/v3/ping", url.Values{"symbol": {"BTCUSDT"}}, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected decoded body")
	}
}

func TestSignedRequestCarriesSignature(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-MBX-APIKEY"); got != "key" {
			t.Errorf("expected api key header, got %q", got)
		}
		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if idx < 0 {
			t.Errorf("signature missing: %s", raw)
			return
		}
		payload, sig := raw[:idx], raw[idx+len("&signature="):]
		if want := Sign("secret", payload); sig != want {
			t.Errorf("signature mismatch: got %s want %s", sig, want)
		}
		if r.URL.Query().Get("timestamp") != "1700000000000" {
			t.Errorf("unexpected timestamp %s", r.URL.Query().Get("timestamp"))
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil, zap.NewNop()).WithCredentials("key", "secret")
	client.now = func() time.Time { return fixed }
	if err := client.Signed(context.Background(), http.MethodPost, "/api/v3/order", url.Values{"side": {"BUY"}}, nil); err != nil {
		t.Fatalf("signed: %v", err)
	}
}

func TestSignedRequiresCredentials(t *testing.T) {
	client := New("http://127.0.0.1:1", time.Second, nil, zap.NewNop())
	if err := client.Signed(context.Background(), http.MethodGet, "/api/v3/order", nil, nil); err == nil {
		t.Fatalf("expected credential error")
	}
}

func TestSignKnownVector(t *testing.T) {
	// documented Binance example
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	if got := Sign(secret, payload); got != want {
		t.Fatalf("unexpected signature %s", got)
	}
}

func TestAPIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil, zap.NewNop())
	err := client.Get(context.Background(), "/api/v3/klines", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.Code != -1121 || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil, zap.NewNop())
	client.retryWait = time.Millisecond
	var out []any
	if err := client.Get(context.Background(), "/api/v3/klines", nil, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}
