package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://desk.example.com/")

		if c.baseURL != "http://desk.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "http://desk.example.com")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with multiple options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("http://desk.example.com",
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 10)
		}
		if c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 500*time.Millisecond)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("http://desk.example.com", WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("http://desk.example.com", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "Not Found"}
		expected := "desk api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{503, true},
			{429, true},
			{400, false},
			{404, false},
			{422, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})

	t.Run("Detail", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			want string
		}{
			{"string detail", `{"detail":"Unknown index FOO"}`, "Unknown index FOO"},
			{"nested message", `{"detail":{"message":"cash ref required"}}`, "cash ref required"},
			{"validation list", `{"detail":[{"loc":["body","message"],"msg":"field required"},{"msg":"too short"}]}`, "field required; too short"},
			{"top level message", `{"message":"slack unavailable"}`, "slack unavailable"},
			{"no detail", `{"status":"bad"}`, ""},
			{"empty detail falls through", `{"detail":"","error":"boom"}`, "boom"},
			{"not json", `Internal Server Error`, ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := &APIError{StatusCode: 400, Body: []byte(tt.body)}
				if got := err.Detail(); got != tt.want {
					t.Errorf("Detail() = %q, want %q", got, tt.want)
				}
			})
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("Content-Type") != "" {
				t.Errorf("Content-Type = %q, want empty for GET", r.Header.Get("Content-Type"))
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("request with body and headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			if r.Header.Get("X-Test") != "yes" {
				t.Errorf("X-Test = %q, want yes", r.Header.Get("X-Test"))
			}
			data, _ := io.ReadAll(r.Body)
			if string(data) != `{"a":1}` {
				t.Errorf("body = %q, want %q", data, `{"a":1}`)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		header := http.Header{}
		header.Set("X-Test", "yes")
		if _, err := c.doRequest(context.Background(), http.MethodPost, "/test", nil, []byte(`{"a":1}`), header); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail": "not found"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if apiErr.Detail() != "not found" {
			t.Errorf("Detail() = %q, want %q", apiErr.Detail(), "not found")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil, nil, nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error should contain 'context canceled', got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q, want %q", string(body), `{"ok": true}`)
		}
		if got := atomic.LoadInt32(&attempts); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if got := atomic.LoadInt32(&attempts); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error should contain 'max retries exceeded', got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if got := atomic.LoadInt32(&attempts); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})
}

func TestGetRunSnapshot(t *testing.T) {
	t.Run("bare rows", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != RunSnapshotPath {
				t.Errorf("path = %q, want %q", r.URL.Path, RunSnapshotPath)
			}
			w.Write([]byte(`[{"index_name":"SX5E","bid":9.375,"offer":9.625,"cash_ref":5481},{"index_name":"SX7E"}]`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		snap, err := c.GetRunSnapshot(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(snap.Rows) != 2 || snap.Rows[1].IndexName != "SX7E" {
			t.Errorf("Rows = %+v, want SX5E then SX7E", snap.Rows)
		}
		if snap.HasRecaps {
			t.Error("HasRecaps = true, want false")
		}
	})

	t.Run("bundled recaps", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"run":[{"index_name":"DAX"}],"recaps":[{"index_name":"DAX","price":41,"lots":5,"recap_text":"DAX 41","created_at":"2025-01-01T00:00:00"}]}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		snap, err := c.GetRunSnapshot(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !snap.HasRecaps || len(snap.Recaps) != 1 {
			t.Errorf("Recaps = %+v (HasRecaps %v), want one recap", snap.Recaps, snap.HasRecaps)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.GetRunSnapshot(context.Background()); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

func TestGetDestinations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DestinationsPath {
			t.Errorf("path = %q, want %q", r.URL.Path, DestinationsPath)
		}
		w.Write([]byte(`{"destinations":[{"id":"C01","name":"#efp-desk","type":"channel"},{"id":"U9","name":"Bob","type":"user"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	dests, err := c.GetDestinations(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dests) != 2 {
		t.Fatalf("len(dests) = %d, want 2", len(dests))
	}
	if dests[0].Name != "#efp-desk" || dests[0].ID != "C01" {
		t.Errorf("dests[0] = %+v, want #efp-desk/C01", dests[0])
	}
}

func TestGetBlotterAndOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case BlotterPath:
			w.Write([]byte(`[{"id":1,"side":"SELL","index_name":"FTSE","qty":20,"avg_price":22.5,"created_at":"2025-01-01T08:00:00"}]`))
		case OrdersPath:
			w.Write([]byte(`[{"id":9,"client_provided_id":"abc","symbol":"SX5E","expiry":"MAR25","side":"BUY","quantity":100,"price":9.5,"basis":null,"created_at":"2025-01-01T08:00:00"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)

	trades, err := c.GetBlotter(context.Background())
	if err != nil {
		t.Fatalf("GetBlotter: %v", err)
	}
	if len(trades) != 1 || trades[0].IndexName != "FTSE" {
		t.Errorf("trades = %+v, want one FTSE trade", trades)
	}

	orders, err := c.GetOrders(context.Background())
	if err != nil {
		t.Fatalf("GetOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].ClientProvidedID != "abc" {
		t.Errorf("orders = %+v, want one order abc", orders)
	}
	if orders[0].Basis != nil {
		t.Errorf("Basis = %v, want nil", *orders[0].Basis)
	}
}

func TestChat(t *testing.T) {
	t.Run("sends message session and correlation id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			if r.URL.Path != CommandPath {
				t.Errorf("path = %q, want %q", r.URL.Path, CommandPath)
			}
			if got := r.Header.Get(CorrelationHeader); got != "corr-1" {
				t.Errorf("%s = %q, want corr-1", CorrelationHeader, got)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body["message"] != "send hello to U1" {
				t.Errorf("message = %v, want %q", body["message"], "send hello to U1")
			}
			if body["session_id"] != "S1" {
				t.Errorf("session_id = %v, want S1", body["session_id"])
			}
			w.Write([]byte(`{"reply":"sent","session_id":"S1"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		reply, err := c.Chat(context.Background(), CommandRequest{
			Message:       "send hello to U1",
			SessionID:     "S1",
			CorrelationID: "corr-1",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reply.DisplayText() != "sent" {
			t.Errorf("DisplayText() = %q, want %q", reply.DisplayText(), "sent")
		}
		if reply.SessionID != "S1" {
			t.Errorf("SessionID = %q, want S1", reply.SessionID)
		}
	})

	t.Run("omits empty session id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			if strings.Contains(string(data), "session_id") {
				t.Errorf("body = %s, want no session_id", data)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.Chat(context.Background(), CommandRequest{Message: "hi"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("does not retry", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"detail":"upstream down"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, time.Millisecond))
		_, err := c.Chat(context.Background(), CommandRequest{Message: "hi"})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %v, want *APIError", err)
		}
		if apiErr.Detail() != "upstream down" {
			t.Errorf("Detail() = %q, want %q", apiErr.Detail(), "upstream down")
		}
		if got := atomic.LoadInt32(&attempts); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})

	t.Run("malformed reply", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.Chat(context.Background(), CommandRequest{Message: "hi"})
		if !errors.Is(err, ErrMalformedReply) {
			t.Errorf("error = %v, want ErrMalformedReply", err)
		}
	})
}

func TestCommandReply_DisplayText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail preferred", `{"detail":"Updated SX5E bid","reply":"ok"}`, "Updated SX5E bid"},
		{"reply when no detail", `{"reply":"Message sent"}`, "Message sent"},
		{"empty detail falls through", `{"detail":"","reply":"ok"}`, "ok"},
		{"null detail falls through", `{"detail":null,"reply":"ok"}`, "ok"},
		{"structured detail serialized", `{"detail":{"updated":["SX5E"]}}`, `{"updated":["SX5E"]}`},
		{"raw fallback", `{"results": [1, 2], "session_id": "S1"}`, `{"results":[1,2],"session_id":"S1"}`},
		{"non object", `"done"`, `"done"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := ParseCommandReply([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseCommandReply() error = %v", err)
			}
			if got := reply.DisplayText(); got != tt.want {
				t.Errorf("DisplayText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCommandReply_SessionID(t *testing.T) {
	reply, err := ParseCommandReply([]byte(`{"session_id": 42}`))
	if err != nil {
		t.Fatalf("ParseCommandReply() error = %v", err)
	}
	if reply.SessionID != "" {
		t.Errorf("SessionID = %q, want empty for non-string id", reply.SessionID)
	}

	if _, err := ParseCommandReply(nil); !errors.Is(err, ErrMalformedReply) {
		t.Errorf("ParseCommandReply(nil) error = %v, want ErrMalformedReply", err)
	}
}
