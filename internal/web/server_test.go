package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signal_bot/config"
	"signal_bot/internal/deriv"
	"signal_bot/internal/engine"
	"signal_bot/internal/state"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := state.NewManager(t.TempDir())
	store.AddSubscriber(1)
	store.AddSubscriber(2)

	cfg := &config.Config{GoldSymbol: "frxXAUUSD", Port: "0"}
	feed := deriv.New("1089", cfg.GoldSymbol)
	eng := engine.NewSignalEngine(feed, store, cfg)

	return NewServer(eng, store, "0", time.Minute)
}

func TestHealthOKWithFeedDown(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.handleHealth(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d, want 200 even with feed disconnected", path, rec.Code)
		}

		var body struct {
			Status             string `json:"status"`
			Subscribers        int    `json:"subscribers"`
			WebsocketConnected bool   `json:"websocket_connected"`
			ActiveSignal       bool   `json:"active_signal"`
			UptimeSeconds      int64  `json:"uptime_seconds"`
			Trades             struct {
				Wins       int `json:"wins"`
				Losses     int `json:"losses"`
				BreakEvens int `json:"break_evens"`
			} `json:"trades"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode body: %v", path, err)
		}
		if body.Status != "ok" {
			t.Errorf("%s: status field %q", path, body.Status)
		}
		if body.Subscribers != 2 {
			t.Errorf("%s: subscribers %d, want 2", path, body.Subscribers)
		}
		if body.WebsocketConnected {
			t.Errorf("%s: websocket_connected true with no connection", path)
		}
		if body.ActiveSignal {
			t.Errorf("%s: active_signal true with no signal", path)
		}
	}
}

func TestHealthContentType(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type %q", ct)
	}
}
