package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"

	"signal_bot/internal/engine"
	"signal_bot/internal/state"
)

// Server exposes the liveness endpoint the hosting platform polls. It
// always answers 200 while the process is up, even with the feed down,
// so a feed outage does not get the whole bot restarted.
type Server struct {
	engine    *engine.SignalEngine
	store     *state.Manager
	port      string
	startTime time.Time

	keepAlive time.Duration
	stopChan  chan struct{}
}

func NewServer(eng *engine.SignalEngine, store *state.Manager, port string, keepAlive time.Duration) *Server {
	return &Server{
		engine:    eng,
		store:     store,
		port:      port,
		startTime: time.Now(),
		keepAlive: keepAlive,
		stopChan:  make(chan struct{}),
	}
}

func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/health", s.handleHealth)

	log.Infof("🌐 Health server listening on :%s", s.port)
	go func() {
		if err := http.ListenAndServe(":"+s.port, mux); err != nil {
			log.Errorf("Health server error: %v", err)
		}
	}()

	go s.selfPing()
}

func (s *Server) Stop() {
	close(s.stopChan)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	wins, losses, breakEvens := s.store.Totals()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":              "ok",
		"subscribers":         s.store.SubscriberCount(),
		"websocket_connected": s.engine.FeedConnected(),
		"current_price":       s.engine.CurrentPrice(),
		"active_signal":       s.store.CurrentSignal() != nil,
		"uptime_seconds":      int64(time.Since(s.startTime).Seconds()),
		"memory_alloc_mb":     float64(mem.Alloc) / 1024 / 1024,
		"trades": map[string]int{
			"wins":        wins,
			"losses":      losses,
			"break_evens": breakEvens,
		},
	})
}

// selfPing keeps the host from idling the process out by hitting our
// own health endpoint on an interval.
func (s *Server) selfPing() {
	if s.keepAlive <= 0 {
		return
	}
	url := fmt.Sprintf("http://127.0.0.1:%s/health", s.port)
	client := &http.Client{Timeout: 10 * time.Second}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				log.Warnf("Keep-alive ping failed: %v", err)
				continue
			}
			resp.Body.Close()
		}
	}
}
