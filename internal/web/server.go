// Package web provides an HTTP status server for the valve-sleeper daemon.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sweeney/valve-sleeper/internal/status"
)

// wsWriteTimeout bounds a single websocket write.
const wsWriteTimeout = 5 * time.Second

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	upgrader   *websocket.Upgrader
	tracker    *status.Tracker
	wake       func() bool
}

// New creates a Server that reads state from the given tracker. wake requests
// an early wake cycle and reports whether the request was accepted; nil
// disables the /wake endpoint.
func New(addr string, tracker *status.Tracker, wake func() bool) *Server {
	s := &Server{
		tracker: tracker,
		wake:    wake,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/websocket", s.handleWebsocket).Methods(http.MethodGet)
	s.router.HandleFunc("/wake", s.handleWake).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Hijacked websocket connections
// are not tracked by http.Server and end when their subscription closes.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Printf("web: render: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	if s.wake == nil {
		http.Error(w, "wake not available", http.StatusServiceUnavailable)
		return
	}
	if !s.wake() {
		http.Error(w, "wake already pending", http.StatusConflict)
		return
	}
	log.Printf("web: wake requested from %s", r.RemoteAddr)
	w.WriteHeader(http.StatusAccepted)
}

// handleWebsocket sends the current status, then one message per wake cycle
// until the client goes away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		log.Printf("web: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.tracker.Subscribe()
	defer cancel()

	// reads are needed to notice a close from the client
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := s.tracker.Snapshot()
	for {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(status.Build(snap)); err != nil {
			log.Printf("web: websocket %s: %v", conn.RemoteAddr(), err)
			return
		}
		select {
		case <-gone:
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			snap = next
		}
	}
}
