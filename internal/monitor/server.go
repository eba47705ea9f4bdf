// ABOUTME: Websocket statistics feed for the intercom
// ABOUTME: Serves health, latest snapshot and a live stream of snapshots over HTTP
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audioc/internal/player"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	clientBacklog = 16
)

// Config holds monitor configuration
type Config struct {
	Addr string
	Info Info
	// OnControl is called from the connection goroutine for each control request
	OnControl func(Control)
}

// Server broadcasts statistics to websocket clients
type Server struct {
	config   Config
	upgrader websocket.Upgrader
	router   chi.Router

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *StatsPayload

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

type client struct {
	conn     *websocket.Conn
	sendChan chan Message
}

// New creates a monitor server
func New(config Config) *Server {
	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			// Monitoring is a LAN tool; accept any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/ws", s.handleWebSocket)
	s.router = r

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("function", "Start").Errorf("Monitor server error: %v", err)
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"addr":     ln.Addr().String(),
	}).Info("Monitor listening")

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Publish records a snapshot and sends it to every connected client.
// Slow clients miss snapshots rather than blocking the caller.
func (s *Server) Publish(st player.Stats) {
	payload := NewStatsPayload(st, time.Now())
	msg := Message{Type: TypeStats, Payload: payload}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = &payload
	for c := range s.clients {
		select {
		case c.sendChan <- msg:
		default:
		}
	}
}

// Stop closes every client and shuts the HTTP server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"instance": s.config.Info.Instance,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithField("function", "handleWebSocket").Debugf("WebSocket upgrade error: %v", err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleWebSocket",
		"remote":   r.RemoteAddr,
	}).Info("Monitor client connected")

	s.handleConnection(conn)
}

// handleConnection registers the client and reads control requests until it leaves
func (s *Server) handleConnection(conn *websocket.Conn) {
	c := &client{
		conn:     conn,
		sendChan: make(chan Message, clientBacklog),
	}
	c.sendChan <- Message{Type: TypeHello, Payload: s.config.Info}

	s.mu.Lock()
	if s.last != nil {
		c.sendChan <- Message{Type: TypeStats, Payload: *s.last}
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c, done)
	}()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		close(done)
		conn.Close()
		logrus.WithField("function", "handleConnection").Info("Monitor client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithField("function", "handleConnection").Debugf("WebSocket error: %v", err)
			}
			return
		}
		s.handleClientMessage(data)
	}
}

// clientWriter sends queued messages and keeps the connection alive
func (s *Server) clientWriter(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		logrus.WithField("function", "handleClientMessage").Debugf("Bad monitor message: %v", err)
		return
	}
	if msg.Type != TypeControl {
		logrus.WithField("function", "handleClientMessage").Debugf("Unknown monitor message type: %s", msg.Type)
		return
	}

	var ctl Control
	if err := json.Unmarshal(msg.Payload, &ctl); err != nil {
		logrus.WithField("function", "handleClientMessage").Debugf("Bad control payload: %v", err)
		return
	}
	if s.config.OnControl != nil {
		s.config.OnControl(ctl)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// logRequests logs each HTTP request at debug level
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logrus.WithFields(logrus.Fields{
				"function": "logRequests",
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Debug("HTTP request")
		}()

		next.ServeHTTP(ww, r)
	})
}
