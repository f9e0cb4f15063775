// Package websocket streams messages received from a CUL stick to
// websocket clients.
package websocket

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	fx "github.com/robotalks/cul.go/pkg/framework"
)

// DefaultPath is where the event stream is served.
const DefaultPath = "/events"

// clientBacklog bounds messages buffered per slow client.
const clientBacklog = 64

// Server broadcasts every message to all connected clients.
type Server struct {
	Addr string

	clients map[*client]struct{}
	lock    sync.RWMutex
}

type client struct {
	conn *websocket.Conn
	msgs chan string
}

// NewServer creates a Server listening on addr when run.
func NewServer(addr string) *Server {
	return &Server{
		Addr:    addr,
		clients: make(map[*client]struct{}),
	}
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "websocket"
}

// Handler returns the websocket handler for the event stream.
func (s *Server) Handler() http.Handler {
	return websocket.Handler(s.serveConn)
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.clients)
}

// HandleMessage implements bridge.Sink. Clients which can't keep up miss
// messages instead of blocking the others.
func (s *Server) HandleMessage(ctx context.Context, msg string) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for c := range s.clients {
		select {
		case c.msgs <- msg:
		default:
			glog.V(2).Infof("websocket client %s too slow, message dropped", c.conn.Request().RemoteAddr)
		}
	}
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, s.Handler())
	srv := &http.Server{Addr: s.Addr, Handler: mux}
	glog.Infof("serving events on ws://%s%s", s.Addr, DefaultPath)
	err := fx.RunWithContextCloser(ctx, srv, srv.ListenAndServe)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) serveConn(conn *websocket.Conn) {
	c := &client{conn: conn, msgs: make(chan string, clientBacklog)}
	s.lock.Lock()
	s.clients[c] = struct{}{}
	s.lock.Unlock()
	defer func() {
		s.lock.Lock()
		delete(s.clients, c)
		s.lock.Unlock()
	}()

	// clients don't send anything, reading only detects the close.
	closed := make(chan struct{})
	go func() {
		io.Copy(io.Discard, conn)
		close(closed)
	}()

	for {
		select {
		case msg := <-c.msgs:
			if err := websocket.Message.Send(conn, msg); err != nil {
				glog.V(2).Infof("websocket send: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
