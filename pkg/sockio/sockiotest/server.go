//Package sockiotest provides an in-process socket.io server for tests
package sockiotest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xds-dev/dashboard/pkg/sockio"
)

//Server accepts socket.io websocket sessions and broadcasts events to them
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader
	mux      *http.ServeMux
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	joined   chan struct{}
	//Received collects the frames sent by clients
	Received chan string
}

//NewServer starts a server answering on /socket.io/
func NewServer() *Server {
	s := &Server{
		conns:    make(map[*websocket.Conn]struct{}),
		joined:   make(chan struct{}, 16),
		Received: make(chan string, 64),
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/socket.io/", s.handle)
	s.Server = httptest.NewServer(s.mux)
	return s
}

//HandleFunc serves extra REST routes next to the socket
func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"test","upgrades":[],"pingInterval":25000,"pingTimeout":60000}`))
	conn.WriteMessage(websocket.TextMessage, []byte("40"))

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.joined <- struct{}{}

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "2" {
			s.write(conn, "3")
			continue
		}
		select {
		case s.Received <- string(msg):
		default:
		}
	}
}

func (s *Server) write(conn *websocket.Conn, frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

//WaitClient blocks until a client session is open or the timeout elapses
func (s *Server) WaitClient(timeout time.Duration) bool {
	select {
	case <-s.joined:
		return true
	case <-time.After(timeout):
		return false
	}
}

//Emit broadcasts event with args to every session
func (s *Server) Emit(event string, args ...interface{}) error {
	frame, err := sockio.EncodeEvent("", event, args...)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.WriteMessage(websocket.TextMessage, []byte(frame))
	}
	return nil
}

//Disconnect sends a socket.io disconnect to every session and drops them
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.WriteMessage(websocket.TextMessage, []byte("41"))
		c.Close()
	}
}
