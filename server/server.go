package server

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"pollchat/auth"
	"pollchat/chat"
	"pollchat/protocol"
)

type Server struct {
	auth   *auth.Store
	chats  *chat.Registry
	config *Config

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodySize  int
}

// Connection phases. Only connect is served before authentication; close
// ends the connection.
type connPhase int

const (
	phaseUnauthenticated connPhase = iota
	phaseAuthenticated
	phaseClosed
)

// connState is per-connection only. Requests on different connections are
// handled concurrently; requests on one connection are strictly sequential.
type connState struct {
	phase connPhase
	login string
}

func New(authStore *auth.Store, registry *chat.Registry, config *Config) *Server {
	return &Server{
		auth:   authStore,
		chats:  registry,
		config: config,
		conns:  make(map[net.Conn]struct{}),
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Printf("pollchat server listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("Error accepting connection: %v", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// handleConnection serves requests off one connection until the client
// closes, sends close, goes idle past the read timeout, or breaks framing.
func (s *Server) handleConnection(conn net.Conn) {
	s.trackConn(conn)
	defer func() {
		s.untrackConn(conn)
		conn.Close()
	}()

	remoteAddr := conn.RemoteAddr().String()
	log.Printf("New client connected from %s", remoteAddr)

	state := &connState{}
	reader := bufio.NewReader(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		req, err := protocol.ParseRequest(reader, s.config.MaxBodySize)
		if err != nil {
			if err == io.EOF {
				break
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				log.Printf("Client %s idle, closing", remoteAddr)
				break
			}
			if errors.Is(err, protocol.ErrMalformedRequest) {
				// Framing recovered at the next line boundary; the
				// connection stays usable.
				s.writeResponse(conn, errorResponse(400, "malformed_request", "Invalid request"))
				continue
			}
			if errors.Is(err, protocol.ErrBodyTooLarge) {
				// The oversized body was not consumed; the stream position
				// is lost, so respond and drop the connection.
				s.writeResponse(conn, errorResponse(400, "body_too_large", "Request body too large"))
				break
			}
			if errors.Is(err, protocol.ErrTruncatedBody) {
				log.Printf("Client %s disconnected mid-request", remoteAddr)
				break
			}
			log.Printf("Error reading from %s: %v", remoteAddr, err)
			break
		}

		log.Printf("%s %s from %s", req.Method, req.Path, remoteAddr)

		resp := s.dispatch(state, req)
		s.writeResponse(conn, resp)

		if state.phase == phaseClosed {
			break
		}
	}

	if state.login != "" {
		log.Printf("Client %s disconnected from %s", state.login, remoteAddr)
	} else {
		log.Printf("Client disconnected from %s", remoteAddr)
	}
}

func (s *Server) writeResponse(conn net.Conn, resp *protocol.Response) {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := protocol.WriteResponse(conn, resp); err != nil {
		log.Printf("Error writing to connection: %v", err)
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Shutdown stops accepting and closes all live connections.
func (s *Server) Shutdown() {
	s.mu.Lock()
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
}

// GetStats returns server statistics as a formatted string.
func (s *Server) GetStats() string {
	s.mu.Lock()
	active := len(s.conns)
	s.mu.Unlock()

	return "connections=" + strconv.Itoa(active)
}
