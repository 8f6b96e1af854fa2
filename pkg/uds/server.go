package uds

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/cuemby/engram/pkg/errs"
)

// Handlers dispatches the three known events. Fields left
// nil are treated as no-ops for that event.
type Handlers struct {
	Flush func(sessionID string)
	Recollect func(sessionID, message, messageUUID string)
}

type envelope struct {
	Event string `json:"event"`
	SessionID string `json:"sessionId"`
	Message string `json:"message"`
	MessageUUID string `json:"messageUuid"`
}

// Server is the UDS listener. One per Daemon process.
type Server struct {
	path string
	listener net.Listener
	handlers Handlers
	wg sync.WaitGroup
}

// Listen creates the socket at path, owner-only permissions, removing any
// stale file left behind by a prior process first.
func Listen(path string, handlers Handlers) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errs.New(errs.Configuration, "uds.Listen", err)
	}

	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, errs.New(errs.Configuration, "uds.Listen", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		lis.Close()
		return nil, errs.New(errs.Configuration, "uds.Listen", err)
	}

	s := &Server{path: path, listener: lis, handlers: handlers}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed during shutdown; exit quietly.
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			continue // malformed line: ignore, keep reading
		}
		s.dispatch(env)
	}
}

func (s *Server) dispatch(env envelope) {
	switch env.Event {
	case "flush":
		if s.handlers.Flush != nil {
			s.handlers.Flush(env.SessionID)
		}
	case "recollect":
		if s.handlers.Recollect != nil {
			s.handlers.Recollect(env.SessionID, env.Message, env.MessageUUID)
		}
	case "ping":
		// no-op, used only for liveness
	default:
		// unknown event: silently ignored so older clients and newer daemons stay compatible
	}
}

// Close stops accepting new connections and removes the socket file.
// In-flight connections are allowed to finish reading their current line.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	if rerr := os.Remove(s.path); rerr != nil && !os.IsNotExist(rerr) {
		if err == nil {
			err = rerr
		}
	}
	return err
}
