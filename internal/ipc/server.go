package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"guardiand/internal/logging"
)

// Handler serves one decoded request frame and returns the reply.
// Implementations return an error to produce a MsgError reply; the
// connection stays up.
type Handler interface {
	Handle(ctx context.Context, req *Message) (*Message, error)
}

// Server listens on a unix socket and serves request/response frames.
type Server struct {
	path    string
	handler Handler
	log     *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer builds a server bound to the given socket path.
func NewServer(path string, handler Handler) *Server {
	return &Server{
		path:    path,
		handler: handler,
		log:     logging.Default().WithComponent("ipc"),
	}
}

// Start binds the socket (replacing a stale one) and begins accepting.
func (s *Server) Start() error {
	if err := cleanupSocket(s.path); err != nil {
		return fmt.Errorf("cleanup socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.path, err)
	}
	// Control socket is owner-only.
	if err := os.Chmod(s.path, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	s.log.Info("ipc listening", "path", s.path)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("ipc accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		req, err := ReadMessage(conn)
		if err != nil {
			return
		}

		var reply *Message
		if req.Header.Type == MsgPing {
			reply, _ = NewMessage(MsgPong, nil)
		} else {
			reply, err = s.handler.Handle(ctx, req)
			if err != nil {
				reply, _ = NewMessage(MsgError, ErrorPayload{Message: err.Error()})
			}
		}
		if reply == nil {
			reply, _ = NewMessage(MsgError, ErrorPayload{Message: "empty reply"})
		}

		conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if err := reply.Write(conn); err != nil {
			s.log.Debug("ipc write failed", "error", err)
			return
		}
	}
}

// Stop closes the listener, waits for in-flight connections, and
// removes the socket file.
func (s *Server) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	ln := s.listener
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	return cleanupSocket(s.path)
}

// cleanupSocket removes a stale socket file, refusing to delete a path
// that is not a socket.
func cleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}
	return fmt.Errorf("path exists but is not a socket: %s", path)
}
