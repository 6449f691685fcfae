package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/observability"
	"github.com/fxlabs-dev/signalgate/internal/wire"
)

// ErrTerminalOffline is returned when a command targets a terminal with no
// registered connection.
var ErrTerminalOffline = errors.New("terminal not connected")

const writeTimeout = 5 * time.Second

// Registry maps terminal ids to their live connections so the dispatcher
// can push commands back down the same pipe ticks come up.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*terminalConn
}

type terminalConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*terminalConn)}
}

// Send writes one serialized command line to the terminal, best effort.
func (r *Registry) Send(terminalID string, payload []byte) error {
	r.mu.RLock()
	tc, ok := r.conns[terminalID]
	r.mu.RUnlock()
	if !ok {
		return ErrTerminalOffline
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	if err := tc.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if _, err := tc.conn.Write(payload); err != nil {
		return fmt.Errorf("failed to write to terminal %s: %w", terminalID, err)
	}
	return nil
}

// Connected reports whether a terminal currently has a connection.
func (r *Registry) Connected(terminalID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[terminalID]
	return ok
}

func (r *Registry) bind(terminalID string, conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// A reconnecting terminal supersedes its old entry.
	r.conns[terminalID] = &terminalConn{conn: conn}
}

func (r *Registry) unbind(terminalID string, conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tc, ok := r.conns[terminalID]; ok && tc.conn == conn {
		delete(r.conns, terminalID)
	}
}

// Server accepts terminal connections and feeds decoded messages into the
// router inbox. One goroutine per connection; the router stays single-loop.
type Server struct {
	addr     string
	router   *Router
	registry *Registry
	logger   *zap.Logger
	maxFrame int

	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a feed server listening on addr once started.
func NewServer(addr string, router *Router, registry *Registry, logger *zap.Logger) *Server {
	return &Server{
		addr:     addr,
		router:   router,
		registry: registry,
		logger:   logger,
		maxFrame: wire.DefaultMaxFrame,
	}
}

// Listen binds the TCP listener.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("feed listener started", zap.String("addr", s.addr))
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops the listener and waits for connection handlers.
func (s *Server) Close() error {
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := s.logger.With(zap.String("remote", remote))
	logger.Info("terminal connected")

	decoder := wire.NewDecoder(s.maxFrame, logger)

	// The terminal id is only known after the first decoded message.
	terminalID := ""
	defer func() {
		if terminalID != "" {
			s.registry.unbind(terminalID, conn)
		}
		conn.Close()
		if n := decoder.Malformed(); n > 0 {
			observability.FramesMalformed.Add(float64(n))
		}
		logger.Info("terminal disconnected",
			zap.String("terminal_id", terminalID),
			zap.Int64("malformed_frames", decoder.Malformed()),
		)
	}()

	buf := make([]byte, 8192)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			for _, m := range decoder.Decode(buf[:n]) {
				if terminalID == "" {
					terminalID = m.TerminalID
					s.registry.bind(terminalID, conn)
					logger.Info("terminal identified", zap.String("terminal_id", terminalID))
				}
				if !s.router.Enqueue(m) {
					logger.Warn("router inbox full, message dropped",
						zap.String("terminal_id", m.TerminalID),
						zap.String("kind", string(m.Kind)),
					)
				}
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Idle terminals are fine; sessions sweep handles
				// the truly dead ones.
				continue
			}
			return
		}
	}
}
