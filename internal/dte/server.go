package dte

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Transport is the byte-stream carrying DTE frames; satisfied by a serial
// port or a net.Conn from a BLE/TCP bridge. The wire framing below the
// line-oriented "$CMD,args*XX\r\n" protocol is out of scope here.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a fresh Transport for each console session, mirroring the
// teacher's accept-loop pattern in pkg/caster for per-connection handling.
type Dialer func(ctx context.Context) (Transport, error)

// Server runs one DTE console session at a time over connections produced
// by a Dialer, satisfying internal/fsm's ConsoleServer contract. Each
// session is tagged with a uuid correlation ID threaded into log fields,
// matching pkg/caster's getHandler request_id stamping.
type Server struct {
	handler *Handler
	dial    Dialer
	logger  logrus.FieldLogger

	mu           sync.Mutex
	lastActivity time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer constructs a Server. logger may be nil, falling back to
// logrus.StandardLogger().
func NewServer(handler *Handler, dial Dialer, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{handler: handler, dial: dial, logger: logger}
}

// Start begins accepting console sessions in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.touch()

	go func() {
		defer close(s.done)
		s.acceptLoop(runCtx)
	}()
	return nil
}

// Stop cancels the accept loop and waits for it to exit.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// LastActivity reports the time of the most recently processed frame
// across all sessions, used by the FSM's Configuration inactivity timeout.
func (s *Server) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Server) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warnf("dte: dial failed: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		s.serveSession(ctx, conn)
	}
}

func (s *Server) serveSession(ctx context.Context, conn Transport) {
	sessionID := uuid.New().String()
	log := s.logger.WithFields(logrus.Fields{"request_id": sessionID, "component": "dte"})
	log.Info("dte: session started")
	defer conn.Close()
	defer log.Info("dte: session ended")

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	s.handler.Reset()

	reader := bufio.NewScanner(conn)
	for reader.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := reader.Text()
		if line == "" {
			continue
		}
		s.touch()

		resp := s.handler.Handle(line)
		log.Debugf("dte: %s -> %s", line, resp)
		if _, err := io.WriteString(conn, resp); err != nil {
			log.Warnf("dte: write failed: %v", err)
			return
		}
	}
}
