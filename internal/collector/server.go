package collector

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/fieldwatch/telemetry-collector/internal/writer"
)

// Server is the collector's TCP listener: one accept loop plus one
// goroutine per accepted connection, sharing a single node registry
// and writer queue.
type Server struct {
	addr     string
	registry *Registry
	jobs     JobSink
	logger   *log.Logger

	listener net.Listener
	wg       sync.WaitGroup
	shutdown chan struct{}
	closeOne sync.Once
}

// NewServer builds a Server listening on addr (host:port) and feeding
// decoded batches into jobs.
func NewServer(addr string, jobs *writer.Queue, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		addr:     addr,
		registry: NewRegistry(),
		jobs:     jobs,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Registry exposes the live node registry. The query API does not read
// it; its node list comes from the InfluxDB mirror.
func (s *Server) Registry() *Registry { return s.registry }

// Start binds the listener and begins accepting connections. It
// returns once the listener is bound; accepting happens in the
// background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("collector: listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.logger.Printf("collector listening on %s", s.addr)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// acceptLoop accepts connections, re-polling on a short deadline so it
// can observe shutdown without blocking indefinitely in Accept.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	type deadliner interface {
		SetDeadline(time.Time) error
	}

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		if tl, ok := s.listener.(deadliner); ok {
			tl.SetDeadline(time.Now().Add(time.Second))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return
			default:
				s.logger.Printf("accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			conn := NewConnection(conn, s.registry, s.jobs, s.logger, s.shutdown)
			conn.Serve()
		}()
	}
}

// Stop closes the listener, signals all handlers to wind down, and
// waits up to the context deadline for them to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.closeOne.Do(func() { close(s.shutdown) })

	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
