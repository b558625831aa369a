package auth

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/outpost-games/authd/internal/logger"
	"github.com/outpost-games/authd/internal/session"
	"github.com/outpost-games/authd/pkg/metrics"
)

// ServerConfig holds configuration for the authentication server.
type ServerConfig struct {
	// Address is the bind address. Empty binds all interfaces.
	Address string

	// Port is the UDP port to listen on. Zero binds a random port,
	// which tests rely on; the config layer defaults this to 16666.
	Port int

	// Workers is the number of goroutines handling datagrams
	// (default 1).
	Workers int

	// MaxPacketSize is the receive buffer size per datagram
	// (default 1024). Legitimate handshake packets fit well within it.
	MaxPacketSize int

	// SweepInterval is how often expired sessions are reaped
	// (default 5s).
	SweepInterval time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = 1024
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
}

// datagram is one received packet queued for a worker.
type datagram struct {
	payload []byte
	addr    *net.UDPAddr
}

// Server is the UDP authentication server. One read loop feeds a
// fixed pool of handler workers; replies go back to the datagram's
// source address.
type Server struct {
	config       ServerConfig
	handler      *Handler
	sessions     session.Store
	metrics      metrics.AuthMetrics
	udpConn      *net.UDPConn
	ready        chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer creates an authentication server around a handler. The
// session store is also held here for the background sweeper.
// m may be nil.
func NewServer(cfg ServerConfig, handler *Handler, sessions session.Store, m metrics.AuthMetrics) *Server {
	cfg.applyDefaults()
	return &Server{
		config:   cfg,
		handler:  handler,
		sessions: sessions,
		metrics:  m,
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
	}
}

// Serve starts the server and blocks until the context is cancelled
// or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve UDP %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen UDP %s: %w", addr, err)
	}
	s.udpConn = udpConn
	close(s.ready)

	logger.Info("Auth server started", "address", udpConn.LocalAddr().String(), "workers", s.config.Workers)

	jobs := make(chan datagram, s.config.Workers*4)

	s.wg.Add(s.config.Workers)
	for i := 0; i < s.config.Workers; i++ {
		go s.worker(ctx, jobs)
	}

	s.wg.Add(2)
	go s.readLoop(jobs)
	go s.sweepLoop()

	// Monitor context cancellation
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.wg.Wait()
	return nil
}

// readLoop receives datagrams and queues them for the workers. A
// queue full means the workers are saturated; the datagram is dropped
// and the client retries.
func (s *Server) readLoop(jobs chan<- datagram) {
	defer s.wg.Done()
	defer close(jobs)

	buf := make([]byte, s.config.MaxPacketSize)

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		// Short deadline so we can check for shutdown periodically
		if err := s.udpConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("Auth: set UDP deadline error", "error", err)
				continue
			}
		}

		n, clientAddr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("Auth: UDP read error", "error", err)
				continue
			}
		}

		// Copy the data since buf will be reused
		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case jobs <- datagram{payload: payload, addr: clientAddr}:
		default:
			logger.Warn("Auth: worker queue full, dropping datagram", "client", clientAddr.String())
		}
	}
}

// worker handles queued datagrams until the jobs channel closes.
func (s *Server) worker(ctx context.Context, jobs <-chan datagram) {
	defer s.wg.Done()

	for d := range jobs {
		reply := s.handler.Handle(ctx, d.payload, d.addr)
		if reply == nil {
			continue
		}
		if _, err := s.udpConn.WriteToUDP(reply, d.addr); err != nil {
			logger.Debug("Auth: write UDP reply error", "client", d.addr.String(), "error", err)
		}
	}
}

// sweepLoop periodically reaps expired and dead sessions and samples
// the live count for metrics.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if removed := s.sessions.Sweep(); removed > 0 {
				logger.Debug("Swept sessions", "removed", removed)
			}
			if s.metrics != nil {
				s.metrics.SetActiveSessions(s.sessions.Count())
			}
		}
	}
}

// Stop gracefully shuts down the server. Safe to call multiple times.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.udpConn != nil {
			_ = s.udpConn.Close()
		}
	})
}

// WaitReady blocks until the listener is bound. Used by tests and by
// the start command's log ordering.
func (s *Server) WaitReady() {
	<-s.ready
}

// UDPAddr returns the UDP listener address (for tests).
// Returns empty string if the server is not listening.
func (s *Server) UDPAddr() string {
	if s.udpConn != nil {
		return s.udpConn.LocalAddr().String()
	}
	return ""
}
