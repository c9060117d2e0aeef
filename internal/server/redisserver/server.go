package redisserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yxlane/redstore-go/internal/telemetry/metric"
)

// Config holds the server configuration.
type Config struct {
	// Address is the TCP listen address.
	Address string
	// ReadTimeout is the timeout for reading the rest of a started command
	// (default: 30s). Helps prevent slowloris attacks.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing a response (default: 30s).
	WriteTimeout time.Duration
	// IdleTimeout is the timeout for idle connections (default: 5m).
	IdleTimeout time.Duration
	// RateLimit is the maximum number of commands per second per IP
	// (default: 1000). Set to 0 to disable rate limiting.
	RateLimit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:6379",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
		RateLimit:    1000,
	}
}

// Server accepts RESP client connections and serves commands against the
// store via its CommandHandler. Each connection is handled by its own
// goroutine; a protocol error terminates only the offending connection.
type Server struct {
	cfg     *Config
	handler *CommandHandler
	logger  *slog.Logger
	metrics *metric.Registry
	limiter *ipLimiter

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a server. metrics may be nil.
func New(cfg *Config, handler *CommandHandler, metrics *metric.Registry, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		limiter: newIPLimiter(cfg.RateLimit),
	}
}

// Start binds the listener and starts accepting connections in the
// background. It returns once the listener is bound, so a failure to bind
// is reported synchronously.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)
	s.logger.Info("redis server listening", "address", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx, ln); err != nil && s.running.Load() {
			s.logger.Error("redis server accept error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown closes the listener and waits for in-flight connections to
// finish, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var firstErr error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return firstErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(c)
		}()
	}
}

// connReadBufSize is the per-read chunk size for connection input.
const connReadBufSize = 4 * 1024

func (s *Server) serveConn(c net.Conn) {
	defer c.Close()

	connID := ulid.Make().String()
	log := s.logger.With("conn_id", connID, "remote", c.RemoteAddr().String())
	log.Debug("connection opened")

	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()
		defer s.metrics.ConnectionsActive.Dec()
	}

	limiter := s.limiter.acquire(c.RemoteAddr())
	defer s.limiter.release(c.RemoteAddr())

	readTimeout := s.cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := s.cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := s.cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 5 * time.Minute
	}

	writeReply := func(out []byte) bool {
		if err := c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return false
		}
		if _, err := c.Write(out); err != nil {
			log.Debug("connection write error", "error", err)
			return false
		}
		return true
	}

	// pending holds bytes read but not yet decoded. A decode that returns
	// ErrIncomplete leaves pending untouched and we read more.
	var pending []byte
	chunk := make([]byte, connReadBufSize)

	for {
		// Idle timeout between commands; once a command has started
		// arriving, tighten to the per-command read timeout.
		timeout := idleTimeout
		if len(pending) > 0 {
			timeout = readTimeout
		}
		if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return
		}

		n, err := c.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("connection closed by peer")
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Debug("connection timed out")
				return
			}
			log.Debug("connection read error", "error", err)
			return
		}

		// Drain every complete command in the buffer before reading again,
		// batching pipelined responses into a single write.
		var out []byte
		for len(pending) > 0 {
			args, consumed, err := DecodeCommand(pending)
			if errors.Is(err, ErrIncomplete) {
				break
			}
			if err != nil {
				// Protocol violations are fatal to this connection only.
				if errors.Is(err, ErrLimitExceeded) {
					log.Warn("protocol limit exceeded", "error", err)
					out = AppendFrame(out, errorFrame("ERR protocol limit exceeded"))
				} else {
					log.Debug("protocol error", "error", err)
					out = AppendFrame(out, errorFrame("ERR protocol error: "+err.Error()))
				}
				writeReply(out)
				return
			}
			pending = pending[consumed:]

			if len(args) == 0 {
				continue // blank inline line
			}

			if limiter != nil && !limiter.Allow() {
				out = AppendFrame(out, errorFrame("ERR rate limit exceeded"))
				continue
			}

			resp, quit := s.handler.Dispatch(args)
			out = AppendFrame(out, resp)
			if quit {
				writeReply(out)
				log.Debug("connection quit")
				return
			}
		}
		if len(pending) == 0 {
			pending = nil
		}

		if len(out) > 0 && !writeReply(out) {
			return
		}
	}
}
