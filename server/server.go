package server

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/conn"
	"github.com/wireline-io/wireline/limiter"
	"github.com/wireline-io/wireline/transport"
)

var Logger = logger.GetLogger("wireline/server")

var (
	acceptedConns = metrics.GetOrCreateCounter("wireline_server_accepted_total")
	gatedConns    = metrics.GetOrCreateCounter("wireline_server_gated_total")
	requests      = metrics.GetOrCreateCounter("wireline_server_requests_total")
)

// ErrServerClosed reports that Serve returned because Close was called.
var ErrServerClosed = errors.New("server: closed")

// HandleFunc processes one request payload and returns the response
// payload. It runs on a worker goroutine and must be safe for concurrent
// use.
type HandleFunc func(payload []byte) []byte

// Server accepts connections via a listener connector and runs one handle
// per connection. Responses are sent back over the same connection; with
// more than one worker per connection, response order follows completion
// order, not request order.
type Server struct {
	connector transport.IListenerConnector
	conf      common.ServerConfig
	handler   HandleFunc
	gate      *limiter.Limiter

	mu       sync.Mutex
	listener net.Listener

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a server for the given transport. Register a handler before
// calling Serve.
func New(connector transport.IListenerConnector, conf common.ServerConfig) *Server {
	s := &Server{
		connector: connector,
		conf:      conf,
		done:      make(chan struct{}),
	}
	if conf.AcceptRateLimit > 0 {
		s.gate = limiter.New(conf.AcceptRateLimit, conf.AcceptRateWindow)
	}
	return s
}

// Addr returns the bound listener address, or nil before Serve has
// started listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// RegisterHandler sets the request handler. Must be called before Serve.
func (s *Server) RegisterHandler(handler HandleFunc) {
	s.handler = handler
}

// Serve listens on the configured endpoint and blocks accepting
// connections until Close. It returns ErrServerClosed on clean shutdown.
func (s *Server) Serve() error {
	if s.handler == nil {
		return fmt.Errorf("server: no handler registered")
	}

	listener, err := s.connector.Listen(s.conf.Endpoint)
	if err != nil {
		return fmt.Errorf("server: failed to create listener: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	Logger.Infof("serving %s on %s with %d workers per connection",
		s.connector.GetName(), s.conf.Endpoint, s.workersPerConn())

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				s.wg.Wait()
				return ErrServerClosed
			default:
			}
			Logger.Errorf("accept error: %v", err)
			continue
		}

		// Admission gate: over-rate connections are refused outright
		// rather than queued, so a connect storm cannot pile up handles.
		if s.gate != nil && !s.gate.TryAcquire() {
			gatedConns.Inc()
			Logger.Warningf("connection from %s refused by admission gate", raw.RemoteAddr())
			_ = raw.Close()
			continue
		}

		if err := s.connector.UpgradeConnection(raw, s.conf.Conn); err != nil {
			Logger.Errorf("failed to upgrade connection: %v", err)
			_ = raw.Close()
			continue
		}

		acceptedConns.Inc()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(raw)
		}()
	}
}

// Close stops accepting, shuts the listener down and waits for in-flight
// connections to drain.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener != nil {
			_ = listener.Close()
		}
		if s.gate != nil {
			s.gate.Close()
		}
	})
	return nil
}

// handleConnection runs one connection to completion: a handle owns the
// receive loop, a counting semaphore bounds concurrent workers.
func (s *Server) handleConnection(raw net.Conn) {
	h := conn.New(raw, s.conf.Conn)
	defer h.Close()

	// Shutdown closes the handle, which unblocks the Receive below.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.done:
			_ = h.Close()
		case <-stop:
		}
	}()

	semaphore := make(chan struct{}, s.workersPerConn())
	var workers sync.WaitGroup

	for {
		msg, err := h.Receive()
		if err != nil {
			if !errors.Is(err, conn.ErrHandleClosed) {
				Logger.Warningf("connection ended: %v", err)
			}
			break
		}

		semaphore <- struct{}{}
		workers.Add(1)
		go func(msg conn.Message) {
			defer func() {
				<-semaphore
				workers.Done()
			}()

			requests.Inc()
			resp := s.handler(msg.Payload)
			if resp == nil {
				return
			}
			if err := h.Send(resp); err != nil {
				Logger.Errorf("failed to write response: %v", err)
			}
		}(msg)
	}

	// Let in-progress workers finish before the deferred close drops the
	// connection.
	workers.Wait()
}

func (s *Server) workersPerConn() int {
	if s.conf.MaxWorkersPerConn < 1 {
		return 1
	}
	return s.conf.MaxWorkersPerConn
}
