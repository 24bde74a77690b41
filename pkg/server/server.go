package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"gitlab.com/go-extension/http"
	"go.uber.org/zap"

	H "github.com/pmkol/locres/pkg/server/http_handler"
)

var (
	ErrServerClosed       = errors.New("server closed")
	errMissingHTTPHandler = errors.New("missing http handler")
)

var nopLogger = zap.NewNop()

const defaultShutdownTimeout = 5 * time.Second

type ServerOpts struct {
	// Logger optionally specifies a logger for the server logging.
	// A nil Logger will disable the logging.
	Logger *zap.Logger

	// HttpHandler is the location api handler.
	HttpHandler *H.Handler

	// IdleTimeout limits the maximum time period that a connection can idle.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds how long Close waits for in-flight requests
	// before closing their connections. Default is 5s.
	ShutdownTimeout time.Duration
}

func (opts *ServerOpts) init() {
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
}

// Server serves the location api on any number of listeners.
type Server struct {
	opts ServerOpts

	m       sync.Mutex
	closed  bool
	servers map[*http.Server]struct{}
}

func NewServer(opts ServerOpts) *Server {
	opts.init()
	return &Server{
		opts:    opts,
		servers: make(map[*http.Server]struct{}),
	}
}

// Closed returns true if server was closed.
func (s *Server) Closed() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closed
}

// track registers hs. It returns false if s is already closed.
func (s *Server) track(hs *http.Server) bool {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return false
	}
	s.servers[hs] = struct{}{}
	return true
}

func (s *Server) untrack(hs *http.Server) {
	s.m.Lock()
	delete(s.servers, hs)
	s.m.Unlock()
}

// Close stops every listener and waits up to ShutdownTimeout for
// in-flight requests. Connections still open after that are closed.
func (s *Server) Close() {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.closed = true
	servers := make([]*http.Server, 0, len(s.servers))
	for hs := range s.servers {
		servers = append(servers, hs)
	}
	s.m.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, hs := range servers {
		wg.Add(1)
		go func(hs *http.Server) {
			defer wg.Done()
			if err := hs.Shutdown(ctx); err != nil {
				s.opts.Logger.Warn("graceful shutdown timed out, closing connections", zap.Error(err))
				_ = hs.Close()
			}
		}(hs)
	}
	wg.Wait()
}
