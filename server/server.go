package server

import (
	"net/http"
	"time"
)

// ConvServer is the conversation debug server. It serves the Connect debug
// service (CBOR codec) and a websocket event feed on the same port.
type ConvServer struct {
	worker   *Worker
	sessions *SessionStore
	mux      *http.ServeMux

	stopSweeper func()
}

// ServerOption configures a ConvServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	sessionTTL    time.Duration
	sweepInterval time.Duration
}

// WithSessionTTL sets how long an idle conversation is kept before it is
// aborted. The default is 30 minutes.
func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.sessionTTL = ttl
		c.sweepInterval = max(ttl/6, time.Second)
	}
}

// New creates a ConvServer over the given library. The library belongs to
// the server's worker from here on.
func New(lib *Library, opts ...ServerOption) *ConvServer {
	cfg := &serverConfig{
		sessionTTL:    30 * time.Minute,
		sweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewWorker(lib)
	sessions := NewSessionStore(worker)

	s := &ConvServer{
		worker:   worker,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	NewDebugService(worker, sessions).register(s.mux)
	s.mux.HandleFunc("GET /debug/events", s.serveEvents)

	s.stopSweeper = sessions.StartSweeper(cfg.sweepInterval, cfg.sessionTTL)
	return s
}

// Handler returns the server's HTTP handler.
func (s *ConvServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *ConvServer) ListenAndServe(addr string) error {
	logger.Noticef("conversation debug server listening on %s", addr)
	logger.Noticef("  Connect (CBOR): http://%s%s", addr, StartProcedure)
	logger.Noticef("  events:         ws://%s/debug/events?session=<id>", addr)
	return http.ListenAndServe(addr, s.mux)
}

// Stop aborts every running conversation and shuts the worker down.
func (s *ConvServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.sessions.DestroyAll()
	s.worker.Stop()
}
