package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"

	"github.com/msageha/restfile/internal/logging"
)

// Server runs the REST API on its own listener.
type Server struct {
	h        *server.Hertz
	listener net.Listener
	logger   *logging.Logger
	done     chan struct{}
}

type ServerConfig struct {
	Listen      string
	TokenSecret string
	// LogOutput receives the HTTP framework's own log lines.
	LogOutput io.Writer
}

// NewServer binds cfg.Listen immediately so address errors surface at startup.
func NewServer(cfg ServerConfig, handler Handler, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}
	if cfg.LogOutput != nil {
		hlog.SetOutput(cfg.LogOutput)
	}

	h := server.New(
		server.WithListener(ln),
		server.WithDisablePrintRoute(true),
		server.WithSenseClientDisconnection(true),
		server.WithExitWaitTime(2*time.Second),
	)
	handler.RegisterRoutes(h, cfg.TokenSecret)
	if cfg.TokenSecret == "" {
		logger.Warnf("api token_secret is empty; the API is unauthenticated")
	}

	return &Server{h: h, listener: ln, logger: logger, done: make(chan struct{})}, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		defer close(s.done)
		s.logger.Infof("api listening on %s", s.Addr())
		if err := s.h.Run(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Errorf("api server: %v", err)
		}
	}()
}

// Shutdown stops the server. The listener is closed explicitly as well, so a
// server stopped before it began serving still releases its address.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.h.Shutdown(ctx)
	_ = s.listener.Close()
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}
