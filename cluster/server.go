package cluster

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-elytra/elytra/catalog"
	"github.com/go-elytra/elytra/logging"
	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/net/netutil"
)

// Server is the Elytra control plane: the HTTP surface, the message
// channel, the dataset catalog, the worker registry, the job coordinator
// and the reaper, wired together with explicit init and teardown.
type Server struct {
	opts        *ServerOptions
	catalog     *catalog.Catalog
	registry    *Registry
	coordinator *Coordinator
	router      *Router
	reaper      *Reaper
	httpServer  *http.Server
	listener    net.Listener
	cancel      context.CancelFunc
	log         *slog.Logger
}

// NewServer assembles a control plane server from options
func NewServer(opts *ServerOptions) (*Server, error) {
	ensureDefaultServerOptionsValues(opts)
	cat, err := catalog.Open(opts.DataDir)
	if err != nil {
		return nil, err
	}
	registry := NewRegistry(opts.LivenessPeriod, opts.Metrics)
	coordinator := NewCoordinator(cat, registry, opts.Metrics)
	return &Server{
		opts:        opts,
		catalog:     cat,
		registry:    registry,
		coordinator: coordinator,
		router:      NewRouter(registry, coordinator, opts.Metrics),
		reaper:      NewReaper(cat, opts.DatasetMaxAge, opts.ReaperPeriod, opts.Metrics),
		log:         logging.Component("server"),
	}, nil
}

// Catalog exposes the dataset catalog
func (s *Server) Catalog() *catalog.Catalog { return s.catalog }

// Registry exposes the connection registry
func (s *Server) Registry() *Registry { return s.registry }

// Coordinator exposes the job coordinator
func (s *Server) Coordinator() *Coordinator { return s.coordinator }

// Start restores the catalog, binds the listener and serves until the
// server is stopped - blocking unless run in a goroutine
func (s *Server) Start() error {
	if err := s.catalog.RestoreFromDisk(); err != nil {
		return err
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.Datasets.Set(float64(s.catalog.Len()))
	}
	lis, err := net.Listen("tcp", s.opts.connectionString())
	if err != nil {
		return err
	}
	if s.opts.MaxConns > 0 {
		lis = netutil.LimitListener(lis, s.opts.MaxConns)
	}
	s.listener = lis

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.registry.RunLiveness(ctx)
	go s.reaper.Run(ctx)

	s.httpServer = &http.Server{Handler: s.routes()}
	s.log.Info("starting Elytra control plane", "addr", lis.Addr().String())
	if err := s.httpServer.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listener address, for callers that started the
// server on an ephemeral port
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulStop stops the server, draining in-flight HTTP requests
func (s *Server) GracefulStop() error {
	var result *multierror.Error
	if s.cancel != nil {
		s.cancel()
	}
	s.registry.CloseAll()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Stop stops the server immediately
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.registry.CloseAll()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}
