package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"example.com/lanserve/internal/config"
	"example.com/lanserve/internal/dualstack"
	"example.com/lanserve/internal/logger"
	"example.com/lanserve/internal/metrics"
	"example.com/lanserve/internal/render"
	"example.com/lanserve/internal/resolver"
	"example.com/lanserve/internal/util"
)

// Server shares one directory over a dual-stack HTTP listener, refusing
// requests that do not come from a private or loopback address.
type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	resolver *resolver.Resolver
	renderer *render.Renderer
	metrics  *metrics.Metrics
	listener *dualstack.Listener

	listDevices func() ([]InterfaceAddress, error)
	dsOpts      []dualstack.Option

	mu         sync.Mutex
	metricsSrv *http.Server
	metricsLn  net.Listener
	started    time.Time

	ready chan struct{}
	fatal chan error
}

// Option customizes a Server.
type Option func(*Server)

// WithListenFunc replaces the socket opener used for both stacks.
func WithListenFunc(fn dualstack.ListenFunc) Option {
	return func(s *Server) { s.dsOpts = append(s.dsOpts, dualstack.WithListenFunc(fn)) }
}

// WithInterfaceLister replaces the network interface enumeration used for
// the start-up table.
func WithInterfaceLister(fn func() ([]InterfaceAddress, error)) Option {
	return func(s *Server) { s.listDevices = fn }
}

// NewServer creates a Server for a defaulted and validated configuration.
// cfg.Server.Directory must already be checked with config.CheckDirectory.
func NewServer(cfg *config.Config, lg *logger.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Server == nil || cfg.Server.Directory == nil || *cfg.Server.Directory == "" {
		return nil, fmt.Errorf("server.directory is not configured")
	}

	mime, err := render.NewMimeTypeResolver(cfg.MimeTypes)
	if err != nil {
		return nil, &config.ConfigError{FilePath: cfg.OriginalFilePath, Message: "invalid mime_types", Err: err}
	}

	s := &Server{
		cfg:         cfg,
		log:         lg,
		resolver:    resolver.New(*cfg.Server.Directory, cfg.Server.IndexFiles),
		renderer:    render.New(mime),
		metrics:     metrics.New(),
		listDevices: ListInterfaceAddresses,
		ready:       make(chan struct{}),
		fatal:       make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	dsOpts := append([]dualstack.Option{
		dualstack.WithH2C(cfg.Server.H2C != nil && *cfg.Server.H2C),
		dualstack.WithErrorLog(lg.StdLogger("net/http")),
	}, s.dsOpts...)
	s.listener = dualstack.New(dsOpts...)
	s.listener.OnRequest(s.ServeStack)
	s.listener.OnError(s.onStackError)
	s.listener.OnConnection(func(stack dualstack.Stack, _ net.Conn) { s.metrics.ConnOpened(stack.String()) })
	s.listener.OnClose(func(stack dualstack.Stack, _ net.Conn) { s.metrics.ConnClosed(stack.String()) })
	return s, nil
}

// Start runs the server until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run logs the start-up records, binds both stacks and serves until ctx is
// done or a fatal error occurs. On return every connection and both stacks
// are closed. A nil error means a requested shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	port := *s.cfg.Server.Port
	private := *s.cfg.Server.Private
	s.log.Info("Start-up", s.runtimeFields(logger.LogFields{
		"port":       port,
		"local_only": private,
		"directory":  s.resolver.Base(),
		"index":      s.resolver.IndexFiles(),
	}))
	s.logInterfaces()

	v4Host, v6Host := "", "::"
	if private {
		v4Host, v6Host = "127.0.0.1", "::1"
	}
	if err := s.listener.Listen(port, v4Host, v6Host); err != nil {
		s.log.Error("Server error", logger.LogFields{"error": err.Error()})
		<-s.listener.Close(nil).Wait()
		return err
	}
	for _, stack := range dualstack.Stacks {
		if addr := s.listener.Addr(stack); addr != nil {
			s.log.Info("Listening", logger.LogFields{"stack": stack.String(), "address": addr.String()})
		}
	}
	s.startMetrics()
	close(s.ready)

	var reason error
	select {
	case <-ctx.Done():
	case reason = <-s.fatal:
	}
	s.shutdown()
	return reason
}

func (s *Server) shutdown() {
	<-s.listener.Close(nil).Wait()

	s.mu.Lock()
	msrv := s.metricsSrv
	started := s.started
	s.mu.Unlock()
	if msrv != nil {
		msrv.Close()
	}

	requests, rejected, bytes := s.metrics.Totals()
	s.log.Info("Shut-down", s.runtimeFields(logger.LogFields{
		"requests": humanize.Comma(requests),
		"rejected": humanize.Comma(rejected),
		"sent":     humanize.Bytes(uint64(bytes)),
		"uptime":   time.Since(started).Round(time.Millisecond).String(),
	}))
}

func (s *Server) startMetrics() {
	addr := s.cfg.Metrics
	if addr == nil || addr.Address == nil {
		return
	}
	ln, err := net.Listen("tcp", *addr.Address)
	if err != nil {
		s.log.Warn("Metrics endpoint disabled", logger.LogFields{"address": *addr.Address, "error": err.Error()})
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	srv := &http.Server{Handler: mux, ErrorLog: s.log.StdLogger("metrics")}

	s.mu.Lock()
	s.metricsSrv = srv
	s.metricsLn = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("Metrics endpoint stopped", logger.LogFields{"error": err.Error()})
		}
	}()
	s.log.Info("Metrics endpoint listening", logger.LogFields{"address": ln.Addr().String()})
}

func (s *Server) onStackError(stack dualstack.Stack, err error) {
	var bindErr *dualstack.BindError
	if errors.As(err, &bindErr) {
		s.metrics.BindError(stack.String())
		s.log.Warn("Server error", logger.LogFields{
			"stack":   stack.String(),
			"error":   err.Error(),
			"in_use":  util.IsAddrInUse(err),
			"address": bindErr.Addr,
		})
		return
	}
	s.log.Error("Server error", logger.LogFields{"stack": stack.String(), "error": err.Error()})
	s.fail(err)
}

// fail hands err to Run. Only the first fatal error is kept.
func (s *Server) fail(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

func (s *Server) runtimeFields(extra logger.LogFields) logger.LogFields {
	fields := logger.LogFields{
		"binary":     filepath.Base(os.Args[0]),
		"go_version": runtime.Version(),
		"pid":        os.Getpid(),
		"os":         runtime.GOOS + "/" + runtime.GOARCH,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// Ready is closed once at least one stack is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address of a stack, or nil.
func (s *Server) Addr(stack dualstack.Stack) net.Addr { return s.listener.Addr(stack) }

// MetricsAddr returns the metrics endpoint address, or nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }
