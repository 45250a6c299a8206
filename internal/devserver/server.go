// Package devserver serves a demo's output directory with live reload.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sjc5/zoetrope/internal/config"
	"github.com/sjc5/zoetrope/internal/util"
)

type State string

const (
	StateOffline  State = "offline"
	StateStarting State = "starting"
	StateOnline   State = "online"
	StateStopping State = "stopping"
)

const (
	metricsPath = "/__zoetrope/metrics"
	healthPath  = "/__zoetrope/health"
)

var ErrAlreadyStarted = errors.New("dev server already started")

type Options struct {
	// Root is the directory served at "/".
	Root string
	// Port 0 picks a free port. A busy port falls through to the next free
	// one.
	Port       int
	Entrypoint string
	// LogLevel "debug" logs every request; "silent" logs nothing.
	LogLevel string
	Logger   util.Logger
}

type Server struct {
	opts    Options
	logger  util.Logger
	metrics *metrics
	hub     *hub

	mu      sync.Mutex
	state   State
	port    int
	srv     *http.Server
	stopHub chan struct{}
}

func New(opts Options) *Server {
	if opts.Entrypoint == "" {
		opts.Entrypoint = config.DefaultEntrypoint
	}
	logger := opts.Logger
	if logger == nil || opts.LogLevel == "silent" {
		logger = util.NopLogger()
	}
	m := newMetrics()
	return &Server{
		opts:    opts,
		logger:  logger,
		metrics: m,
		hub:     newHub(m),
		state:   StateOffline,
	}
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Port is the bound port once online.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Server) URL() string {
	return fmt.Sprintf("http://localhost:%d/", s.Port())
}

// Start binds the listener and serves in the background. It returns once
// the server is online or binding failed.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateOffline {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	port, err := util.GetFreePort(s.opts.Port)
	if err != nil {
		s.setState(StateOffline)
		return fmt.Errorf("error finding a free port: %w", err)
	}
	if s.opts.Port != 0 && port != s.opts.Port {
		s.logger.Warningf("port %d is busy, using %d", s.opts.Port, port)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		s.setState(StateOffline)
		return fmt.Errorf("error binding dev server: %w", err)
	}

	stop := make(chan struct{})
	go s.hub.run(stop)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("dev server stopped: %v", err)
		}
	}()

	s.mu.Lock()
	s.srv = srv
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.stopHub = stop
	s.state = StateOnline
	s.mu.Unlock()

	s.logger.Infof("serving %s at %s", s.opts.Root, s.URL())
	return nil
}

// Stop disconnects reload clients and shuts the HTTP server down
// gracefully. A stopped server stays in StateStopping and cannot be
// started again.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateOnline {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	srv, stop := s.srv, s.stopHub
	s.mu.Unlock()

	close(stop)
	<-s.hub.done
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("error stopping dev server: %w", err)
	}
	s.logger.Debugf("dev server stopped")
	return nil
}

// Reload tells every connected browser to reload. It does not wait for
// them.
func (s *Server) Reload() {
	if s.State() != StateOnline {
		return
	}
	s.metrics.reloads.Inc()
	s.hub.send(message{Type: messageReload, At: time.Now()})
}

// ObserveBuild records a finished build cycle.
func (s *Server) ObserveBuild(d time.Duration, err error) {
	s.metrics.observeBuild(d, err)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(reloadPath, s.handleReload)
	mux.Handle(metricsPath, s.metrics.handler())
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.Handle("/", s.fileHandler())
	return s.logRequests(noStore(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.State()
	if st != StateOnline {
		http.Error(w, string(st), http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, st)
}

// fileHandler serves Root. HTML pages get the reload client.
func (s *Server) fileHandler() http.Handler {
	files := http.FileServer(http.Dir(s.opts.Root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if hasDotSegment(name) {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/") {
			name = path.Join(name, s.opts.Entrypoint)
		}
		if path.Ext(name) != ".html" {
			files.ServeHTTP(w, r)
			return
		}

		page, err := os.ReadFile(filepath.Join(s.opts.Root, filepath.FromSlash(name)))
		if err != nil {
			files.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(injectReloadScript(page))
	})
}

// hasDotSegment matches .env, .git/config and the like.
func hasDotSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	if s.opts.LogLevel != "debug" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugf("%s %s (%v)", r.Method, r.URL.Path, time.Since(start).Round(time.Microsecond))
	})
}
