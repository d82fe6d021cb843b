package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"liveactivity/pkg/logx"
)

const DefaultAddr = "127.0.0.1:9464"

// ServerConfig controls the optional scrape endpoint.
//
// Binding to a non-loopback address requires Token or AllowInsecure.
type ServerConfig struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	// Pprof also mounts net/http/pprof under /debug/pprof/.
	Pprof bool
}

// Server serves /metrics and /healthz and can be reconfigured at runtime.
type Server struct {
	mu  sync.Mutex
	log logx.Logger
	h   http.Handler
	cfg ServerConfig

	ln       net.Listener
	srv      *http.Server
	stopDone chan struct{}
}

func NewServer(m *Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{h: m.Handler(), log: log.With(logx.String("comp", "metrics"))}
}

// Addr is the bound listen address, empty while stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts, stops or restarts the listener as
// needed. Safe to call during hot reload.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
		return nil
	case !running:
		return s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		return s.Start(ctx)
	}
	return nil
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return nil
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	cur := s.cfg
	s.mu.Unlock()

	if !cur.Enabled {
		return nil
	}
	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		return errors.New("metrics: non-loopback addr requires token or allow_insecure")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	wrap := func(h http.Handler) http.Handler { return withAuth(cur.Token, h) }
	mux.Handle("/metrics", wrap(s.h))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cur.Pprof {
		mux.Handle("/debug/pprof/", wrap(http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", wrap(http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("metrics started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""), logx.Bool("pprof", cur.Pprof))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.srv == nil {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, ln := s.srv, s.ln
	s.srv, s.ln = nil, nil
	s.mu.Unlock()

	_ = ln.Close()
	go func() {
		defer close(done)
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("metrics stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" && got == tok {
			h.ServeHTTP(w, r)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
