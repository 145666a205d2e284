package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/txsync/internal/api"
	"github.com/roach88/txsync/internal/channel"
	"github.com/roach88/txsync/internal/config"
	"github.com/roach88/txsync/internal/engine"
	"github.com/roach88/txsync/internal/journal"
)

// session is one opened engine plus the resources it was built from.
type session struct {
	cfg      *config.Config
	live     bool
	engine   *engine.Engine
	journal  *journal.Journal
	registry *prometheus.Registry
}

// openSession loads configuration and opens an engine over it. The event
// channel is only dialed when live is set and the config enables it.
func openSession(ctx context.Context, opts *RootOptions, live bool) (*session, error) {
	s, err := newSession(opts, live)
	if err != nil {
		return nil, err
	}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// newSession builds the engine without opening it, so a caller can
// subscribe before the first signal.
func newSession(opts *RootOptions, live bool) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	s := &session{cfg: cfg, live: live && cfg.Channel.Enabled, registry: prometheus.NewRegistry()}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engineOpts := []engine.Option{
		engine.WithMetrics(engine.NewMetrics(s.registry)),
		engine.WithNotificationLimit(cfg.Notifications.Limit),
	}

	if s.live {
		engineOpts = append(engineOpts, engine.WithDialer(engine.ChannelDialer(
			cfg.Channel.URL,
			channel.WithHandshakeTimeout(cfg.Channel.HandshakeTimeout),
		)))
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open journal", err)
		}
		s.journal = j
		engineOpts = append(engineOpts, engine.WithJournal(j))
	}

	client := api.New(cfg.API.BaseURL, api.WithTimeout(cfg.API.Timeout))
	s.engine = engine.New(client, engineOpts...)
	return s, nil
}

// open starts the engine. On failure everything the session holds is
// released.
func (s *session) open(ctx context.Context) error {
	if err := s.engine.Open(ctx); err != nil {
		s.Close()
		return err
	}

	slog.Debug("session opened",
		"config", s.cfg.Path,
		"api", s.cfg.API.BaseURL,
		"channel", s.live,
		"journal", s.cfg.Journal.Path)
	return nil
}

// Close stops the engine and then the journal it writes to.
func (s *session) Close() error {
	err := s.engine.Close()
	if jerr := s.journal.Close(); jerr != nil && err == nil {
		err = jerr
	}
	return err
}

// serveMetrics exposes the session registry on addr until ctx is done.
// It returns the bound address, which differs from addr when addr's port is 0.
func (s *session) serveMetrics(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return ln.Addr().String(), nil
}
