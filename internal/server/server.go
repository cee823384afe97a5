// Package server wires configuration into a running agentdeck daemon.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/batch"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/controller"
	"github.com/agentdeck/agentdeck/internal/events"
	"github.com/agentdeck/agentdeck/internal/launch"
	"github.com/agentdeck/agentdeck/internal/pty"
	"github.com/agentdeck/agentdeck/internal/registry"
	"github.com/agentdeck/agentdeck/internal/store/sqlite"
	"github.com/agentdeck/agentdeck/pkg/secrets"
)

type Server struct {
	httpServer *http.Server
	httpLn     net.Listener

	ctl     *controller.Controller
	secrets *secrets.Store
	journal *sqlite.Journal
}

func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	SetupLogging(cfg.Logging)

	secretStore, err := secrets.Open(cfg.Secrets.File, cfg.Secrets.Watch)
	if err != nil {
		return nil, fmt.Errorf("open secrets store: %w", err)
	}

	var journal *sqlite.Journal
	if cfg.Journal.SQLitePath != "" {
		journal, err = sqlite.Open(cfg.Journal.SQLitePath)
		if err != nil {
			_ = secretStore.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	broker := events.NewBroker()
	reg := registry.New(cfg.Sessions.MaxConcurrent)
	resolver := launch.NewResolver(cfg.Agents)

	var journalIface controller.Journal
	if journal != nil {
		journalIface = journal
	}
	ctl := controller.New(reg, broker, resolver, secretStore, journalIface, controller.Config{
		Batch: batch.Config{
			Interval:   config.Duration(cfg.Batch.Interval, batch.DefaultInterval),
			Threshold:  cfg.Batch.ThresholdBytes,
			MaxPending: cfg.Batch.MaxPendingBytes,
		},
		KillGrace: config.Duration(cfg.Sessions.KillGrace, 3*time.Second),
		InitialSize: pty.Winsize{
			Rows: cfg.Sessions.InitialRows,
			Cols: cfg.Sessions.InitialCols,
		},
	})

	app := api.NewApp(ctl, broker, journal)

	// Stream connections are hijacked by the websocket upgrade, so these
	// timeouts only bound plain request handling.
	httpServer := &http.Server{
		Handler:      app.Router(),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 30*time.Second),
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = secretStore.Close()
		if journal != nil {
			_ = journal.Close()
		}
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	return &Server{
		httpServer: httpServer,
		httpLn:     ln,
		ctl:        ctl,
		secrets:    secretStore,
		journal:    journal,
	}, nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() string {
	return s.httpLn.Addr().String()
}

// Serve blocks until the listener closes.
func (s *Server) Serve() error {
	slog.Info("agentdeck listening", "addr", s.Addr())
	err := s.httpServer.Serve(s.httpLn)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, kills all live sessions, and releases
// the journal and secret store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.ctl.Shutdown(ctx)
	if s.journal != nil {
		_ = s.journal.Close()
	}
	_ = s.secrets.Close()
	return err
}

// SetupLogging installs the process-wide slog handler.
func SetupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
