package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"simdisk/internal/config"
	"simdisk/internal/simfs"
)

// Server owns the listening socket, the filesystem facade, and the
// background goroutines. The accept loop and the scheduled sync run in an
// errgroup; per-connection handlers are plain goroutines it does not track.
type Server struct {
	ln  net.Listener
	fs  *simfs.FileSystem
	log *slog.Logger

	policy config.SyncPolicy
}

// New binds the listen address and mounts (or formats) the backing file.
func New(cfg config.Server, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listen on %s: %w", cfg.ListenAddr, err)
	}

	policy := toFacadePolicy(cfg.SyncPolicy)

	var fs *simfs.FileSystem
	if cfg.Format {
		fs, err = simfs.ForceClear(cfg.DiskPath, policy, log)
	} else {
		fs, err = simfs.Mount(cfg.DiskPath, policy, log)
	}
	if err != nil {
		ln.Close()
		return nil, err
	}

	return &Server{ln: ln, fs: fs, log: log, policy: cfg.SyncPolicy}, nil
}

func toFacadePolicy(p config.SyncPolicy) simfs.SyncPolicy {
	switch p {
	case config.SyncImmediate:
		return simfs.PolicyImmediate
	case config.SyncScheduled:
		return simfs.PolicyScheduled
	default:
		return simfs.PolicyOnExit
	}
}

// Addr returns the bound listen address, useful in tests that bind an
// ephemeral port.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Run accepts connections and runs the scheduled-sync ticker (if selected)
// until ctx is cancelled, then waits for those two goroutines and closes the
// facade. Sessions already accepted are not waited for.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.policy == config.SyncScheduled {
		g.Go(func() error { return s.runScheduledSync(ctx) })
	}

	g.Go(func() error { return s.acceptLoop(ctx) })

	<-ctx.Done()
	s.ln.Close()
	err := g.Wait()
	if closeErr := s.fs.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}
		sess := newSession(conn, s.fs, s.log)
		go sess.Serve()
	}
}

func (s *Server) runScheduledSync(ctx context.Context) error {
	ticker := time.NewTicker(config.ScheduledSyncIntervalSeconds * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.fs.Sync(); err != nil {
				s.log.Error("scheduled sync failed", "error", err)
			}
		}
	}
}
