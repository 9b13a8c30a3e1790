package daemon

import (
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wappd/internal/config"
	"github.com/matheus3301/wappd/internal/media"
	"github.com/matheus3301/wappd/internal/session"
)

const sweepInterval = time.Hour

// Sweeper periodically removes media payloads past the retention
// window from every live session's media directory.
type Sweeper struct {
	registry *session.Registry
	paths    session.Paths
	maxAge   time.Duration
	logger   *zap.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates the media retention sweeper.
func NewSweeper(cfg *config.Config, registry *session.Registry, paths session.Paths, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		registry: registry,
		paths:    paths,
		maxAge:   cfg.MediaRetention(),
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) sweep() {
	for _, snap := range s.registry.List() {
		media.Sweep(s.paths.SessionMediaDir(snap.ID), s.maxAge, s.logger)
	}
}
