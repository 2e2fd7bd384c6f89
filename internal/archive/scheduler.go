// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler executa passadas do Archiver em uma cron expression, com
// guard de execução: uma passada ainda em andamento faz a agendada ser
// pulada em vez de empilhar.
type Scheduler struct {
	cron     *cron.Cron
	archiver *Archiver
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler cria um Scheduler para o archiver com a cron expression dada.
func NewScheduler(schedule string, archiver *Archiver, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		archiver: archiver,
		logger:   logger,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, s.executePass); err != nil {
		return nil, fmt.Errorf("adding archive cron job: %w", err)
	}
	s.cron = c

	logger.Info("registered archive job", "schedule", schedule)
	return s, nil
}

// Start inicia o scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("archive scheduler started")
	s.cron.Start()
}

// Stop para o scheduler e aguarda a passada em andamento.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("archive scheduler stopping")
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
		s.logger.Info("archive scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("archive scheduler stop timed out")
	}
}

func (s *Scheduler) executePass() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("archive pass already running, skipping scheduled execution")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	uploaded, err := s.archiver.RunOnce(context.Background())
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("archive pass failed", "error", err, "uploaded", uploaded, "duration", duration)
		return
	}
	s.logger.Info("scheduled archive pass completed", "uploaded", uploaded, "duration", duration)
}
