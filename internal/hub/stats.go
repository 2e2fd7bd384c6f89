// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/nishisan-dev/n-pipe/internal/monitor"
)

// StatsReporter emite métricas periódicas do hub no log.
type StatsReporter struct {
	mode      string
	counters  *Counters
	monitor   *monitor.SystemMonitor
	interval  time.Duration
	logger    *slog.Logger
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewStatsReporter cria um StatsReporter que loga métricas no intervalo dado.
func NewStatsReporter(mode string, counters *Counters, mon *monitor.SystemMonitor, interval time.Duration, logger *slog.Logger) *StatsReporter {
	return &StatsReporter{
		mode:      mode,
		counters:  counters,
		monitor:   mon,
		interval:  interval,
		logger:    logger,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start inicia a goroutine de reporting periódico.
func (sr *StatsReporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sr.cancel = cancel

	go func() {
		defer close(sr.done)
		ticker := time.NewTicker(sr.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sr.report()
			case <-ctx.Done():
				return
			}
		}
	}()

	sr.logger.Info("stats reporter started", "interval", sr.interval)
}

// Stop para o reporter e aguarda a goroutine terminar.
func (sr *StatsReporter) Stop() {
	if sr.cancel != nil {
		sr.cancel()
	}
	<-sr.done
	sr.logger.Info("stats reporter stopped")
}

func (sr *StatsReporter) report() {
	uptime := time.Since(sr.startTime).Seconds()
	sys := sr.monitor.Stats()

	sr.logger.Info("hub stats",
		"mode", sr.mode,
		"uptime_seconds", int64(uptime),
		"lines_in", sr.counters.LinesIn.Load(),
		"lines_out", sr.counters.LinesOut.Load(),
		"connections", sr.counters.Connections.Load(),
		"pending_requests", sr.counters.Pending.Load(),
		"cpu_percent", sys.CPUPercent,
		"memory_percent", sys.MemoryPercent,
		"load_average", sys.LoadAverage,
	)
}
