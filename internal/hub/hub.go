// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package hub implementa o stream hub TCP do npipe: merge (fan-in para
// stdout), broadcast (fan-out do stdin com replay de histórico) e o
// gateway HTTP↔JSON-lines. O listener escuta apenas em loopback.
package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/n-pipe/internal/config"
	"github.com/nishisan-dev/n-pipe/internal/monitor"
)

// maxLineBytes é o buffer máximo por linha nas conexões e no stdin do hub.
const maxLineBytes = 1024 * 1024

// lineBacklog é a profundidade dos canais de linha (merge e subscribers).
// Os canais do original são ilimitados; aqui o produtor bloqueia quando o
// backlog enche, degradando para pushback de socket.
const lineBacklog = 1024

// Counters acumula métricas do hub para o stats reporter.
type Counters struct {
	LinesIn     atomic.Int64 // linhas recebidas (conexões ou stdin)
	LinesOut    atomic.Int64 // linhas entregues (stdout ou sockets)
	Connections atomic.Int64 // conexões ativas
	Pending     atomic.Int64 // requests HTTP aguardando resposta
}

// Run abre o listener e executa o modo configurado até o ctx ser
// cancelado ou o input do modo acabar. stdin/stdout são o plano de dados.
func Run(ctx context.Context, opts *config.StreamOptions, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", opts.ListenAddr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", opts.ListenAddr(), err)
	}
	defer ln.Close()

	logger.Info("hub listening", "address", opts.ListenAddr(), "mode", opts.Mode)

	counters := &Counters{}

	// Stats reporter — snapshot periódico do hub + métricas de sistema
	mon := monitor.NewSystemMonitor(logger)
	mon.Start()
	defer mon.Stop()

	reporter := NewStatsReporter(opts.Mode, counters, mon, opts.StatsInterval, logger)
	reporter.Start()
	defer reporter.Stop()

	switch opts.Mode {
	case config.StreamMerge:
		m := NewMerge(stdout, counters, logger)
		return m.Run(ctx, ln)
	case config.StreamBroadcast:
		b := NewBroadcast(stdin, opts.History, opts.LimitBytes, counters, logger)
		return b.Run(ctx, ln)
	case config.StreamHTTP:
		h := NewHTTPBridge(stdin, stdout, opts.ResponseTimeout, counters, logger)
		return h.Run(ctx, ln)
	default:
		return fmt.Errorf("unknown stream mode %q", opts.Mode)
	}
}

// acceptLoop aceita conexões até o listener fechar, com backoff em erros
// consecutivos para não entrar em hot loop. handle roda em goroutine própria.
func acceptLoop(ctx context.Context, ln net.Listener, logger *slog.Logger, handle func(net.Conn)) {
	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				consecutiveErrors++
				logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		go handle(conn)
	}
}

// closeOnDone fecha o listener quando o ctx for cancelado, desbloqueando
// o Accept.
func closeOnDone(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
}
