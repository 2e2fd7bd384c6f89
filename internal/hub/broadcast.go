// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package hub

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// subscriber é uma conexão registrada no broadcast: um canal de linhas
// drenado por um worker próprio, e um done fechado quando o worker morre.
type subscriber struct {
	ch   chan []byte
	done chan struct{}
}

// Broadcast lê linhas do input e as replica para todas as conexões TCP
// aceitas, com replay opcional das últimas linhas para conexões novas.
type Broadcast struct {
	in       io.Reader
	history  *History
	limitBps int64
	counters *Counters
	logger   *slog.Logger

	mu   sync.Mutex
	subs []*subscriber
}

// NewBroadcast cria um Broadcast. history > 0 habilita o replay;
// limitBps > 0 limita a banda de escrita por subscriber.
func NewBroadcast(in io.Reader, history int, limitBps int64, counters *Counters, logger *slog.Logger) *Broadcast {
	return &Broadcast{
		in:       in,
		history:  NewHistory(history),
		limitBps: limitBps,
		counters: counters,
		logger:   logger.With("component", "broadcast"),
	}
}

// Run aceita conexões em ln e replica o input até ele fechar ou o ctx
// ser cancelado. O produtor roda nesta goroutine.
func (b *Broadcast) Run(ctx context.Context, ln net.Listener) error {
	closeOnDone(ctx, ln)

	go acceptLoop(ctx, ln, b.logger, func(conn net.Conn) {
		b.register(ctx, conn)
	})

	s := bufio.NewScanner(b.in)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for s.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := make([]byte, len(s.Bytes()))
		copy(line, s.Bytes())
		b.counters.LinesIn.Add(1)

		b.publish(line)
		b.history.Append(line)
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("reading broadcast input: %w", err)
	}
	return nil
}

// publish envia a linha para todos os subscribers vivos e remove os
// mortos. O lock cobre só o snapshot e a remoção, não os sends.
func (b *Broadcast) publish(line []byte) {
	b.mu.Lock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	var dead []*subscriber
	for _, sub := range subs {
		select {
		case <-sub.done:
			dead = append(dead, sub)
		case sub.ch <- line:
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		kept := b.subs[:0]
		for _, sub := range b.subs {
			alive := true
			for _, d := range dead {
				if sub == d {
					alive = false
					break
				}
			}
			if alive {
				kept = append(kept, sub)
			}
		}
		b.subs = kept
		b.mu.Unlock()
	}
}

// register faz o replay do histórico para a conexão nova e, se ele
// suceder, registra o subscriber e inicia o worker que drena o canal
// para o socket. Falha no replay derruba o socket sem registrar.
func (b *Broadcast) register(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	b.counters.Connections.Add(1)
	defer b.counters.Connections.Add(-1)

	w := NewThrottledWriter(ctx, conn, b.limitBps)

	for _, line := range b.history.Snapshot() {
		if err := writeLine(w, line); err != nil {
			b.logger.Debug("history replay failed", "remote", remote, "error", err)
			conn.Close()
			return
		}
		b.counters.LinesOut.Add(1)
	}

	sub := &subscriber{
		ch:   make(chan []byte, lineBacklog),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug("subscriber registered", "remote", remote, "replayed", b.history.Len())

	// Worker: drena o canal para o socket até erro ou cancelamento
	defer close(sub.done)
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-sub.ch:
			if err := writeLine(w, line); err != nil {
				b.logger.Debug("subscriber write failed", "remote", remote, "error", err)
				return
			}
			b.counters.LinesOut.Add(1)
		}
	}
}

// writeLine escreve a linha com o terminador em um único Write.
func writeLine(w io.Writer, line []byte) error {
	framed := make([]byte, 0, len(line)+1)
	framed = append(framed, line...)
	framed = append(framed, '\n')
	_, err := w.Write(framed)
	return err
}
