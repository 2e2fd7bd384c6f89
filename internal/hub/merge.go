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
)

// Merge lê linhas de todas as conexões TCP aceitas e as escreve
// serialmente no output. A ordem por conexão é preservada; entre
// conexões, vale a ordem de chegada no canal compartilhado.
type Merge struct {
	out      io.Writer
	counters *Counters
	logger   *slog.Logger
}

// NewMerge cria um Merge escrevendo em out.
func NewMerge(out io.Writer, counters *Counters, logger *slog.Logger) *Merge {
	return &Merge{
		out:      out,
		counters: counters,
		logger:   logger.With("component", "merge"),
	}
}

// Run aceita conexões em ln e consome o canal compartilhado até o ctx
// ser cancelado. O consumidor roda nesta goroutine.
func (m *Merge) Run(ctx context.Context, ln net.Listener) error {
	closeOnDone(ctx, ln)

	lines := make(chan []byte, lineBacklog)
	go acceptLoop(ctx, ln, m.logger, func(conn net.Conn) {
		m.pump(ctx, conn, lines)
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			line = append(line, '\n')
			if _, err := m.out.Write(line); err != nil {
				return fmt.Errorf("writing merged output: %w", err)
			}
			m.counters.LinesOut.Add(1)
		}
	}
}

// pump lê linhas de uma conexão e as envia ao canal compartilhado.
// Fechar a conexão derruba só este produtor; o merge continua.
func (m *Merge) pump(ctx context.Context, conn net.Conn, lines chan<- []byte) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	m.counters.Connections.Add(1)
	defer m.counters.Connections.Add(-1)
	m.logger.Debug("producer connected", "remote", remote)

	s := bufio.NewScanner(conn)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for s.Scan() {
		// O scanner reusa o buffer interno — copia antes de enfileirar
		line := make([]byte, len(s.Bytes()), len(s.Bytes())+1)
		copy(line, s.Bytes())

		select {
		case lines <- line:
			m.counters.LinesIn.Add(1)
		case <-ctx.Done():
			return
		}
	}
	if err := s.Err(); err != nil {
		m.logger.Debug("producer read error", "remote", remote, "error", err)
	}
	m.logger.Debug("producer disconnected", "remote", remote)
}
