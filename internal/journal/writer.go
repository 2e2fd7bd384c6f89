// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package journal

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Writer anexa linhas ao journal, rotacionando segmentos para que nenhum
// exceda maxSegment. Um único writer por diretório — escritas concorrentes
// estão fora do contrato.
type Writer struct {
	dir        string
	maxSegment int64
	logger     *slog.Logger

	f    *os.File
	base int64 // offset lógico do primeiro byte do segmento ativo
	size int64 // tamanho atual do segmento ativo

	buf []byte // reuso do frame linha+'\n' para escrita única
}

// NewWriter abre (ou cria) o journal em dir e posiciona o segmento ativo.
// Se o último segmento existente ainda tem espaço, reabre ele em append;
// caso contrário cria um segmento novo nomeado pelo tamanho lógico total.
func NewWriter(dir string, maxSegment int64, logger *slog.Logger) (*Writer, error) {
	if maxSegment <= 0 {
		return nil, fmt.Errorf("journal: max segment must be positive, got %d", maxSegment)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	segs, err := scanSegments(dir)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:        dir,
		maxSegment: maxSegment,
		logger:     logger.With("component", "journal_writer", "dir", dir),
	}

	if n := len(segs); n > 0 && segs[n-1].size < maxSegment {
		// Último segmento ainda tem espaço — retoma ele
		last := segs[n-1]
		w.base = last.start
		w.size = last.size
	} else {
		// Diretório vazio, ou último segmento cheio — começa um novo
		var total int64
		if n > 0 {
			total = segs[n-1].start + segs[n-1].size
		}
		w.base = total
		w.size = 0
	}

	if err := w.openActive(); err != nil {
		return nil, err
	}

	w.logger.Info("journal writer ready",
		"segments", len(segs),
		"active", segmentName(w.base),
		"active_size", w.size,
		"max_segment", maxSegment,
	)
	return w, nil
}

// openActive abre o segmento ativo em append e repointa o symlink current.
func (w *Writer) openActive() error {
	name := segmentName(w.base)
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening segment %s: %w", name, err)
	}
	if err := pointCurrent(w.dir, name); err != nil {
		f.Close()
		return err
	}
	w.f = f
	return nil
}

// Append grava uma linha (sem o terminador) no journal. Rotaciona ANTES
// da escrita quando a linha não cabe no segmento ativo, de forma que um
// segmento nunca excede o cap. Linhas cujo tamanho framed excede o cap
// falham com ErrLineTooLarge.
func (w *Writer) Append(line []byte) error {
	framed := int64(len(line)) + 1

	if framed > w.maxSegment {
		return fmt.Errorf("%w: framed %d bytes, cap %d", ErrLineTooLarge, framed, w.maxSegment)
	}

	if w.size+framed > w.maxSegment {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	// Linha + terminador em um único write, para que leitores nunca
	// observem uma linha parcial
	w.buf = append(w.buf[:0], line...)
	w.buf = append(w.buf, '\n')
	if _, err := w.f.Write(w.buf); err != nil {
		return fmt.Errorf("appending to segment %s: %w", segmentName(w.base), err)
	}
	w.size += framed
	return nil
}

// rotate sela o segmento ativo e abre o sucessor.
func (w *Writer) rotate() error {
	sealed := segmentName(w.base)
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("sealing segment %s: %w", sealed, err)
	}

	w.base += w.size
	w.size = 0
	if err := w.openActive(); err != nil {
		return err
	}

	w.logger.Debug("segment rotated", "sealed", sealed, "active", segmentName(w.base))
	return nil
}

// Consume lê linhas de r até EOF e anexa cada uma ao journal.
// Uma última linha sem terminador é tratada como linha completa.
func (w *Writer) Consume(r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			if aerr := w.Append(line); aerr != nil {
				return aerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
	}
}

// Size retorna o tamanho lógico total do journal (bytes já gravados).
func (w *Writer) Size() int64 {
	return w.base + w.size
}

// Close fecha o segmento ativo. A durabilidade é a que o OS der no close.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
