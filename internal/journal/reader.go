// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package journal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// defaultPoll é o intervalo de polling do follow mode quando o tail está
// vazio e nenhum segmento sucessor existe.
const defaultPoll = 50 * time.Millisecond

// ReaderOptions configura uma leitura do journal.
type ReaderOptions struct {
	// Cursor é o offset em bytes no log lógico onde a emissão começa.
	// Cursors não-canônicos emitem o restante da linha atravessada.
	Cursor int64

	// Follow bloqueia no fim do log aguardando dados novos em vez de retornar.
	Follow bool

	// Track, quando não-nil, recebe o cursor pós-linha (decimal + '\n')
	// após cada linha emitida, para que clientes retomem exatamente ali.
	Track io.Writer

	// Poll substitui o intervalo de polling do follow mode (default 50ms).
	Poll time.Duration
}

// Reader emite as linhas do journal a partir de um cursor em bytes.
type Reader struct {
	dir    string
	opts   ReaderOptions
	logger *slog.Logger
}

// NewReader cria um Reader para o journal em dir.
func NewReader(dir string, opts ReaderOptions, logger *slog.Logger) *Reader {
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}
	return &Reader{
		dir:    dir,
		opts:   opts,
		logger: logger.With("component", "journal_reader", "dir", dir),
	}
}

// Run emite linhas em w até o fim do log (non-follow) ou até o context
// ser cancelado (follow). O cancelamento em follow mode retorna ctx.Err().
func (r *Reader) Run(ctx context.Context, w io.Writer) error {
	base, err := r.position(ctx)
	if err != nil || base < 0 {
		// base < 0: journal vazio em non-follow — nada a emitir
		return err
	}

	pos := base // offset lógico do início do segmento aberto
	r.logger.Debug("reader positioned", "segment", segmentName(pos), "cursor", r.opts.Cursor, "follow", r.opts.Follow)

	f, err := os.Open(r.segPath(pos))
	if err != nil {
		return fmt.Errorf("opening segment %s: %w", segmentName(pos), err)
	}
	defer func() { f.Close() }()

	emit := pos
	if r.opts.Cursor > pos {
		if _, err := f.Seek(r.opts.Cursor-pos, io.SeekStart); err != nil {
			return fmt.Errorf("seeking segment %s: %w", segmentName(pos), err)
		}
		emit = r.opts.Cursor
	}

	br := bufio.NewReader(f)
	for {
		line, err := br.ReadBytes('\n')
		if err == nil {
			if _, werr := w.Write(line); werr != nil {
				return fmt.Errorf("writing output: %w", werr)
			}
			emit += int64(len(line))
			if r.opts.Track != nil {
				if _, terr := fmt.Fprintf(r.opts.Track, "%d\n", emit); terr != nil {
					return fmt.Errorf("writing track cursor: %w", terr)
				}
			}
			continue
		}
		if err != io.EOF {
			return fmt.Errorf("reading segment %s: %w", segmentName(pos), err)
		}

		// Fim do segmento. Bytes parciais lidos são descartados — o retry
		// abaixo re-seeka para o último ponto de emissão.
		next := r.segPath(emit)
		if _, serr := os.Stat(next); serr == nil {
			// Sucessor existe — o segmento atual está selado
			f.Close()
			nf, oerr := os.Open(next)
			if oerr != nil {
				return fmt.Errorf("opening segment %s: %w", segmentName(emit), oerr)
			}
			f = nf
			pos = emit
			br.Reset(f)
			continue
		}

		if !r.opts.Follow {
			// Sem sucessor: fim do log. Um resto parcial sem terminador só
			// aparece se o writer quebrou o contrato de linha inteira.
			if len(line) > 0 {
				if _, werr := w.Write(line); werr != nil {
					return fmt.Errorf("writing output: %w", werr)
				}
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.Poll):
		}

		// Poll: re-seeka o segmento ativo para o último ponto de emissão
		if _, serr := f.Seek(emit-pos, io.SeekStart); serr != nil {
			return fmt.Errorf("re-seeking segment %s: %w", segmentName(pos), serr)
		}
		br.Reset(f)
	}
}

// position encontra o segmento que contém o cursor e retorna o seu offset
// inicial. Avança segmento a segmento enquanto o cursor estiver além do
// fim E existir um sucessor; um cursor além de todos os segmentos
// conhecidos vira um seek dentro do segmento ativo. Retorna -1 quando o
// journal não tem segmentos em non-follow mode.
func (r *Reader) position(ctx context.Context) (int64, error) {
	var pos int64

	for {
		st, err := os.Stat(r.segPath(pos))
		if err != nil {
			if !os.IsNotExist(err) {
				return 0, fmt.Errorf("stat segment %s: %w", segmentName(pos), err)
			}
			if pos != 0 {
				// Só o primeiro segmento pode estar ausente: os avanços
				// abaixo exigem que o sucessor exista
				return 0, fmt.Errorf("segment %s disappeared during positioning", segmentName(pos))
			}
			if !r.opts.Follow {
				return -1, nil
			}
			// Journal ainda não existe — aguarda o primeiro segmento
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(r.opts.Poll):
			}
			continue
		}

		if r.opts.Cursor > pos+st.Size() {
			next := pos + st.Size()
			if _, serr := os.Stat(r.segPath(next)); serr == nil {
				pos = next
				continue
			}
			// Cursor dentro dos limites eventuais do segmento ativo
		}
		return pos, nil
	}
}

func (r *Reader) segPath(offset int64) string {
	return filepath.Join(r.dir, segmentName(offset))
}
