// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package archive copia segmentos selados do journal para um storage
// offsite (S3), comprimidos com gzip paralelo. Só segmentos selados são
// elegíveis — o segmento ativo ainda cresce. Nada é removido do journal.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	"github.com/nishisan-dev/n-pipe/internal/journal"
)

// Uploader é o destino dos archives. A implementação real é S3; os
// testes usam um fake em memória.
type Uploader interface {
	// Existing retorna os basenames de segmento já presentes no destino.
	Existing(ctx context.Context) (map[string]bool, error)

	// Upload envia um archive gzip de size bytes sob o nome do segmento.
	Upload(ctx context.Context, name string, r io.Reader, size int64) error
}

// Archiver comprime e envia segmentos selados que ainda não existem no
// destino. Cada passada é idempotente.
type Archiver struct {
	dir      string
	level    int
	uploader Uploader
	logger   *slog.Logger
}

// NewArchiver cria um Archiver para o journal em dir.
func NewArchiver(dir string, level int, uploader Uploader, logger *slog.Logger) *Archiver {
	return &Archiver{
		dir:      dir,
		level:    level,
		uploader: uploader,
		logger:   logger.With("component", "archiver", "dir", dir),
	}
}

// RunOnce executa uma passada completa: lista os segmentos selados,
// pula os já enviados e sobe os restantes. Retorna o número de archives
// enviados nesta passada.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	sealed, err := journal.SealedSegments(a.dir)
	if err != nil {
		return 0, fmt.Errorf("listing sealed segments: %w", err)
	}
	if len(sealed) == 0 {
		a.logger.Debug("no sealed segments to archive")
		return 0, nil
	}

	existing, err := a.uploader.Existing(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing remote archives: %w", err)
	}

	uploaded := 0
	for _, name := range sealed {
		select {
		case <-ctx.Done():
			return uploaded, ctx.Err()
		default:
		}

		if existing[name] {
			continue
		}
		if err := a.archiveSegment(ctx, name); err != nil {
			return uploaded, fmt.Errorf("archiving segment %s: %w", name, err)
		}
		uploaded++
	}

	a.logger.Info("archive pass completed", "sealed", len(sealed), "uploaded", uploaded)
	return uploaded, nil
}

// archiveSegment comprime um segmento em arquivo temporário, verifica a
// integridade do gzip produzido e faz o upload. O temporário é sempre
// removido; os nomes temporários não colidem com o padrão de segmento,
// então o scan do journal os ignora.
func (a *Archiver) archiveSegment(ctx context.Context, name string) error {
	src, err := os.Open(filepath.Join(a.dir, name))
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(a.dir, ".archive-*.gz.tmp")
	if err != nil {
		return fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	gz, err := pgzip.NewWriterLevel(tmp, a.level)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	srcBytes, err := io.Copy(gz, src)
	if err != nil {
		gz.Close()
		return fmt.Errorf("compressing segment: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flushing gzip: %w", err)
	}

	// Verificação: o archive precisa descomprimir de volta ao mesmo
	// número de bytes antes de subir
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding temp archive: %w", err)
	}
	gzr, err := kgzip.NewReader(tmp)
	if err != nil {
		return fmt.Errorf("verifying archive: %w", err)
	}
	decoded, err := io.Copy(io.Discard, gzr)
	if cerr := gzr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("verifying archive: %w", err)
	}
	if decoded != srcBytes {
		return fmt.Errorf("archive verification failed: segment %d bytes, archive decodes to %d", srcBytes, decoded)
	}

	st, err := tmp.Stat()
	if err != nil {
		return fmt.Errorf("stat temp archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding temp archive: %w", err)
	}

	if err := a.uploader.Upload(ctx, name, tmp, st.Size()); err != nil {
		return fmt.Errorf("uploading: %w", err)
	}

	a.logger.Info("segment archived",
		"segment", name,
		"raw_bytes", srcBytes,
		"archive_bytes", st.Size(),
	)
	return nil
}
