// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package journal implementa o log segmentado append-only do npipe.
//
// Um journal é um diretório de segmentos nomeados pelo offset (em bytes)
// do seu primeiro byte dentro do log lógico, com 20 dígitos decimais
// zero-padded. O symlink `current` aponta para o segmento ativo. Cada
// segmento é uma concatenação crua de linhas terminadas por '\n'; um
// segmento nunca termina com linha parcial e nunca excede o cap
// configurado.
package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Erros estruturais do journal.
var (
	// ErrLineTooLarge indica uma linha cujo tamanho framed (len+1) excede o cap do segmento.
	ErrLineTooLarge = errors.New("journal: line exceeds segment cap")

	// ErrSegmentGap indica que os nomes dos segmentos não batem com o total
	// acumulado dos tamanhos — o journal está corrompido.
	ErrSegmentGap = errors.New("journal: segment offsets do not match sizes")
)

// segmentNameLen é o número de dígitos decimais no nome de um segmento.
const segmentNameLen = 20

// currentLink é o nome do symlink que aponta para o segmento ativo.
const currentLink = "current"

// segmentName formata o offset inicial como basename de segmento.
func segmentName(offset int64) string {
	return fmt.Sprintf("%020d", offset)
}

// parseSegmentName interpreta um basename como offset. Retorna false para
// qualquer nome que não seja exatamente 20 dígitos decimais.
func parseSegmentName(name string) (int64, bool) {
	if len(name) != segmentNameLen {
		return 0, false
	}
	var offset int64
	for _, c := range name {
		if c < '0' || c > '9' {
			return 0, false
		}
		offset = offset*10 + int64(c-'0')
	}
	return offset, true
}

// segmentInfo descreve um segmento existente no disco.
type segmentInfo struct {
	start int64 // offset lógico do primeiro byte
	size  int64 // tamanho no disco no instante do scan
}

// scanSegments enumera os segmentos de dir em ordem e valida que cada
// basename é igual ao acumulado dos tamanhos anteriores. O primeiro
// segmento precisa começar em 0; qualquer gap ou overlap é ErrSegmentGap.
func scanSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading journal directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := parseSegmentName(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	// Nomes zero-padded: ordem lexicográfica == ordem numérica
	sort.Strings(names)

	var segs []segmentInfo
	var expected int64
	for _, name := range names {
		start, _ := parseSegmentName(name)
		if start != expected {
			return nil, fmt.Errorf("%w: expected %s, have %s", ErrSegmentGap, segmentName(expected), name)
		}
		st, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("stat segment %s: %w", name, err)
		}
		segs = append(segs, segmentInfo{start: start, size: st.Size()})
		expected += st.Size()
	}
	return segs, nil
}

// SealedSegments retorna os basenames dos segmentos selados — todos menos
// o ativo (o de maior offset) — em ordem. A contiguidade dos segmentos é
// validada antes: um journal corrompido retorna ErrSegmentGap.
func SealedSegments(dir string) ([]string, error) {
	segs, err := scanSegments(dir)
	if err != nil {
		return nil, err
	}
	if len(segs) <= 1 {
		return nil, nil
	}
	names := make([]string, 0, len(segs)-1)
	for _, seg := range segs[:len(segs)-1] {
		names = append(names, segmentName(seg.start))
	}
	return names, nil
}

// pointCurrent repointa o symlink `current` para o basename dado.
// A troca é atômica: cria um symlink temporário e renomeia por cima.
func pointCurrent(dir, target string) error {
	link := filepath.Join(dir, currentLink)
	tmp := link + ".tmp"

	// Remove sobras de uma troca interrompida
	_ = os.Remove(tmp)

	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("creating current symlink: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing current symlink: %w", err)
	}
	return nil
}
