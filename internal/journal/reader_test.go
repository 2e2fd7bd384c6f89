// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package journal

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// writeAll grava o input no journal em uma sessão própria de writer,
// como chamadas sucessivas do `npipe log write`.
func writeAll(t *testing.T, dir string, maxSegment int64, input string) {
	t.Helper()
	w, err := NewWriter(dir, maxSegment, testLogger())
	if err != nil {
		t.Fatalf("NewWriter error: %v", err)
	}
	if err := w.Consume(strings.NewReader(input)); err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

// readAt lê o journal inteiro a partir do cursor, non-follow.
func readAt(t *testing.T, dir string, cursor int64) string {
	t.Helper()
	var out bytes.Buffer
	r := NewReader(dir, ReaderOptions{Cursor: cursor}, testLogger())
	if err := r.Run(context.Background(), &out); err != nil {
		t.Fatalf("Run(cursor=%d) error: %v", cursor, err)
	}
	return out.String()
}

func TestReader_ThreeSegmentRead(t *testing.T) {
	dir := t.TempDir()

	segment1 := "one\ntwo\nthree\nfour\n"
	segment2 := "one-2\ntwo-2\nthree-2\nfour-2\n"
	segment3 := "one-3\ntwo-3\nthree-3\nfour-3\n"

	// Cap de 27 bytes: as três escritas atravessam fronteiras de segmento
	writeAll(t, dir, 27, segment1)

	if got := readAt(t, dir, 0); got != segment1 {
		t.Errorf("full read = %q, want %q", got, segment1)
	}
	if got := readAt(t, dir, int64(len("one\n"))); got != "two\nthree\nfour\n" {
		t.Errorf("cursor past first line = %q", got)
	}

	writeAll(t, dir, 27, segment2)
	writeAll(t, dir, 27, segment3)

	if segs := listSegments(t, dir); len(segs) < 2 {
		t.Fatalf("expected rotation across writes, got segments %v", segs)
	}

	all := segment1 + segment2 + segment3
	if got := readAt(t, dir, 0); got != all {
		t.Errorf("full read after three writes = %q, want %q", got, all)
	}

	// Cursor dentro do segundo segmento
	cursor := int64(len(segment1) + len("one-2\n"))
	want := "two-2\nthree-2\nfour-2\n" + segment3
	if got := readAt(t, dir, cursor); got != want {
		t.Errorf("cursor into second segment = %q, want %q", got, want)
	}

	// Cursor dentro do terceiro segmento
	cursor = int64(len(segment1) + len(segment2) + len("one-3\n"))
	if got := readAt(t, dir, cursor); got != "two-3\nthree-3\nfour-3\n" {
		t.Errorf("cursor into third segment = %q", got)
	}

	// Cursor no fim do log: leitura vazia
	if got := readAt(t, dir, int64(len(all))); got != "" {
		t.Errorf("cursor at end = %q, want empty", got)
	}
}

func TestReader_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	input := "alpha\nbeta\ngamma\ndelta\nepsilon\n"
	writeAll(t, dir, 12, input)

	if got := readAt(t, dir, 0); got != input {
		t.Errorf("round trip = %q, want %q", got, input)
	}
}

func TestReader_CursorResumability(t *testing.T) {
	dir := t.TempDir()

	input := "aa\nbbbb\nc\ndddddd\nee\n"
	writeAll(t, dir, 8, input)

	// Para todo split point k, prefixo[0:k) + leitura a partir de k == input
	for k := int64(0); k <= int64(len(input)); k++ {
		tail := readAt(t, dir, k)
		if got := input[:k] + tail; got != input {
			t.Errorf("split at %d: prefix+tail = %q, want %q", k, got, input)
		}
	}
}

func TestReader_TrackEmitsPostLineCursors(t *testing.T) {
	dir := t.TempDir()

	writeAll(t, dir, 1024, "ab\ncdef\ng\n")

	var out, track bytes.Buffer
	r := NewReader(dir, ReaderOptions{Track: &track}, testLogger())
	if err := r.Run(context.Background(), &out); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	// Cursors pós-linha: 3 ("ab\n"), 8 (+"cdef\n"), 10 (+"g\n")
	want := "3\n8\n10\n"
	if track.String() != want {
		t.Errorf("track output = %q, want %q", track.String(), want)
	}

	// Cada cursor trackeado retoma exatamente após a linha correspondente
	if got := readAt(t, dir, 3); got != "cdef\ng\n" {
		t.Errorf("resume at tracked cursor 3 = %q", got)
	}
	if got := readAt(t, dir, 8); got != "g\n" {
		t.Errorf("resume at tracked cursor 8 = %q", got)
	}
}

func TestReader_NonCanonicalCursor(t *testing.T) {
	dir := t.TempDir()

	writeAll(t, dir, 1024, "hello\nworld\n")

	// Cursor no meio de "hello": emite o resto da linha atravessada
	if got := readAt(t, dir, 2); got != "llo\nworld\n" {
		t.Errorf("non-canonical cursor = %q", got)
	}
}

func TestReader_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()

	if got := readAt(t, dir, 0); got != "" {
		t.Errorf("empty journal read = %q, want empty", got)
	}
}

// syncBuffer é um bytes.Buffer com mutex para leitura concorrente ao follow.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReader_FollowObservesAppendsAndRotation(t *testing.T) {
	dir := t.TempDir()

	// Cap pequeno para forçar rotação durante o follow
	w, err := NewWriter(dir, 8, testLogger())
	if err != nil {
		t.Fatalf("NewWriter error: %v", err)
	}
	defer w.Close()

	if err := w.Append([]byte("one")); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		r := NewReader(dir, ReaderOptions{Follow: true, Poll: 5 * time.Millisecond}, testLogger())
		done <- r.Run(ctx, out)
	}()

	// Appends suficientes para atravessar fronteiras de segmento
	for _, line := range []string{"two", "three", "four"} {
		if err := w.Append([]byte(line)); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	want := "one\ntwo\nthree\nfour\n"
	deadline := time.After(2 * time.Second)
	for out.String() != want {
		select {
		case <-deadline:
			t.Fatalf("follow output = %q, want %q", out.String(), want)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follow reader did not stop after cancel")
	}
}

func TestReader_FollowWaitsAtEnd(t *testing.T) {
	dir := t.TempDir()

	writeAll(t, dir, 1024, "a\nb\n")

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		r := NewReader(dir, ReaderOptions{Cursor: 4, Follow: true, Poll: 5 * time.Millisecond}, testLogger())
		done <- r.Run(ctx, out)
	}()

	// Cursor no fim: deve bloquear sem emitir nada
	select {
	case err := <-done:
		t.Fatalf("follow returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if out.String() != "" {
		t.Fatalf("expected no output at end-of-log, got %q", out.String())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("follow reader did not stop after cancel")
	}
}
