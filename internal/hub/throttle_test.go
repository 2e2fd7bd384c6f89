// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package hub

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestThrottledWriter_BypassWhenUnlimited(t *testing.T) {
	var buf bytes.Buffer
	w := NewThrottledWriter(context.Background(), &buf, 0)
	if w != &buf {
		t.Error("expected bypass (same writer) when bytesPerSec <= 0")
	}
}

func TestThrottledWriter_WritesAllBytes(t *testing.T) {
	var buf bytes.Buffer
	w := NewThrottledWriter(context.Background(), &buf, 1024*1024)

	data := bytes.Repeat([]byte("x"), 10_000)
	n, err := w.Write(data)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(data) {
		t.Errorf("wrote %d bytes, want %d", n, len(data))
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Error("output differs from input")
	}
}

func TestThrottledWriter_LimitsRate(t *testing.T) {
	var buf bytes.Buffer
	// 1KB/s com burst 1KB: escrever 2KB exige ~1s de espera pelo segundo KB
	w := NewThrottledWriter(context.Background(), &buf, 1024)

	start := time.Now()
	if _, err := w.Write(bytes.Repeat([]byte("y"), 2048)); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("write finished in %v, expected rate limiting to slow it down", elapsed)
	}
}

func TestThrottledWriter_ContextCancelUnblocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var buf bytes.Buffer
	w := NewThrottledWriter(ctx, &buf, 16) // taxa minúscula

	done := make(chan error, 1)
	go func() {
		_, err := w.Write(bytes.Repeat([]byte("z"), 1024))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after context cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("throttled write did not unblock after cancel")
	}
}
