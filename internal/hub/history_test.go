// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Pipe License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package hub

import (
	"fmt"
	"testing"
)

func TestHistory_AppendAndSnapshot(t *testing.T) {
	h := NewHistory(3)

	for _, s := range []string{"a", "b", "c"} {
		h.Append([]byte(s))
	}

	snap := h.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(snap))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(snap[i]) != want {
			t.Errorf("snap[%d] = %q, want %q", i, snap[i], want)
		}
	}
}

func TestHistory_TrimsFromFront(t *testing.T) {
	h := NewHistory(3)

	// Cenário de replay: produtor escreve a, b, c, d com history 3 —
	// um subscriber novo deve ver b, c, d
	for _, s := range []string{"a", "b", "c", "d"} {
		h.Append([]byte(s))
	}

	snap := h.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 lines after trim, got %d", len(snap))
	}
	for i, want := range []string{"b", "c", "d"} {
		if string(snap[i]) != want {
			t.Errorf("snap[%d] = %q, want %q", i, snap[i], want)
		}
	}
}

func TestHistory_DepthZeroDisabled(t *testing.T) {
	h := NewHistory(0)

	h.Append([]byte("x"))
	if h.Len() != 0 {
		t.Errorf("expected disabled history to retain nothing, got %d", h.Len())
	}
	if snap := h.Snapshot(); snap != nil {
		t.Errorf("expected nil snapshot, got %v", snap)
	}
}

func TestHistory_LongSequenceKeepsSuffix(t *testing.T) {
	h := NewHistory(5)

	for i := 0; i < 100; i++ {
		h.Append([]byte(fmt.Sprintf("line-%d", i)))
	}

	snap := h.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(snap))
	}
	for i := 0; i < 5; i++ {
		want := fmt.Sprintf("line-%d", 95+i)
		if string(snap[i]) != want {
			t.Errorf("snap[%d] = %q, want %q", i, snap[i], want)
		}
	}
}
