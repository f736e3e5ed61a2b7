package chunking

import (
	"strings"
	"testing"
)

func TestSplitKeepsShortTextWhole(t *testing.T) {
	s := NewSplitter(100, 10)
	got := s.Split("  A135 is paid at $61.15.  ")
	if len(got) != 1 || got[0] != "A135 is paid at $61.15." {
		t.Fatalf("unexpected chunks: %q", got)
	}
	if s.Split("   ") != nil {
		t.Fatalf("expected nil for blank text")
	}
}

func TestSplitPrefersSentenceBoundaries(t *testing.T) {
	text := "ADP contributes 75% of the approved price. The client pays the remaining 25%. Repairs are covered separately."
	got := NewSplitter(60, 0).Split(text)
	if len(got) < 2 {
		t.Fatalf("expected several chunks, got %q", got)
	}
	if got[0] != "ADP contributes 75% of the approved price." {
		t.Fatalf("first chunk should end at the sentence, got %q", got[0])
	}
	if !strings.HasSuffix(got[len(got)-1], "separately.") {
		t.Fatalf("last chunk should reach the end, got %q", got[len(got)-1])
	}
}

func TestSplitOverlapsWindows(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10)
	got := NewSplitter(40, 10).Split(text)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %q", len(got), got)
	}
	if got[0][30:] != got[1][:10] {
		t.Fatalf("expected 10-rune overlap between %q and %q", got[0], got[1])
	}
}

func TestNewSplitterNormalizesSettings(t *testing.T) {
	s := NewSplitter(0, -5)
	if s.ChunkSize != defaultChunkSize || s.Overlap != 0 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	s = NewSplitter(100, 100)
	if s.Overlap != 25 {
		t.Fatalf("overlap should shrink to a quarter, got %d", s.Overlap)
	}
}
