package ingest

import (
	"fmt"
	"strings"
	"testing"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	got := ChunkText("hello   world\n\tfoo", 600, 100)
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if got[0] != "hello world foo" {
		t.Errorf("chunk = %q, whitespace should collapse", got[0])
	}
}

func TestChunkText_EmptyInput(t *testing.T) {
	if got := ChunkText("   \n  ", 600, 100); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestChunkText_OverlapSharedBetweenChunks(t *testing.T) {
	got := ChunkText(words(1200), 600, 100)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}

	first := strings.Fields(got[0])
	second := strings.Fields(got[1])
	if len(first) != 600 {
		t.Errorf("first chunk has %d words, want 600", len(first))
	}
	// Second chunk starts at word 500 (600 - 100 overlap).
	if second[0] != "w500" {
		t.Errorf("second chunk starts at %s, want w500", second[0])
	}
	if second[len(second)-1] != "w1199" {
		t.Errorf("second chunk ends at %s, want w1199", second[len(second)-1])
	}
}

func TestChunkText_ShortTailAbsorbed(t *testing.T) {
	// 650 words: the 50-word tail past the first window is shorter than the
	// overlap and must fold into a single chunk.
	got := ChunkText(words(650), 600, 100)
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if n := len(strings.Fields(got[0])); n != 650 {
		t.Errorf("chunk has %d words, want all 650", n)
	}
}

func TestChunkText_DefaultsApplied(t *testing.T) {
	got := ChunkText(words(700), 0, -1)
	if len(got) != 1 {
		// 700 words with the 600/100 defaults: the 100-word tail gets
		// absorbed into the first window.
		t.Fatalf("got %d chunks, want 1", len(got))
	}
}

func TestChunkText_EveryWordRetrievable(t *testing.T) {
	got := ChunkText(words(2000), 600, 100)
	seen := make(map[string]bool)
	for _, chunk := range got {
		for _, w := range strings.Fields(chunk) {
			seen[w] = true
		}
	}
	if len(seen) != 2000 {
		t.Errorf("chunks cover %d distinct words, want 2000", len(seen))
	}
}
