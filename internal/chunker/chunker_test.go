package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"mezada/internal/domain"
)

func TestSplit_Short(t *testing.T) {
	chunks, err := Split("short message", MaxLen)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"short message"}, chunks); diff != "" {
		t.Errorf("unexpected chunks (-want +got):\n%s", diff)
	}
}

func TestSplit_Empty(t *testing.T) {
	chunks, err := Split("", MaxLen)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0] != "" {
		t.Errorf("expected one empty chunk, got %q", chunks)
	}
}

func TestSplit_InvalidMaxLen(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := Split("abc", n); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("maxLen=%d: expected ErrInvalidArgument, got %v", n, err)
		}
	}
}

func TestSplit_ExactBoundary(t *testing.T) {
	text := strings.Repeat("a", MaxLen)
	chunks, _ := Split(text, MaxLen)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk at exact limit, got %d", len(chunks))
	}

	chunks, _ = Split(text+"b", MaxLen)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks just over limit, got %d", len(chunks))
	}
	if chunks[1] != "b" {
		t.Errorf("expected trailing chunk %q, got %q", "b", chunks[1])
	}
}

func TestSplit_Reconstructs(t *testing.T) {
	lengths := []int{0, 1, 7, 1499, 1500, 1501, 2999, 3000, 3001, 4500, 10000}
	for _, l := range lengths {
		text := strings.Repeat("x", l)
		chunks, err := Split(text, MaxLen)
		if err != nil {
			t.Fatal(err)
		}

		want := (l + MaxLen - 1) / MaxLen
		if want < 1 {
			want = 1
		}
		if len(chunks) != want {
			t.Errorf("len=%d: expected %d chunks, got %d", l, want, len(chunks))
		}
		if got := strings.Join(chunks, ""); got != text {
			t.Errorf("len=%d: concatenation does not reconstruct the input", l)
		}
		for i, c := range chunks[:len(chunks)-1] {
			if n := utf8.RuneCountInString(c); n != MaxLen {
				t.Errorf("len=%d: chunk %d has %d chars, want %d", l, i, n, MaxLen)
			}
		}
	}
}

func TestSplit_MultiByte(t *testing.T) {
	text := strings.Repeat("📊é", 5)
	chunks, err := Split(text, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks for 10 runes at maxLen 3, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("multi-byte text not reconstructed")
	}
}

func TestChunks_Numbering(t *testing.T) {
	chunks, err := Chunks(strings.Repeat("y", 3200), MaxLen)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i+1 {
			t.Errorf("chunk %d: index %d", i, c.Index)
		}
		if c.Total != 3 {
			t.Errorf("chunk %d: total %d", i, c.Total)
		}
	}
	if got := chunks[2].Render(); got != strings.Repeat("y", 200)+" (Part 3/3)" {
		t.Errorf("unexpected rendered tail: %q", got[len(got)-20:])
	}
}

func TestChunks_EmptyStillOnePart(t *testing.T) {
	chunks, err := Chunks("", MaxLen)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Render() != " (Part 1/1)" {
		t.Errorf("unexpected chunks for empty text: %+v", chunks)
	}
}
