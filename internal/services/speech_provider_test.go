package services

import (
	"bytes"
	"strings"
	"testing"
)

func TestSplitTextForSpeechShortTextSingleChunk(t *testing.T) {
	text := "One short sentence."
	chunks := SplitTextForSpeech(text, 4500)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("short text: want one unchanged chunk, got %q", chunks)
	}
}

func TestSplitTextForSpeechRespectsSentenceBoundaries(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence here."
	chunks := SplitTextForSpeech(text, 25)
	if len(chunks) != 3 {
		t.Fatalf("want 3 sentence chunks, got %d: %q", len(chunks), chunks)
	}
	for _, c := range chunks {
		if len(c) > 25 {
			t.Fatalf("chunk exceeds limit: %q (%d chars)", c, len(c))
		}
	}
	if strings.Join(chunks, " ") != text {
		t.Fatalf("chunks lost content: %q", chunks)
	}
}

func TestSplitTextForSpeechBreaksOversizedSentence(t *testing.T) {
	text := "word " + strings.Repeat("another ", 20) + "end."
	chunks := SplitTextForSpeech(text, 40)
	if len(chunks) < 2 {
		t.Fatalf("oversized sentence not split: %q", chunks)
	}
	for _, c := range chunks {
		if len(c) > 40 {
			t.Fatalf("chunk exceeds limit: %q (%d chars)", c, len(c))
		}
	}
	var words, originalWords []string
	for _, c := range chunks {
		words = append(words, strings.Fields(c)...)
	}
	originalWords = strings.Fields(text)
	if len(words) != len(originalWords) {
		t.Fatalf("word count changed: want=%d got=%d", len(originalWords), len(words))
	}
	for i := range words {
		if words[i] != originalWords[i] {
			t.Fatalf("word order changed at %d: want=%q got=%q", i, originalWords[i], words[i])
		}
	}
}

func TestConcatAudioChunksPreservesOrder(t *testing.T) {
	parts := [][]byte{[]byte("aaa"), []byte("bb"), []byte("cccc")}
	got := ConcatAudioChunks(parts)
	if !bytes.Equal(got, []byte("aaabbcccc")) {
		t.Fatalf("concat order wrong: %q", got)
	}

	if got := ConcatAudioChunks(nil); len(got) != 0 {
		t.Fatalf("empty input must produce empty output, got %q", got)
	}
}
