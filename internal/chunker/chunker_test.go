package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int, prefix string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

// paragraphs 拼接若干段落，返回文本和每段起始的字节偏移。
func paragraphs(sizes ...int) (string, []int) {
	var b strings.Builder
	var hints []int
	for i, size := range sizes {
		if i > 0 {
			b.WriteString("\n\n")
		}
		hints = append(hints, b.Len())
		b.WriteString(words(size, fmt.Sprintf("p%d_", i)))
	}
	return b.String(), hints
}

func newChunker(t *testing.T, max, overlap int) *Chunker {
	t.Helper()
	c, err := New(Options{MaxTokens: max, OverlapTokens: overlap})
	require.NoError(t, err)
	return c
}

func TestSplitWithoutHintsProducesElevenChunks(t *testing.T) {
	c := newChunker(t, 500, 50)
	text := words(5000, "w")

	chunks := c.Split(text, nil)

	require.Len(t, chunks, 11)
	assert.Equal(t, 0, chunks[0].StartToken)
	assert.Equal(t, 5000, chunks[len(chunks)-1].EndToken)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.TokenCount, 500)
		assert.False(t, ch.OversizedSplit)
		assert.Equal(t, ch.TokenCount, CountTokens(ch.Text))
		if i > 0 {
			assert.Equal(t, 50, chunks[i-1].EndToken-ch.StartToken, "chunk %d overlap", i)
		}
	}
	assert.True(t, strings.HasPrefix(chunks[1].Text, "w450 "))
}

func TestSplitIsDeterministic(t *testing.T) {
	c := newChunker(t, 120, 15)
	text, hints := paragraphs(40, 90, 10, 300, 25, 60)

	first := c.Split(text, hints)
	second := c.Split(text, hints)
	assert.Equal(t, first, second)
}

func TestSplitPrefersStructuralBoundaries(t *testing.T) {
	c := newChunker(t, 250, 20)
	text, hints := paragraphs(100, 100, 100, 100, 100, 100, 100, 100, 100, 100)

	chunks := c.Split(text, hints)

	require.Len(t, chunks, 5)
	ends := []int{200, 400, 600, 800, 1000}
	for i, ch := range chunks {
		assert.Equal(t, ends[i], ch.EndToken)
		assert.False(t, ch.OversizedSplit)
		assert.LessOrEqual(t, ch.TokenCount, 250)
	}
	assert.Equal(t, 180, chunks[1].StartToken)
}

func TestSplitForcesOversizedUnit(t *testing.T) {
	c := newChunker(t, 300, 0)
	text, hints := paragraphs(50, 700, 50)

	chunks := c.Split(text, hints)

	require.Len(t, chunks, 4)
	assert.Equal(t, 50, chunks[0].EndToken)
	assert.False(t, chunks[0].OversizedSplit)
	for _, ch := range chunks[1:] {
		assert.True(t, ch.OversizedSplit, "chunk %d", ch.Index)
		assert.LessOrEqual(t, ch.TokenCount, 300)
	}
	assert.Equal(t, 800, chunks[3].EndToken)
}

func TestSplitShrinksOverlapToEndOnBoundary(t *testing.T) {
	c := newChunker(t, 100, 30)
	text, hints := paragraphs(90, 95)

	chunks := c.Split(text, hints)

	require.Len(t, chunks, 2)
	assert.Equal(t, 90, chunks[0].EndToken)
	assert.Equal(t, 185, chunks[1].EndToken)
	assert.Equal(t, 85, chunks[1].StartToken)
}

func TestSplitEmptyText(t *testing.T) {
	c := newChunker(t, 100, 10)
	assert.Nil(t, c.Split("", nil))
	assert.Nil(t, c.Split(" \n\t ", []int{0, 2}))
}

func TestCountTokensCJK(t *testing.T) {
	assert.Equal(t, 4, CountTokens("混凝土 mix"))
	assert.Equal(t, 3, CountTokens("C30  concrete\nslab"))
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(Options{MaxTokens: 0})
	assert.Error(t, err)
	_, err = New(Options{MaxTokens: 100, OverlapTokens: 100})
	assert.Error(t, err)
}
