package checkpoint

import (
	"testing"

	"aec-rag-go/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", true, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExtractionRoundTrip(t *testing.T) {
	s := openStore(t)
	ex := provider.Extraction{Text: "Section 3\n\nMix ratio 1:2:4", Hints: []int{0, 11}, ContentType: "text/plain"}

	_, ok, err := s.LoadExtraction("doc-1", "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveExtraction("doc-1", "h1", ex))
	got, ok, err := s.LoadExtraction("doc-1", "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ex, got)

	_, ok, err = s.LoadExtraction("doc-1", "h2")
	require.NoError(t, err)
	assert.False(t, ok, "different content version must miss")
}

func TestForgetDocumentOnlyTouchesThatDocument(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.SaveExtraction("doc-1", "a", provider.Extraction{Text: "a"}))
	require.NoError(t, s.SaveExtraction("doc-1", "b", provider.Extraction{Text: "b"}))
	require.NoError(t, s.SaveExtraction("doc-10", "a", provider.Extraction{Text: "other"}))

	require.NoError(t, s.ForgetDocument("doc-1"))

	_, ok, _ := s.LoadExtraction("doc-1", "a")
	assert.False(t, ok)
	_, ok, _ = s.LoadExtraction("doc-1", "b")
	assert.False(t, ok)
	_, ok, _ = s.LoadExtraction("doc-10", "a")
	assert.True(t, ok)
}

func TestMetadataRoundTrip(t *testing.T) {
	s := openStore(t)
	meta := map[string][]string{"MATERIAL": {"C30 concrete"}, "STANDARD": {"ACI 318"}}

	require.NoError(t, s.SaveMetadata("chunk-hash", meta))
	got, ok, err := s.LoadMetadata("chunk-hash")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, meta, got)

	require.NoError(t, s.SaveMetadata("empty", nil))
	got, ok, err = s.LoadMetadata("empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}
