package extract

import (
	"context"
	"errors"
	"io"
	"testing"

	"aec-rag-go/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTika struct {
	text string
	err  error
	got  string
}

func (f *fakeTika) ExtractText(_ context.Context, r io.Reader, contentType string) (string, error) {
	_, _ = io.ReadAll(r)
	f.got = contentType
	return f.text, f.err
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, TypePDF, ContentTypeFor("specs/Section 03 30 00.PDF"))
	assert.Equal(t, TypeMarkdown, ContentTypeFor("notes/readme.md"))
	assert.Empty(t, ContentTypeFor("model.rvt"))
}

func TestPlainTextHints(t *testing.T) {
	r := NewRouter(nil)
	ex, err := r.Extract(context.Background(), []byte("# Scope\nConcrete work.\n\nSecond para\nstill second.\n## Materials\nPortland cement."), TypeMarkdown)
	require.NoError(t, err)
	require.Len(t, ex.Hints, 3)
	for _, h := range ex.Hints {
		assert.NotEqual(t, byte(' '), ex.Text[h])
	}
	assert.Equal(t, 0, ex.Hints[0])
	assert.Equal(t, "Second para", ex.Text[ex.Hints[1]:ex.Hints[1]+11])
	assert.Equal(t, "## Materials", ex.Text[ex.Hints[2]:ex.Hints[2]+12])
}

func TestPlainTextDecodesLatin1(t *testing.T) {
	r := NewRouter(nil)
	ex, err := r.Extract(context.Background(), []byte{'c', 'a', 'f', 0xe9}, "text/plain; charset=iso-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "café", ex.Text)
}

func TestPlainTextNormalizesToNFC(t *testing.T) {
	r := NewRouter(nil)
	ex, err := r.Extract(context.Background(), []byte("cafe\u0301"), TypeText)
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", ex.Text)
}

func TestFormFeedStartsNewUnit(t *testing.T) {
	r := NewRouter(&fakeTika{text: "Page one text\fPage two text"})
	ex, err := r.Extract(context.Background(), []byte("%PDF"), TypePDF)
	require.NoError(t, err)
	require.Len(t, ex.Hints, 2)
	assert.Equal(t, "Page two text", ex.Text[ex.Hints[1]:])
}

func TestCSVRowsBecomeUnits(t *testing.T) {
	r := NewRouter(nil)
	ex, err := r.Extract(context.Background(), []byte("mark,size,grade\nB1,W12x26,A992\nB2,W14x30,A992\n"), TypeCSV)
	require.NoError(t, err)
	assert.Equal(t, "mark: B1\nsize: W12x26\ngrade: A992\n\nmark: B2\nsize: W14x30\ngrade: A992", ex.Text)
	assert.Equal(t, []int{0, 35}, ex.Hints)
}

func TestJSONArray(t *testing.T) {
	r := NewRouter(nil)
	ex, err := r.Extract(context.Background(), []byte(`["first note", {"b": 2, "a": 1}]`), TypeJSON)
	require.NoError(t, err)
	require.Len(t, ex.Hints, 2)
	assert.Equal(t, "first note", ex.Text[:10])
	assert.Contains(t, ex.Text, "\"a\": 1,\n  \"b\": 2")
}

func TestRemoteFormats(t *testing.T) {
	tika := &fakeTika{text: "\r\nPage one.\r\n\r\nPage two.\r\n"}
	r := NewRouter(tika)
	ex, err := r.Extract(context.Background(), []byte("%PDF"), TypePDF)
	require.NoError(t, err)
	assert.Equal(t, TypePDF, tika.got)
	assert.Equal(t, "Page one.\n\nPage two.", ex.Text)
	assert.Equal(t, []int{0, 11}, ex.Hints)

	tika.err = apperr.NewProviderError("tika", apperr.KindUnavailable, errors.New("503"))
	_, err = r.Extract(context.Background(), []byte("%PDF"), TypePDF)
	assert.True(t, apperr.IsRetryable(err))
}

func TestTerminalFailures(t *testing.T) {
	r := NewRouter(&fakeTika{text: "   "})

	_, err := r.Extract(context.Background(), []byte("x"), "application/x-revit")
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUnsupportedFormat, kind)
	assert.ErrorIs(t, err, apperr.ErrTerminalInput)

	_, err = r.Extract(context.Background(), []byte("x"), TypePDF)
	assert.ErrorIs(t, err, apperr.ErrTerminalInput)

	_, err = r.Extract(context.Background(), []byte("{"), TypeJSON)
	assert.ErrorIs(t, err, apperr.ErrTerminalInput)
}
