package bus

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := newFrameWriter(&buf)
	rows := [][]string{
		{"http://x/a", "Aaa", ""},
		{"", "", ""},
		{"one"},
	}
	for _, row := range rows {
		require.NoError(t, fw.writeRow(row))
	}
	require.NoError(t, fw.flush())

	fr := newFrameReader(&buf)
	for _, want := range rows {
		got, err := fr.readRow()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := fr.readRow()
	assert.Equal(t, io.EOF, err)
}

func TestFrameReader_ValuesMayContainAnything(t *testing.T) {
	var buf bytes.Buffer
	fw := newFrameWriter(&buf)
	require.NoError(t, fw.writeRow([]string{"tab\tand\nnewline", `quote"`}))
	require.NoError(t, fw.flush())

	fr := newFrameReader(&buf)
	got, err := fr.readRow()
	require.NoError(t, err)
	assert.Equal(t, []string{"tab\tand\nnewline", `quote"`}, got)
}

func TestFrameReader_TruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	fw := newFrameWriter(&buf)
	require.NoError(t, fw.writeRow([]string{"abc"}))
	require.NoError(t, fw.flush())
	data := buf.Bytes()[:buf.Len()-2]

	fr := newFrameReader(bytes.NewReader(data))
	_, err := fr.readRow()
	assert.Error(t, err)
}
