package mysqltest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineWriter(t *testing.T) {
	var lines []string
	w := newLineWriter(func(line []byte) {
		lines = append(lines, string(line))
	})

	n, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, []string{"first"}, lines)

	_, err = w.Write([]byte("ond\nthird"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, lines)

	require.NoError(t, w.Close())
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestLineWriterCloseWithoutPartialLine(t *testing.T) {
	calls := 0
	w := newLineWriter(func([]byte) { calls++ })
	_, err := w.Write([]byte("only\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 1, calls)
}
