package history

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parley/internal/session"
)

var transcript = []session.Turn{
	{RawPrompt: "Hello", Tokens: []int{2, 10, 11}, Response: "world", Generated: 2, EndedByEOS: true},
	{RawPrompt: "Again", Tokens: []int{10}, Response: "", Generated: 0},
	{RawPrompt: "Stop", Tokens: []int{12, 13}, Response: "partial", Generated: 3, Cancelled: true},
}

func TestNewRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := NewRecord(mem, transcript)
	defer rec.Release()

	assert.EqualValues(t, 3, rec.NumRows())
	assert.EqualValues(t, 7, rec.NumCols())
	assert.True(t, rec.Schema().Equal(Schema()))
}

func TestWriteRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, transcript))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, transcript, got)
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.arrow")
	require.NoError(t, WriteFile(path, transcript[:1]))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := Read(f)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "world", got[0].Response)
}

func TestReadGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not an arrow stream")))
	assert.Error(t, err)
}
