package texttotext

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLine(t *testing.T) {
	t.Parallel()
	example := Example{
		Src:      "  [user] hi\nthere  ",
		Tgt:      "[state]  none",
		DialogID: "1_00000",
		Turn:     3,
		Frame:    1,
	}
	assert.Equal(t, "[user] hi there\t[state] none\t1_00000\t3\t1", example.Line())
}

func TestWriteTSV(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "train.tsv")
	examples := []Example{
		{Src: "a", Tgt: "b", DialogID: "d1"},
		{Src: "c", Tgt: "d", DialogID: "d2", Turn: 1},
	}
	require.NoError(t, WriteTSV(examples, path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(Header, "\t"), lines[0])
	assert.Equal(t, "a\tb\td1\t0\t0", lines[1])
	assert.Equal(t, "c\td\td2\t1\t0", lines[2])
}

func TestWriteTSV_Empty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty.tsv")
	require.NoError(t, WriteTSV(nil, path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}
