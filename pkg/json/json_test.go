package json

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Worker string `json:"worker"`
	Rows   int64  `json:"rows"`
	Path   string `json:"path"`
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	in := []entry{{Worker: "w1", Rows: 3, Path: "a<b>.arrow"}, {Worker: "w0", Rows: 0}}

	require.NoError(t, WriteFile(path, in))

	var out []entry
	require.NoError(t, ReadFile(path, &out))
	assert.Equal(t, in, out)
}

func TestMarshalIndent(t *testing.T) {
	data, err := MarshalIndent(entry{Worker: "w0", Rows: 1})
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"worker\": \"w0\"")
}
