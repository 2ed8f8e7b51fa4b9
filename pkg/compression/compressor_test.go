package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("segment payload with repeated hit columns "), 200)

	for _, alg := range []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2} {
		t.Run(string(alg), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, &Config{Algorithm: alg, Level: Fastest})
			require.NoError(t, err)
			_, err = w.Write(original)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if alg != None {
				assert.Less(t, buf.Len(), len(original))
			}

			r, err := NewReader(&buf, alg)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, original, got)
		})
	}
}

func TestParse(t *testing.T) {
	alg, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	alg, err = Parse("zstd")
	require.NoError(t, err)
	assert.Equal(t, ".zst", alg.Extension())

	_, err = Parse("brotli")
	assert.Error(t, err)
}
