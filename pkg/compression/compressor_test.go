package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`[{"data":"02/01/2024","valor":"11.75"}]`), 200)

	for _, alg := range Algorithms() {
		t.Run(string(alg), func(t *testing.T) {
			c, err := Get(alg)
			require.NoError(t, err)
			assert.Equal(t, alg, c.Algorithm())

			compressed, err := c.Compress(payload)
			require.NoError(t, err)
			if alg != None {
				assert.Less(t, len(compressed), len(payload))
			}

			out, err := c.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, a)

	a, err = ParseAlgorithm("zstd")
	require.NoError(t, err)
	assert.Equal(t, Zstd, a)

	_, err = ParseAlgorithm("rar")
	assert.Error(t, err)
}

func TestCompressorLevels(t *testing.T) {
	for _, lvl := range []Level{Fastest, Default, Better, Best} {
		c, err := NewCompressor(&Config{Algorithm: Zstd, Level: lvl})
		require.NoError(t, err)
		out, err := c.Compress([]byte("abc"))
		require.NoError(t, err)
		back, err := c.Decompress(out)
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), back)
	}
}
