package replication

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	src := bytes.Repeat([]byte(`{"key":"key-0001","blobId":"b","offset":1048576}`), 64)

	for _, name := range []string{CodecNone, CodecLZ4, CodecSnappy, CodecZstd} {
		t.Run(name, func(t *testing.T) {
			c, err := NewCodec(name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())

			enc, err := c.Encode(src)
			require.NoError(t, err)
			if name != CodecNone {
				assert.Less(t, len(enc), len(src))
			}
			dec, err := c.Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, src, dec)
		})
	}
}

func TestUnknownCodec(t *testing.T) {
	_, err := NewCodec("brotli")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}
