package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bucketdb/pkg/dberrors"
)

func TestZstdRoundTrip(t *testing.T) {
	payload := strings.Repeat(`{"bucket":"BucketId(0x4000000000000001)","info":{"replicas":[]}}`+"\n", 500)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, Zstd)
	require.NoError(t, err)
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, int64(buf.Len()), w.Written())
	assert.Less(t, buf.Len(), len(payload))

	var out bytes.Buffer
	n, err := DecompressZstd(&buf, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, out.String())
}

func TestIdentityWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Identity)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, "hello", buf.String())
	assert.Equal(t, int64(5), w.Written())
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{"": Identity, "none": Identity, "zstd": Zstd} {
		got, err := ParseEncoding(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseEncoding("gzip")
	assert.ErrorIs(t, err, dberrors.ErrInvalidArgument)
}
