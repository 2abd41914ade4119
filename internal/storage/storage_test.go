package storage

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/picpaygo/internal/errs"
)

func TestKeys(t *testing.T) {
	id := uuid.Must(uuid.FromString("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))

	require.Equal(t, "raw/6ba7b810-9dad-11d1-80b4-00c04fd430c8/input.jpg", InputKey(id, "image/jpeg"))
	require.Equal(t, "generated/6ba7b810-9dad-11d1-80b4-00c04fd430c8/output.png", OutputKey(id, "image/png"))
}

func TestExt(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":               "jpg",
		"IMAGE/PNG":                "png",
		"image/webp; charset=utf8": "webp",
		"image/heif":               "heic",
		"application/octet-stream": "bin",
		"":                         "bin",
	}
	for in, want := range cases {
		require.Equal(t, want, Ext(in), in)
	}
}

func TestChecksum(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Checksum(nil))
	require.NotEqual(t, Checksum([]byte("a")), Checksum([]byte("b")))
}

func TestMemory_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	src := []byte{1, 2, 3}

	loc, err := m.Put(ctx, "raw-uploads", "raw/x/input.png", src, "image/png")
	require.NoError(t, err)
	src[0] = 9

	data, ct, err := m.Get(ctx, loc)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)
	require.Equal(t, "image/png", ct)

	require.NoError(t, m.Delete(ctx, loc))
	require.NoError(t, m.Delete(ctx, loc))
	_, _, err = m.Get(ctx, loc)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Zero(t, m.Len())
}

func TestNewMinIO_RequiresEndpoint(t *testing.T) {
	_, err := NewMinIO(MinIOConfig{}, zap.NewNop())
	require.Error(t, err)

	m, err := NewMinIO(MinIOConfig{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s"}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, m)
}
