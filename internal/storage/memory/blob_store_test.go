package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStore_PutObjectReturnsURI(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "job-1/home.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, "memory://job-1/home.png", uri)

	data, ok := store.Object("job-1/home.png")
	require.True(t, ok)
	require.Equal(t, []byte("png-bytes"), data)
	require.Equal(t, 1, store.Len())
}

func TestBlobStore_CopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	src := []byte{1, 2, 3}
	_, err := store.PutObject(context.Background(), "p", "", src)
	require.NoError(t, err)

	src[0] = 99
	data, ok := store.Object("p")
	require.True(t, ok)
	require.Equal(t, byte(1), data[0])
}
