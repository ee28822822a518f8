package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-scraper/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/profiles.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://path/profiles.json", uri)

	payload[0] = 'C'
	rc, err := store.GetObject(context.Background(), "path/profiles.json")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
	assert.Equal(t, []string{"path/profiles.json"}, store.Paths())
}

func TestBlobStoreMissingObject(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().GetObject(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = NewBlobStore().PutObject(context.Background(), "", "", bytes.NewReader(nil))
	assert.Error(t, err)
}
