package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a testify mock of BlobStore.
type MockBlobStore struct {
	mock.Mock
}

// PutObject records the call and returns the configured values.
func (m *MockBlobStore) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	args := m.Called(ctx, path, contentType, r)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

// GetObject records the call and returns the configured values.
func (m *MockBlobStore) GetObject(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1) //nolint:wrapcheck
}
