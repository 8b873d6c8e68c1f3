// Package upload defines the media upload collaborator consumed by the
// sync engine. The service behind it is external and opaque.
package upload

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Item is one media attachment to upload.
type Item struct {
	Name        string
	ContentType string
	Data        []byte
}

// Uploader stores media items and returns their public URLs, in input
// order.
type Uploader interface {
	UploadMany(ctx context.Context, items []Item) ([]string, error)
}

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) UploadMany(ctx context.Context, items []Item) ([]string, error) {
	args := m.Called(ctx, items)
	if urls, ok := args.Get(0).([]string); ok {
		return urls, args.Error(1)
	}
	return nil, args.Error(1)
}
