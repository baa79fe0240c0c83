package storage

import "context"

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage captures the S3-compatible operations used for raw import
// archives.
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	DownloadObject(ctx context.Context, key string, destPath string) error
	UploadObject(ctx context.Context, key string, data []byte) error
}

// Archiver stores raw upload payloads under a key.
type Archiver struct {
	store ObjectStorage
}

func NewArchiver(store ObjectStorage) *Archiver {
	return &Archiver{store: store}
}

func (a *Archiver) Archive(ctx context.Context, key string, payload []byte) error {
	return a.store.UploadObject(ctx, key, payload)
}
