package storage

import (
	"context"
	"errors"
	"testing"
)

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in         string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{"minio:9000", false, "minio:9000", false},
		{"minio:9000", true, "minio:9000", true},
		{"https://s3.example.com/", false, "s3.example.com", true},
		{"http://localhost:9000", true, "localhost:9000", false},
		{"//storage.local", true, "storage.local", true},
	}
	for _, tt := range tests {
		host, secure := splitEndpoint(tt.in, tt.useSSL)
		if host != tt.wantHost || secure != tt.wantSecure {
			t.Errorf("splitEndpoint(%q, %v) = %q, %v; want %q, %v", tt.in, tt.useSSL, host, secure, tt.wantHost, tt.wantSecure)
		}
	}
}

type recordingStorage struct {
	uploads map[string][]byte
	err     error
}

func (r *recordingStorage) ListObjects(context.Context, string) ([]ObjectInfo, error) {
	return nil, nil
}

func (r *recordingStorage) DownloadObject(context.Context, string, string) error {
	return nil
}

func (r *recordingStorage) UploadObject(_ context.Context, key string, data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.uploads[key] = data
	return nil
}

func TestArchiverUploads(t *testing.T) {
	store := &recordingStorage{uploads: map[string][]byte{}}
	a := NewArchiver(store)
	if err := a.Archive(context.Background(), "imports/b1/orders.csv", []byte("x")); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if string(store.uploads["imports/b1/orders.csv"]) != "x" {
		t.Errorf("uploads = %v", store.uploads)
	}

	store.err = errors.New("bucket gone")
	if err := a.Archive(context.Background(), "k", nil); err == nil {
		t.Error("Archive() error = nil, want upload failure")
	}
}
