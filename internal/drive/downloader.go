package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Source is the part of Service the downloader needs.
type Source interface {
	GetFile(ctx context.Context, fileID string) (*File, error)
	ListFiles(ctx context.Context, folderID string) ([]*File, error)
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
}

// Downloader copies order exports from Drive to a local directory.
type Downloader struct {
	source Source
	dir    string
}

func NewDownloader(source Source, dir string) *Downloader {
	return &Downloader{source: source, dir: dir}
}

// DownloadFile fetches one file and returns its local path. The local name is
// the Drive file name so that import batches record it.
func (d *Downloader) DownloadFile(ctx context.Context, fileID string) (string, error) {
	f, err := d.source.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	return d.fetch(ctx, f)
}

// DownloadFolderCSV downloads every CSV file of a folder, in name order.
func (d *Downloader) DownloadFolderCSV(ctx context.Context, folderID string) ([]string, error) {
	files, err := d.source.ListFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !isCSV(f) {
			continue
		}
		path, err := d.fetch(ctx, f)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (d *Downloader) fetch(ctx context.Context, f *File) (string, error) {
	if d.dir == "" {
		return "", fmt.Errorf("download dir is required")
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	localPath := filepath.Join(d.dir, filepath.Base(f.Name))
	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}
	if err := d.source.DownloadFile(ctx, f.ID, out); err != nil {
		out.Close()
		_ = os.Remove(localPath)
		return "", fmt.Errorf("failed to download %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return localPath, nil
}

func isCSV(f *File) bool {
	return f.MimeType == "text/csv" || strings.EqualFold(filepath.Ext(f.Name), ".csv")
}
