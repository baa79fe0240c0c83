package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/smy-billing/backend-go/internal/config"
	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/drive"
	"github.com/andresuchdata/smy-billing/backend-go/internal/ingest"
	"github.com/andresuchdata/smy-billing/backend-go/internal/normalize"
	"github.com/andresuchdata/smy-billing/backend-go/internal/repository/postgres"
	"github.com/andresuchdata/smy-billing/backend-go/internal/storage"
	"github.com/andresuchdata/smy-billing/backend-go/pkg/logger"
)

func importCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import order exports from local files, Google Drive or the upload archive",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "file", Aliases: []string{"f"}, Usage: "Local CSV file (repeatable)"},
			&cli.StringFlag{Name: "drive-file-id", Usage: "Google Drive file id"},
			&cli.StringFlag{Name: "drive-folder", Usage: "Google Drive folder path; every CSV in it is imported"},
			&cli.StringFlag{Name: "archive-key", Usage: "Object key of a previously archived upload"},
			&cli.StringFlag{Name: "encoding", Value: cfg.Import.DefaultEncoding, Usage: "auto, shift_jis, utf-8 or euc-jp"},
			&cli.BoolFlag{Name: "overwrite", Usage: "Replace stored orders that are not invoiced yet"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Validate without writing orders"},
			&cli.BoolFlag{Name: "archive", Value: cfg.Storage.Enabled, Usage: "Archive raw files to object storage"},
			&cli.StringFlag{Name: "download-dir", Value: filepath.Join(cfg.App.UploadDir, "downloads")},
		},
		Before: initDB,
		After:  closeDB,
		Action: func(c *cli.Context) error {
			encoding, err := normalize.ParseEncoding(c.String("encoding"))
			if err != nil {
				return err
			}

			paths, err := collectImportFiles(c, cfg)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("nothing to import: pass --file, --drive-file-id, --drive-folder or --archive-key")
			}

			importer, err := newImporter(c, cfg, dbFrom(c))
			if err != nil {
				return err
			}

			opts := ingest.Options{
				Encoding:  encoding,
				Overwrite: c.Bool("overwrite"),
				DryRun:    c.Bool("dry-run"),
			}
			results := make([]*domain.ImportResult, 0, len(paths))
			for _, path := range paths {
				result, err := importer.ImportFile(c.Context, path, opts)
				if err != nil {
					return fmt.Errorf("import %s: %w", path, err)
				}
				logger.Log.Info().
					Str("file", result.FileName).
					Str("batch_id", result.BatchID).
					Int("success", result.Stats.Success).
					Int("error", result.Stats.Error).
					Int("duplicate", result.Stats.Duplicate).
					Msg("Imported file")
				results = append(results, result)
			}
			return printJSON(c, results)
		},
	}
}

func newImporter(c *cli.Context, cfg *config.Config, db *postgres.DB) (*ingest.Importer, error) {
	var opts []ingest.Option
	if c.Bool("archive") && !c.Bool("dry-run") {
		objects, err := storage.NewMinioClient(c.Context, cfg.Storage)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ingest.WithArchiver(storage.NewArchiver(objects)))
	}

	defaultEncoding, err := normalize.ParseEncoding(cfg.Import.DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return ingest.NewImporter(
		postgres.NewMasterRepository(db),
		postgres.NewOrderRepository(db),
		postgres.NewBatchRepository(db),
		ingest.Config{
			MaxFileBytes:    cfg.Import.MaxFileBytes,
			MaxRows:         cfg.Import.MaxRows,
			DefaultEncoding: defaultEncoding,
		},
		opts...,
	), nil
}

// collectImportFiles resolves every source flag to local paths, downloading
// remote files into --download-dir.
func collectImportFiles(c *cli.Context, cfg *config.Config) ([]string, error) {
	paths := append([]string(nil), c.StringSlice("file")...)
	dir := c.String("download-dir")

	if c.String("drive-file-id") != "" || c.String("drive-folder") != "" {
		svc, err := drive.NewService(c.Context, cfg.Drive.CredentialsJSON)
		if err != nil {
			return nil, err
		}
		downloader := drive.NewDownloader(svc, dir)

		if id := c.String("drive-file-id"); id != "" {
			path, err := downloader.DownloadFile(c.Context, id)
			if err != nil {
				return nil, err
			}
			paths = append(paths, path)
		}
		if folder := c.String("drive-folder"); folder != "" {
			folderID, err := svc.FindFolderByPath(c.Context, folder)
			if err != nil {
				return nil, err
			}
			folderPaths, err := downloader.DownloadFolderCSV(c.Context, folderID)
			if err != nil {
				return nil, err
			}
			paths = append(paths, folderPaths...)
		}
	}

	if key := c.String("archive-key"); key != "" {
		objects, err := storage.NewMinioClient(c.Context, cfg.Storage)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, filepath.Base(key))
		if err := objects.DownloadObject(c.Context, key, path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("import file %s: %w", p, err)
		}
	}
	return paths, nil
}

func archivesCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "archives",
		Usage: "List archived uploads in object storage",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prefix", Value: "imports/", Usage: "Key prefix, e.g. imports/<batch_id>/"},
		},
		Action: func(c *cli.Context) error {
			objects, err := storage.NewMinioClient(c.Context, cfg.Storage)
			if err != nil {
				return err
			}
			list, err := objects.ListObjects(c.Context, c.String("prefix"))
			if err != nil {
				return err
			}
			return printJSON(c, list)
		},
	}
}
