// Package snapshot schedules periodic background SAVEs, grounded in
// nishisan-dev-n-backup's cron-per-job Scheduler, and optionally
// compresses and uploads the written file. This is a Redis-like
// on-disk SAVE convenience, not part of the wire protocol spec.md
// describes.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/robfig/cron/v3"

	"redis-server/internal/logger"
	"redis-server/internal/rdb"
	"redis-server/internal/store"
)

// Codec selects the on-disk compression format for a written snapshot.
type Codec string

const (
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
)

// Uploader uploads a snapshot file, implemented by S3Uploader in
// production and faked in tests.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, r io.Reader) error
}

// Config bundles the scheduler's knobs.
type Config struct {
	Dir        string
	DBFilename string
	Codec      Codec

	S3Bucket string
	S3Prefix string
}

// Scheduler runs a single cron job that periodically saves the store to
// disk (optionally compressed and uploaded).
type Scheduler struct {
	cfg      Config
	store    *store.Store
	cron     *cron.Cron
	uploader Uploader
}

// New creates a scheduler. uploader may be nil when no S3 bucket is
// configured.
func New(s *store.Store, cfg Config, uploader Uploader) *Scheduler {
	return &Scheduler{cfg: cfg, store: s, uploader: uploader}
}

// Start registers the "@every <interval>" cron job and starts running
// it in the background. The caller stops it via Stop.
func (sc *Scheduler) Start(everySpec string) error {
	c := cron.New()
	if _, err := c.AddFunc(everySpec, sc.runOnce); err != nil {
		return fmt.Errorf("snapshot: schedule %q: %w", everySpec, err)
	}
	sc.cron = c
	c.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (sc *Scheduler) Stop() {
	if sc.cron != nil {
		ctx := sc.cron.Stop()
		<-ctx.Done()
	}
}

func (sc *Scheduler) runOnce() {
	if err := sc.Save(context.Background()); err != nil {
		logger.Error("snapshot: scheduled save failed: %v", err)
	}
}

// Save writes the store to <dir>/<dbfilename>, compresses it per the
// configured codec, and uploads it if an Uploader is configured. A
// failed background save is logged and does not crash the server; the
// next scheduled run retries.
func (sc *Scheduler) Save(ctx context.Context) error {
	if sc.cfg.Dir == "" || sc.cfg.DBFilename == "" {
		return fmt.Errorf("snapshot: dir/dbFilename not configured")
	}
	path := sc.cfg.Dir + string(os.PathSeparator) + sc.cfg.DBFilename
	if err := rdb.Save(path, sc.store); err != nil {
		return fmt.Errorf("snapshot: rdb save: %w", err)
	}

	compressedPath, err := sc.compress(path)
	if err != nil {
		return fmt.Errorf("snapshot: compress: %w", err)
	}
	logger.Info("snapshot: wrote %s", compressedPath)

	if sc.uploader != nil && sc.cfg.S3Bucket != "" {
		f, err := os.Open(compressedPath)
		if err != nil {
			return fmt.Errorf("snapshot: open for upload: %w", err)
		}
		defer f.Close()
		key := sc.cfg.S3Prefix + fileBase(compressedPath)
		if err := sc.uploader.Upload(ctx, sc.cfg.S3Bucket, key, f); err != nil {
			return fmt.Errorf("snapshot: upload: %w", err)
		}
		logger.Info("snapshot: uploaded to s3://%s/%s", sc.cfg.S3Bucket, key)
	}
	return nil
}

// compress reads the raw RDB file at path and writes a codec-compressed
// copy alongside it, returning the compressed file's path. gzip uses
// klauspost/pgzip for parallel compression; zstd uses
// klauspost/compress/zstd.
func (sc *Scheduler) compress(path string) (string, error) {
	codec := sc.cfg.Codec
	if codec == "" {
		codec = CodecZstd
	}

	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	ext := ".zst"
	if codec == CodecGzip {
		ext = ".gz"
	}
	outPath := path + ext
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	switch codec {
	case CodecGzip:
		w := pgzip.NewWriter(out)
		if _, err := io.Copy(w, in); err != nil {
			w.Close()
			return "", err
		}
		if err := w.Close(); err != nil {
			return "", err
		}
	case CodecZstd:
		w, err := zstd.NewWriter(out)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(w, in); err != nil {
			w.Close()
			return "", err
		}
		if err := w.Close(); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown codec %q", codec)
	}
	return outPath, nil
}

func fileBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == os.PathSeparator {
			return path[i+1:]
		}
	}
	return path
}
