package snapshot

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"redis-server/internal/store"
)

type fakeUploader struct {
	bucket, key string
	body        []byte
}

func (f *fakeUploader) Upload(ctx context.Context, bucket, key string, r io.Reader) error {
	f.bucket, f.key = bucket, key
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.body = body
	return nil
}

func TestSaveCompressesAndUploads(t *testing.T) {
	dir := t.TempDir()
	s := store.New()
	s.Set("k", []byte("v"), 0)

	uploader := &fakeUploader{}
	sc := New(s, Config{
		Dir:        dir,
		DBFilename: "dump.rdb",
		Codec:      CodecGzip,
		S3Bucket:   "my-bucket",
		S3Prefix:   "snapshots/",
	}, uploader)

	if err := sc.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "dump.rdb")); err != nil {
		t.Fatalf("raw rdb missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dump.rdb.gz")); err != nil {
		t.Fatalf("compressed rdb missing: %v", err)
	}
	if uploader.bucket != "my-bucket" {
		t.Fatalf("got bucket %q", uploader.bucket)
	}
	if uploader.key != "snapshots/dump.rdb.gz" {
		t.Fatalf("got key %q", uploader.key)
	}
	if len(uploader.body) == 0 {
		t.Fatalf("expected non-empty uploaded body")
	}
}

func TestSaveWithoutS3ConfigSkipsUpload(t *testing.T) {
	dir := t.TempDir()
	s := store.New()
	uploader := &fakeUploader{}
	sc := New(s, Config{Dir: dir, DBFilename: "dump.rdb", Codec: CodecZstd}, uploader)

	if err := sc.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if uploader.bucket != "" {
		t.Fatalf("expected no upload, got bucket %q", uploader.bucket)
	}
}
