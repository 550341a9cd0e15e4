package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/haatos/multici/internal"
	"gocloud.dev/blob"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// LogArchive stores the complete log of each finished job.
type LogArchive interface {
	PutJobLog(ctx context.Context, runID, job string, data []byte) error
	GetJobLog(ctx context.Context, runID, job string) ([]byte, error)
}

type BlobLogArchive struct {
	bucket *blob.Bucket
}

// OpenLogArchive opens the bucket at url, for example
// file:///var/lib/multici/logs or mem://.
func OpenLogArchive(ctx context.Context, url string) (*BlobLogArchive, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("error opening log archive %s: %w", url, err)
	}
	return &BlobLogArchive{bucket: bucket}, nil
}

func jobLogKey(runID, job string) string {
	return path.Join(internal.LogArchivePrefix, runID, job+".log")
}

func (a *BlobLogArchive) PutJobLog(ctx context.Context, runID, job string, data []byte) error {
	return a.bucket.WriteAll(ctx, jobLogKey(runID, job), data, &blob.WriterOptions{
		ContentType: "text/plain; charset=utf-8",
	})
}

func (a *BlobLogArchive) GetJobLog(ctx context.Context, runID, job string) ([]byte, error) {
	return a.bucket.ReadAll(ctx, jobLogKey(runID, job))
}

// DeleteRun removes every archived log of a run.
func (a *BlobLogArchive) DeleteRun(ctx context.Context, runID string) error {
	iter := a.bucket.List(&blob.ListOptions{Prefix: path.Join(internal.LogArchivePrefix, runID) + "/"})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := a.bucket.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
}

func (a *BlobLogArchive) Close() error {
	return a.bucket.Close()
}
