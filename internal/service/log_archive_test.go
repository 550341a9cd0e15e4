package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobLogArchive(t *testing.T) {
	t.Run("success - job log stored and read back", func(t *testing.T) {
		// arrange
		ctx := context.Background()
		archive, err := OpenLogArchive(ctx, "mem://")
		require.NoError(t, err)
		defer archive.Close()

		// act
		err = archive.PutJobLog(ctx, "r1", "build", []byte("line 1\nline 2\n"))
		data, readErr := archive.GetJobLog(ctx, "r1", "build")

		// assert
		assert.NoError(t, err)
		assert.NoError(t, readErr)
		assert.Equal(t, "line 1\nline 2\n", string(data))
	})
	t.Run("success - run logs deleted", func(t *testing.T) {
		// arrange
		ctx := context.Background()
		archive, err := OpenLogArchive(ctx, "mem://")
		require.NoError(t, err)
		defer archive.Close()
		require.NoError(t, archive.PutJobLog(ctx, "r1", "a", []byte("a")))
		require.NoError(t, archive.PutJobLog(ctx, "r1", "b", []byte("b")))
		require.NoError(t, archive.PutJobLog(ctx, "r10", "a", []byte("a")))

		// act
		err = archive.DeleteRun(ctx, "r1")

		// assert
		assert.NoError(t, err)
		_, err = archive.GetJobLog(ctx, "r1", "a")
		assert.Error(t, err)
		_, err = archive.GetJobLog(ctx, "r10", "a")
		assert.NoError(t, err)
	})
	t.Run("success - file bucket written under runs prefix", func(t *testing.T) {
		// arrange
		ctx := context.Background()
		dir := t.TempDir()
		archive, err := OpenLogArchive(ctx, "file://"+filepath.ToSlash(dir))
		require.NoError(t, err)
		defer archive.Close()

		// act
		err = archive.PutJobLog(ctx, "r1", "build", []byte("ok"))

		// assert
		assert.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "runs", "r1", "build.log"))
	})
	t.Run("failure - unknown scheme", func(t *testing.T) {
		// act
		_, err := OpenLogArchive(context.Background(), "nope://bucket")

		// assert
		assert.Error(t, err)
	})
}
