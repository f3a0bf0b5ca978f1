package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	state, err := newTestStore(t).Load()
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestFileStore_EmptyFileIsEmpty(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), nil, 0o644))
	state, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestFileStore_CorruptFile(t *testing.T) {
	tests := map[string]string{
		"truncated json": `{"a:b": [{"job_id": "1"`,
		"wrong shape":    `[1, 2, 3]`,
		"duplicate ids":  `{"a:b": [{"job_id": "1"}], "c:d": [{"job_id": "1"}]}`,
		"empty id":       `{"a:b": [{"job_id": ""}]}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			store := newTestStore(t)
			require.NoError(t, os.WriteFile(store.Path(), []byte(content), 0o644))
			_, err := store.Load()
			require.Error(t, err)
			assert.True(t, IsCorrupt(err))
		})
	}
}

func TestFileStore_UnreadableFile(t *testing.T) {
	dir := t.TempDir()
	// A directory in place of the state file cannot be read
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.Mkdir(path, 0o755))

	_, err := NewFileStore(FileStoreConfig{Path: path}).Load()
	require.Error(t, err)
	assert.False(t, IsCorrupt(err))
	var persistence *clustererrors.ErrPersistence
	require.True(t, errors.As(err, &persistence))
	assert.Equal(t, "read", persistence.Op)
}

func TestFileStore_InterruptedWriteKeepsPreviousState(t *testing.T) {
	store := newTestStore(t)
	original := ClusterState{"l40-8:llama8b": {job("l40-8:llama8b", "101", 0)}}
	require.NoError(t, store.Save(original))

	// Simulate a crash after the temporary file is written but before it is renamed
	var tornFiles []string
	store.beforeRename = func(tmpPath string) error {
		tornFiles = append(tornFiles, tmpPath)
		require.NoError(t, os.WriteFile(tmpPath, []byte(`{"l40-8:llama8b": [{"job_`), 0o644))
		return errors.New("crash")
	}
	err := store.Save(ClusterState{})
	require.Error(t, err)
	assert.Len(t, tornFiles, 2, "the write should have been retried")

	store.beforeRename = nil
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, original, loaded)

	// Temporary files are cleaned up after a failed attempt
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_LeftoverTempFileIsIgnored(t *testing.T) {
	store := newTestStore(t)
	original := ClusterState{"a:b": {job("a:b", "1", 0)}}
	require.NoError(t, store.Save(original))
	require.NoError(t, os.WriteFile(store.Path()+".tmp-123", []byte("garbage"), 0o644))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestFileStore_SaveFailsWhenDirectoryUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	// The parent of the state file is a regular file, so it can never be created
	store := NewFileStore(FileStoreConfig{Path: filepath.Join(blocker, "state.json"), RetryAttempts: 1})
	err := store.Save(ClusterState{})
	var persistence *clustererrors.ErrPersistence
	require.True(t, errors.As(err, &persistence))
	assert.Equal(t, "write", persistence.Op)
}
