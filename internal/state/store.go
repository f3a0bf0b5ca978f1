package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/slurmcompose/internal/common/clustererrors"
)

// Store loads and saves the cluster state.
type Store interface {
	Load() (ClusterState, error)
	Save(state ClusterState) error
}

// ErrCorruptState is returned by Load when the state file exists but cannot be decoded.
// Callers are expected to fall back to the scheduler's live job list.
type ErrCorruptState struct {
	Path  string
	Cause error
}

func (err *ErrCorruptState) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %s", err.Path, err.Cause)
}

func (err *ErrCorruptState) Unwrap() error {
	return err.Cause
}

func IsCorrupt(err error) bool {
	var e *ErrCorruptState
	return errors.As(err, &e)
}

type FileStoreConfig struct {
	Path          string
	RetryAttempts uint
	RetryDelay    time.Duration
}

// FileStore persists the cluster state as JSON. Writes go to a temporary file in the same directory
// that is synced and then renamed over the state file, so a crash leaves either the old or the new
// state and never a partial one.
type FileStore struct {
	config FileStoreConfig
	// Called between writing the temporary file and renaming it; tests use it to simulate crashes.
	beforeRename func(tmpPath string) error
}

func NewFileStore(config FileStoreConfig) *FileStore {
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 100 * time.Millisecond
	}
	return &FileStore{config: config}
}

func (s *FileStore) Path() string {
	return s.config.Path
}

// Load returns the persisted state. A missing file is an empty state; an unreadable file is an
// ErrPersistence; an undecodable file is an ErrCorruptState.
func (s *FileStore) Load() (ClusterState, error) {
	content, err := os.ReadFile(s.config.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return ClusterState{}, nil
		}
		return nil, &clustererrors.ErrPersistence{Path: s.config.Path, Op: "read", Cause: err}
	}
	state := ClusterState{}
	if len(content) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(content, &state); err != nil {
		return nil, &ErrCorruptState{Path: s.config.Path, Cause: err}
	}
	if err := validate(state); err != nil {
		return nil, &ErrCorruptState{Path: s.config.Path, Cause: err}
	}
	for key, jobs := range state {
		for i := range jobs {
			jobs[i].Key = key
		}
	}
	return state, nil
}

func validate(state ClusterState) error {
	seen := map[string]string{}
	for key, jobs := range state {
		for _, job := range jobs {
			if job.JobId == "" {
				return errors.Errorf("job with empty id under %s", key)
			}
			if other, ok := seen[job.JobId]; ok {
				return errors.Errorf("job %s is tracked under both %s and %s", job.JobId, other, key)
			}
			seen[job.JobId] = key
		}
	}
	return nil
}

func (s *FileStore) Save(state ClusterState) error {
	content, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return &clustererrors.ErrPersistence{Path: s.config.Path, Op: "write", Cause: err}
	}
	err = retry.Do(
		func() error {
			return s.writeAtomic(content)
		},
		retry.Attempts(s.config.RetryAttempts),
		retry.Delay(s.config.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Writing state file %s failed (attempt %d)", s.config.Path, n+1)
		}),
	)
	if err != nil {
		return &clustererrors.ErrPersistence{Path: s.config.Path, Op: "write", Cause: err}
	}
	return nil
}

func (s *FileStore) writeAtomic(content []byte) (err error) {
	dir := filepath.Dir(s.config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.config.Path)+".tmp-*")
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return errors.WithStack(err)
	}
	if err = tmp.Sync(); err != nil {
		return errors.WithStack(err)
	}
	if err = tmp.Close(); err != nil {
		return errors.WithStack(err)
	}
	if s.beforeRename != nil {
		if err = s.beforeRename(tmp.Name()); err != nil {
			return err
		}
	}
	if err = os.Rename(tmp.Name(), s.config.Path); err != nil {
		return errors.WithStack(err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.WithStack(err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrapf(err, "error syncing directory %s", dir)
	}
	return nil
}
