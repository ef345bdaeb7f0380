package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finwatch-lab/cryptofolio/internal/logger"
	"github.com/finwatch-lab/cryptofolio/internal/types"
	"github.com/finwatch-lab/cryptofolio/pkg/errors"
)

// SnapshotStore persists portfolio snapshots between runs.
type SnapshotStore interface {
	// Load reads the last saved snapshot. A missing file is not an error:
	// it returns an empty snapshot so a fresh install starts clean.
	Load() (types.PortfolioSnapshot, error)
	// Save writes the snapshot, stamping a fresh ID and save time.
	Save(snapshot types.PortfolioSnapshot) error
}

// FileSnapshotStore stores the snapshot as a single JSON document.
// Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated snapshot behind.
type FileSnapshotStore struct {
	path string
	log  *logger.Logger
}

var _ SnapshotStore = (*FileSnapshotStore)(nil)

func NewFileSnapshotStore(path string, log *logger.Logger) *FileSnapshotStore {
	return &FileSnapshotStore{
		path: path,
		log:  log,
	}
}

func (s *FileSnapshotStore) Load() (types.PortfolioSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Info("No snapshot file found, starting with empty portfolio",
				zap.String("path", s.path),
			)

			return types.PortfolioSnapshot{}, nil
		}

		return types.PortfolioSnapshot{}, errors.Wrap(errors.ErrCodeSnapshotLoadFailed, "failed to read snapshot file", err)
	}

	var snapshot types.PortfolioSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return types.PortfolioSnapshot{}, errors.Wrapf(errors.ErrCodeSnapshotLoadFailed, err, "failed to parse snapshot file %s", s.path)
	}

	s.log.Info("Loaded portfolio snapshot",
		zap.String("id", snapshot.ID),
		zap.Time("savedAt", snapshot.SavedAt),
		zap.Int("assets", len(snapshot.Assets)),
	)

	return snapshot, nil
}

func (s *FileSnapshotStore) Save(snapshot types.PortfolioSnapshot) error {
	snapshot.ID = uuid.New().String()
	snapshot.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotSaveFailed, "failed to encode snapshot", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(errors.ErrCodeSnapshotSaveFailed, err, "failed to create snapshot directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotSaveFailed, "failed to create temp snapshot file", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return errors.Wrap(errors.ErrCodeSnapshotSaveFailed, "failed to write temp snapshot file", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return errors.Wrap(errors.ErrCodeSnapshotSaveFailed, "failed to close temp snapshot file", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())

		return errors.Wrapf(errors.ErrCodeSnapshotSaveFailed, err, "failed to replace snapshot file %s", s.path)
	}

	return nil
}
