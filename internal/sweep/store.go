package sweep

import "github.com/san-kum/autosim/internal/storage"

// TrialLog is the per-trial record sink the controller owns while Running.
type TrialLog interface {
	Write(elapsed float64, sample []float64) error
	Path() string
	Records() int
	Close() error
}

// TrialStore creates the log for trial (k, count).
type TrialStore interface {
	Open(k float64, count int) (TrialLog, error)
}

type fileStore struct {
	store *storage.Store
}

// FileStore writes trial logs as files in s.
func FileStore(s *storage.Store) TrialStore {
	return fileStore{store: s}
}

func (f fileStore) Open(k float64, count int) (TrialLog, error) {
	t, err := f.store.Open(k, count)
	if err != nil {
		return nil, err
	}
	return t, nil
}
