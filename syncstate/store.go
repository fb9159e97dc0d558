package syncstate

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/asdine/storm"
	"github.com/pkg/errors"
	"github.com/planetdecred/indexerlib/events"
	bolt "go.etcd.io/bbolt"
)

const (
	StateBucketName = "SyncState"
	KeyState        = "state"

	openTimeout = 2 * time.Second
)

// SyncState is the persisted sync baseline of one profile. A nil FirstBlock
// means no baseline has been established yet.
type SyncState struct {
	FirstBlock *int64 `json:"firstBlock"`
}

// PathFunc maps a profile id to the database file holding its state.
type PathFunc func(profileID string) string

// Store keeps one storm database per profile. Writes are serialized across
// all profiles.
type Store struct {
	mu     sync.Mutex
	pathOf PathFunc
	dbs    map[string]*storm.DB
}

func NewStore(pathOf PathFunc) *Store {
	return &Store{
		pathOf: pathOf,
		dbs:    make(map[string]*storm.DB),
	}
}

// Load returns the state of profileID, creating a record with a null
// baseline if none exists.
func (s *Store) Load(profileID string) (*SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(profileID)
	if err != nil {
		return nil, err
	}

	state := new(SyncState)
	err = db.Get(StateBucketName, KeyState, state)
	if err == nil {
		return state, nil
	}
	if err != storm.ErrNotFound {
		return nil, s.ioError(profileID, errors.Wrap(err, "error reading sync state"))
	}

	log.Warnf("Sync state for %s does not exist, creating", profileID)
	state = &SyncState{}
	if err = db.Set(StateBucketName, KeyState, state); err != nil {
		return nil, s.ioError(profileID, errors.Wrap(err, "error initializing sync state"))
	}
	return state, nil
}

// Save stores state for profileID. Unless force is set, an existing non-null
// baseline is left untouched. The read and the write share one bolt
// transaction so a crash never leaves a partial record.
func (s *Store) Save(profileID string, state SyncState, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(profileID)
	if err != nil {
		return err
	}

	tx, err := db.Begin(true)
	if err != nil {
		return s.ioError(profileID, errors.Wrap(err, "error starting sync state transaction"))
	}
	defer tx.Rollback()

	if !force {
		var current SyncState
		err = tx.Get(StateBucketName, KeyState, &current)
		if err != nil && err != storm.ErrNotFound {
			return s.ioError(profileID, errors.Wrap(err, "error reading sync state"))
		}
		if current.FirstBlock != nil {
			log.Debugf("Keeping baseline %d for %s", *current.FirstBlock, profileID)
			return nil
		}
	}

	if err = tx.Set(StateBucketName, KeyState, &state); err != nil {
		return s.ioError(profileID, errors.Wrap(err, "error writing sync state"))
	}
	if err = tx.Commit(); err != nil {
		return s.ioError(profileID, errors.Wrap(err, "error committing sync state"))
	}

	if state.FirstBlock != nil {
		log.Infof("Sync baseline for %s set to %d", profileID, *state.FirstBlock)
	} else {
		log.Infof("Sync baseline for %s cleared", profileID)
	}
	return nil
}

// Close closes every open profile database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, db := range s.dbs {
		if err := db.Close(); err != nil {
			log.Errorf("state db for %s closed with error: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(s.dbs, id)
	}
	return firstErr
}

// this function requires s.mu locked.
func (s *Store) open(profileID string) (*storm.DB, error) {
	if db, ok := s.dbs[profileID]; ok {
		return db, nil
	}

	dbPath := s.pathOf(profileID)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, s.ioError(profileID, errors.Wrap(err, "error creating state directory"))
	}

	db, err := storm.Open(dbPath, storm.BoltOptions(0600, &bolt.Options{Timeout: openTimeout}))
	if err != nil {
		if err == bolt.ErrTimeout {
			// timeout error occurs if storm fails to acquire a lock on the database file
			return nil, s.ioError(profileID, errors.New("sync state database is in use by another process"))
		}
		return nil, s.ioError(profileID, errors.Wrap(err, "error opening sync state database"))
	}

	s.dbs[profileID] = db
	return db, nil
}

func (s *Store) ioError(profileID string, err error) error {
	log.Error(err)
	return &events.StorageIOError{Path: s.pathOf(profileID), Err: err}
}
