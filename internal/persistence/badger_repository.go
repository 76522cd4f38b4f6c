package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"trader-bot/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	return openBadger(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository returns a repository backed by an in-memory BadgerDB.
func NewInMemoryRepository() (StateRepository, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (StateRepository, error) {
	// Badger's own logging would interleave with ours; errors are still returned.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", models.ErrPersistence, err)
	}
	return &badgerRepository{db: db}, nil
}

func (r *badgerRepository) SaveSession(session *models.Session) error {
	return r.put(SessionKey, session)
}

func (r *badgerRepository) LoadSession() (*models.Session, error) {
	var session models.Session
	found, err := r.get(SessionKey, &session)
	if err != nil || !found {
		return nil, err
	}
	return &session, nil
}

func (r *badgerRepository) SaveSettings(settings *models.Settings) error {
	return r.put(SettingsKey, settings)
}

func (r *badgerRepository) LoadSettings() (*models.Settings, error) {
	var settings models.Settings
	found, err := r.get(SettingsKey, &settings)
	if err != nil || !found {
		return nil, err
	}
	return &settings, nil
}

func (r *badgerRepository) ClearSession() error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(SessionKey))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", models.ErrPersistence, SessionKey, err)
	}
	return nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}

func (r *badgerRepository) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", models.ErrPersistence, key, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("%w: save %s: %v", models.ErrPersistence, key, err)
	}
	return nil
}

// get decodes the value under key into v. A missing key reports found=false.
func (r *badgerRepository) get(key string, v interface{}) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("value is empty in database")
			}
			return json.Unmarshal(val, v)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: load %s: %v", models.ErrPersistence, key, err)
	}
	return true, nil
}
