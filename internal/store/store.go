package store

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrAlreadyExists reports a conditional write that lost to an existing
// record for the same date.
var ErrAlreadyExists = errors.New("store: record already exists")

const keyPrefix = "executions/"

// Store persists one execution record per calendar date. The mere existence
// of a record is the idempotency marker for that date.
type Store struct {
	db *badger.DB
}

func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Has reports whether an execution record exists for the given date.
func (s *Store) Has(date string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(date))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check record %s: %w", date, err)
	}
	return found, nil
}

// PutIfAbsent writes the record for date only when no record exists yet. The
// check and the write share one transaction, so losing a race surfaces as
// ErrAlreadyExists rather than a silent overwrite.
func (s *Store) PutIfAbsent(date string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key(date))
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key(date), value)
	})
	if errors.Is(err, ErrAlreadyExists) {
		return err
	}
	if err != nil {
		return fmt.Errorf("write record %s: %w", date, err)
	}
	return nil
}

// Get returns the stored record for date. The second return value is false
// when no record exists.
func (s *Store) Get(date string) ([]byte, bool, error) {
	var value []byte
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(date))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("read record %s: %w", date, err)
	}
	return value, found, nil
}

func key(date string) []byte {
	return []byte(keyPrefix + date)
}
