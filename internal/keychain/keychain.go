// Package keychain stores the enrichment API credential in a local BoltDB
// file. Each service is a bucket and each account a key inside it.
package keychain

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/comigor/chatvault/internal/config"
)

// ErrNotFound is returned by Get when no credential is stored.
var ErrNotFound = errors.New("credential not found")

// Store is one credential slot. The database is opened per call so that
// concurrent CLI invocations do not hold the file lock between operations.
type Store struct {
	path    string
	service string
	account string
}

func New(cfg config.KeychainConfig) *Store {
	return &Store{path: cfg.Path, service: cfg.Service, account: cfg.Account}
}

func (s *Store) open() (*bolt.DB, error) {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	return bolt.Open(s.path, 0o600, &bolt.Options{Timeout: time.Second})
}

// Get returns the stored secret or ErrNotFound.
func (s *Store) Get() (string, error) {
	db, err := s.open()
	if err != nil {
		return "", err
	}
	defer func() { _ = db.Close() }()

	var secret string
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.service))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(s.account))
		if len(v) == 0 {
			return ErrNotFound
		}
		secret = string(v)
		return nil
	})
	return secret, err
}

// Set stores secret, replacing any previous value. Surrounding whitespace is
// trimmed; an empty secret is rejected.
func (s *Store) Set(secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("credential is empty")
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(s.service))
		if err != nil {
			return err
		}
		return b.Put([]byte(s.account), []byte(secret))
	})
}

// Delete removes the stored secret. Deleting a missing secret is not an error.
func (s *Store) Delete() error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.service))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(s.account))
	})
}
