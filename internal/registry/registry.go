// Package registry is the durable per-repository bookkeeping store (§4.4).
// It is backed by bbolt, a single-file embedded KV engine — the design
// notes call for "any embedded KV engine" with atomic per-record writes and
// durability across restarts, and nothing in this domain needs a relational
// schema, so bbolt is the natural fit (see cuemby-warren/pkg/storage for the
// same pattern applied to a different set of record types).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openpermissions/chubindex/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var bucketRepositories = []byte("repositories")

// Store is the durable key/value map repo_id -> domain.Repository described
// in §4.4. Every method commits its own bbolt transaction, so a call that
// returns nil has already made its write durable — callers may safely act
// on the result (e.g. reschedule) without further synchronization.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// repositories bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRepositories)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create repositories bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping confirms the bbolt file is still readable. The query server's
// readiness check does not call it, since that process never opens the file.
func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketRepositories) == nil {
			return fmt.Errorf("repositories bucket missing")
		}
		return nil
	})
}

// Get loads a repository record. Returns domain.ErrRepositoryNotFound if
// the id has never been seen.
func (s *Store) Get(id string) (*domain.Repository, error) {
	var rec domain.Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRepositories).Get([]byte(id))
		if raw == nil {
			return domain.ErrRepositoryNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAllIDs returns every repository id known to the registry.
func (s *Store) GetAllIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepositories).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Set persists rec under rec.ID, overwriting any existing record.
func (s *Store) Set(rec *domain.Repository) error {
	return s.put(rec)
}

// Fail increments the repository's consecutive error count and persists it.
// last and next are left untouched, per the invariant in §3.
func (s *Store) Fail(id string) (*domain.Repository, error) {
	rec, err := s.getOrNew(id)
	if err != nil {
		return nil, err
	}
	rec.Errors++
	if err := s.put(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Success resets the error count, advances last to now, sets next (if
// provided), increments the lifetime success counter, and persists.
func (s *Store) Success(id string, next *time.Time) (*domain.Repository, error) {
	rec, err := s.getOrNew(id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec.Errors = 0
	rec.Last = &now
	if next != nil {
		rec.Next = next
	}
	rec.SuccessfulQueries++
	if err := s.put(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RemoteResolver looks up a single repository's metadata from the accounts
// service. Implemented by *accounts.Client; defined here (rather than
// imported) so the registry package does not depend on the accounts
// package, matching the teacher's convention of depending on narrow
// interfaces rather than concrete implementations.
type RemoteResolver interface {
	GetRepository(ctx context.Context, id string) (*domain.Repository, error)
}

// FetchRemote implements the registry.fetch_remote(id) operation from §4.4:
// when open_service is true, it asks the accounts service for a single
// repository and persists whatever it finds. With open_service false it
// signals domain.ErrRepositoryUnknown without ever making a network call.
func (s *Store) FetchRemote(ctx context.Context, id string, resolver RemoteResolver, openService bool) (*domain.Repository, error) {
	if !openService {
		return nil, domain.ErrRepositoryUnknown
	}
	rec, err := resolver.GetRepository(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Set(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) getOrNew(id string) (*domain.Repository, error) {
	rec, err := s.Get(id)
	if err == nil {
		return rec, nil
	}
	if err != domain.ErrRepositoryNotFound {
		return nil, err
	}
	return &domain.Repository{ID: id}, nil
}

func (s *Store) put(rec *domain.Repository) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal repository record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepositories).Put([]byte(rec.ID), raw)
	})
}
