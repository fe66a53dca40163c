// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

// Package sessionstore persists node resume ids in BadgerDB so that a
// restarted daemon can resume its Andesite sessions.
package sessionstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/logging"
)

const keyPrefix = "resume:"

// DefaultTTL bounds how long a saved resume id is offered to a node.
const DefaultTTL = 24 * time.Hour

// Config configures a Store.
type Config struct {
	// Path is the badger directory. Empty opens an in-memory database.
	Path string

	// TTL expires stale entries. Zero uses DefaultTTL.
	TTL time.Duration

	SyncWrites bool
}

// Session is a stored resume id.
type Session struct {
	Node      string    `json:"node"`
	ResumeID  string    `json:"resumeId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is an andesite.TokenStore backed by BadgerDB.
type Store struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

var _ andesite.TokenStore = (*Store)(nil)

// Open opens or creates the database.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.Path == "").
		Dur("ttl", ttl).
		Msg("Session store opened")
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

func sessionKey(node string) []byte {
	return []byte(keyPrefix + node)
}

// LoadResumeID returns the saved id for node, or "" when none is stored.
func (s *Store) LoadResumeID(node string) (string, error) {
	sess, err := s.get(node)
	if err != nil || sess == nil {
		return "", err
	}
	return sess.ResumeID, nil
}

// SaveResumeID stores id for node. An empty id deletes the entry.
func (s *Store) SaveResumeID(node, id string) error {
	if id == "" {
		return s.Delete(node)
	}
	data, err := json.Marshal(Session{Node: node, ResumeID: id, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(sessionKey(node), data).WithTTL(s.ttl))
	})
	if err != nil {
		return fmt.Errorf("save resume id for %s: %w", node, err)
	}
	return nil
}

// Delete removes the entry for node.
func (s *Store) Delete(node string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(sessionKey(node)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete resume id for %s: %w", node, err)
	}
	return nil
}

func (s *Store) get(node string) (*Session, error) {
	var sess *Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(node))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			sess = &Session{}
			return json.Unmarshal(val, sess)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load resume id for %s: %w", node, err)
	}
	return sess, nil
}

// List returns every stored session ordered by node.
func (s *Store) List() ([]Session, error) {
	var out []Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var sess Session
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", strings.TrimPrefix(string(item.Key()), keyPrefix), err)
			}
			out = append(out, sess)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out, nil
}

// GC reclaims value log space. badger.ErrNoRewrite is not an error.
func (s *Store) GC() error {
	if s.db.Opts().InMemory {
		return nil
	}
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("session store gc: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
