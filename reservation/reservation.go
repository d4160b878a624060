// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package reservation provides process local leases over outpoints selected for drafts,
// so concurrent requests do not spend the same utxos.
package reservation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	logger "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/chimera/errs"
)

const (
	// DefaultShards defines number of pebble shards when config does not set it.
	DefaultShards = 4
	// DefaultLease defines lease duration when config does not set it.
	DefaultLease = 10 * time.Minute
)

// ErrReserved defines outpoint leased by another request.
var ErrReserved = errors.New("outpoint is reserved")

// Config defines reservation store parameters.
type Config struct {
	Dir    string
	Shards int
	Lease  time.Duration
	FS     vfs.FS // optional, in memory file system for tests.
}

// Store keeps outpoint leases, the value is lease expiry in unix nanoseconds.
type Store struct {
	shards []*pebble.DB
	lease  time.Duration
	now    func() time.Time

	// serializes check and set of leases.
	mu sync.Mutex
}

// Open opens sharded pebble store.
func Open(config Config, now func() time.Time) (*Store, error) {
	if config.Shards <= 0 {
		config.Shards = DefaultShards
	}
	if config.Lease <= 0 {
		config.Lease = DefaultLease
	}
	if now == nil {
		now = time.Now
	}

	store := &Store{
		shards: make([]*pebble.DB, 0, config.Shards),
		lease:  config.Lease,
		now:    now,
	}

	for i := 0; i < config.Shards; i++ {
		db, err := pebble.Open(filepath.Join(config.Dir, fmt.Sprintf("shard_%d", i)), &pebble.Options{
			FS:     config.FS,
			Logger: logger.WithField("component", "reservation"),
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to open shard %d: %w", i, err), store.Close())
		}

		store.shards = append(store.shards, db)
	}

	return store, nil
}

// Close closes all shards.
func (s *Store) Close() error {
	var err error
	for _, db := range s.shards {
		err = errors.Join(err, db.Close())
	}

	return err
}

// Reserve leases outpoints. Fails without leasing anything if any of them holds an active lease.
func (s *Store) Reserve(outpoints ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, outpoint := range outpoints {
		expiry, err := s.expiry(outpoint)
		if err != nil {
			return errs.Wrap(errs.Internal, err)
		}

		if expiry.After(now) {
			return errs.Retryable(errs.InsufficientFunds, fmt.Errorf("%w: %s until %s", ErrReserved, outpoint, expiry.UTC().Format(time.RFC3339)))
		}
	}

	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(now.Add(s.lease).UnixNano()))
	for _, outpoint := range outpoints {
		if err := s.shard(outpoint).Set([]byte(outpoint), value, pebble.Sync); err != nil {
			return errs.Wrap(errs.Internal, err)
		}
	}

	return nil
}

// IsReserved returns true if the outpoint holds an active lease.
func (s *Store) IsReserved(outpoint string) bool {
	expiry, err := s.expiry(outpoint)
	if err != nil {
		logger.WithError(err).WithField("outpoint", outpoint).Warn("could not read reservation")
		return false
	}

	return expiry.After(s.now())
}

// Release drops leases of the outpoints.
func (s *Store) Release(outpoints ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, outpoint := range outpoints {
		if err := s.shard(outpoint).Delete([]byte(outpoint), pebble.Sync); err != nil {
			return errs.Wrap(errs.Internal, err)
		}
	}

	return nil
}

// expiry returns lease expiry of the outpoint, zero time if none.
func (s *Store) expiry(outpoint string) (time.Time, error) {
	value, closer, err := s.shard(outpoint).Get([]byte(outpoint))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return time.Time{}, nil
		}

		return time.Time{}, err
	}
	defer func() { _ = closer.Close() }()

	if len(value) != 8 {
		return time.Time{}, fmt.Errorf("malformed lease of %s", outpoint)
	}

	return time.Unix(0, int64(binary.BigEndian.Uint64(value))), nil
}

func (s *Store) shard(outpoint string) *pebble.DB {
	return s.shards[xxhash.Sum64String(outpoint)%uint64(len(s.shards))]
}
