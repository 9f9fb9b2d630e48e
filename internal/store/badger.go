// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/models"
)

// Key layout. The NUL separator keeps one session's range from matching
// another session whose id shares a prefix.
const (
	prefixSession    = "sess:"
	prefixMeta       = "meta:"
	prefixEvent      = "evt:"
	prefixFlag       = "flag:"
	prefixFlagID     = "flagid:"
	prefixTransition = "tr:"
	keySep           = "\x00"
)

// ErrInvalidSessionID is returned for ids the key layout cannot hold.
var ErrInvalidSessionID = errors.New("session id must be non-empty and must not contain NUL")

// BadgerConfig configures the durable store.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without touching disk (tests, demos).
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	MemTableSize     int64
	ValueLogFileSize int64
	NumCompactors    int
	Compression      bool

	// GCInterval is how often the value log GC loop runs; GCRatio is the
	// discard ratio passed to RunValueLogGC.
	GCInterval time.Duration
	GCRatio    float64
}

// DefaultBadgerConfig returns production defaults rooted at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:             path,
		SyncWrites:       true,
		MemTableSize:     64 << 20,
		ValueLogFileSize: 256 << 20,
		NumCompactors:    2,
		Compression:      true,
		GCInterval:       10 * time.Minute,
		GCRatio:          0.5,
	}
}

// sessionMeta holds per-session counters updated alongside each write.
type sessionMeta struct {
	LatestSequence  uint64 `json:"latest_sequence"`
	FlagCount       uint64 `json:"flag_count"`
	TransitionCount uint64 `json:"transition_count"`
}

// BadgerStore implements Store on BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	config BadgerConfig

	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) the store described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger store: path is required")
	}
	if cfg.NumCompactors < 2 {
		cfg.NumCompactors = 2
	}
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = 0.5
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.NumCompactors = cfg.NumCompactors
	if cfg.MemTableSize > 0 {
		opts.MemTableSize = cfg.MemTableSize
	}
	if cfg.ValueLogFileSize > 0 && !cfg.InMemory {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.Compression {
		opts.Compression = options.Snappy
	}

	// Badger's own logger is noisy; operational events are logged here instead.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Bool("compression", cfg.Compression).
		Msg("Session store opened")

	return &BadgerStore{db: db, config: cfg}, nil
}

func (b *BadgerStore) CreateSession(ctx context.Context, s models.Session) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if s.ID == "" || strings.Contains(s.ID, keySep) {
		return ErrInvalidSessionID
	}

	err := b.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(sessionKey(s.ID))
		if err == nil {
			return fmt.Errorf("%w: %s", models.ErrSessionExists, s.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := putJSON(txn, sessionKey(s.ID), &s); err != nil {
			return err
		}
		return putJSON(txn, metaKey(s.ID), &sessionMeta{})
	})
	return wrapErr("create session", err)
}

func (b *BadgerStore) GetSession(ctx context.Context, id string) (models.Session, error) {
	if err := b.checkOpen(); err != nil {
		return models.Session{}, err
	}

	var s models.Session
	err := b.view(ctx, func(txn *badger.Txn) error {
		return getSession(txn, id, &s)
	})
	return s, wrapErr("get session", err)
}

func (b *BadgerStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []models.Session
	err := b.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSession)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var s models.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}
			out = append(out, s)
		}
		return nil
	})
	return out, wrapErr("list sessions", err)
}

func (b *BadgerStore) AppendEvent(ctx context.Context, ev models.Event) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	err := b.update(ctx, func(txn *badger.Txn) error {
		var s models.Session
		if err := getSession(txn, ev.SessionID, &s); err != nil {
			return err
		}
		var meta sessionMeta
		if err := getJSON(txn, metaKey(ev.SessionID), &meta); err != nil {
			return err
		}
		if ev.Sequence != meta.LatestSequence+1 {
			return fmt.Errorf("%w: session %s expected %d, got %d",
				models.ErrSequenceConflict, ev.SessionID, meta.LatestSequence+1, ev.Sequence)
		}

		if err := putJSON(txn, eventKey(ev.SessionID, ev.Sequence), &ev); err != nil {
			return err
		}
		meta.LatestSequence = ev.Sequence
		if err := putJSON(txn, metaKey(ev.SessionID), &meta); err != nil {
			return err
		}
		s.Touch(ev.ReceivedAt)
		return putJSON(txn, sessionKey(s.ID), &s)
	})
	return wrapErr("append event", err)
}

func (b *BadgerStore) LatestSequence(ctx context.Context, sessionID string) (uint64, error) {
	meta, err := b.meta(ctx, sessionID)
	return meta.LatestSequence, err
}

func (b *BadgerStore) Events(ctx context.Context, sessionID string, from, to uint64) ([]models.Event, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []models.Event
	err := b.view(ctx, func(txn *badger.Txn) error {
		var meta sessionMeta
		if err := getJSON(txn, metaKey(sessionID), &meta); err != nil {
			return err
		}
		if from == 0 {
			from = 1
		}
		if to == 0 || to > meta.LatestSequence {
			to = meta.LatestSequence
		}
		if from > to {
			return nil
		}

		var err error
		out, err = scanEvents(ctx, txn, sessionID, from, to)
		return err
	})
	return out, wrapErr("read events", err)
}

func (b *BadgerStore) Window(ctx context.Context, sessionID string, upTo uint64, size int) ([]models.Event, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []models.Event
	err := b.view(ctx, func(txn *badger.Txn) error {
		var meta sessionMeta
		if err := getJSON(txn, metaKey(sessionID), &meta); err != nil {
			return err
		}
		from, to := windowBounds(meta.LatestSequence, upTo, size)
		if to == 0 {
			return nil
		}

		var err error
		out, err = scanEvents(ctx, txn, sessionID, from, to)
		return err
	})
	return out, wrapErr("read window", err)
}

func (b *BadgerStore) CompareAndSetStatus(ctx context.Context, sessionID string, expected models.SessionStatus, tr models.Transition) (models.Session, error) {
	if err := b.checkOpen(); err != nil {
		return models.Session{}, err
	}

	var s models.Session
	err := b.update(ctx, func(txn *badger.Txn) error {
		if err := getSession(txn, sessionID, &s); err != nil {
			return err
		}
		if s.Status != expected {
			return fmt.Errorf("%w: session %s is %s, expected %s", models.ErrStatusConflict, sessionID, s.Status, expected)
		}
		var meta sessionMeta
		if err := getJSON(txn, metaKey(sessionID), &meta); err != nil {
			return err
		}

		meta.TransitionCount++
		if err := putJSON(txn, indexedKey(prefixTransition, sessionID, meta.TransitionCount), &tr); err != nil {
			return err
		}
		if err := putJSON(txn, metaKey(sessionID), &meta); err != nil {
			return err
		}

		s.Status = tr.To
		s.Touch(tr.At)
		return putJSON(txn, sessionKey(sessionID), &s)
	})
	return s, wrapErr("compare and set status", err)
}

func (b *BadgerStore) Transitions(ctx context.Context, sessionID string) ([]models.Transition, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []models.Transition
	err := b.view(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sessionID)); err != nil {
			return missingSession(err, sessionID)
		}
		return scanPrefix(ctx, txn, prefixTransition+sessionID+keySep, func(val []byte) error {
			var tr models.Transition
			if err := json.Unmarshal(val, &tr); err != nil {
				return fmt.Errorf("unmarshal transition: %w", err)
			}
			out = append(out, tr)
			return nil
		})
	})
	return out, wrapErr("read transitions", err)
}

func (b *BadgerStore) AppendFlags(ctx context.Context, sessionID string, flags []models.Flag) ([]models.Flag, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var added []models.Flag
	err := b.update(ctx, func(txn *badger.Txn) error {
		added = added[:0]
		var meta sessionMeta
		if err := getJSON(txn, metaKey(sessionID), &meta); err != nil {
			return err
		}

		for i := range flags {
			idKey := []byte(prefixFlagID + sessionID + keySep + flags[i].ID)
			_, err := txn.Get(idKey)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			meta.FlagCount++
			if err := putJSON(txn, indexedKey(prefixFlag, sessionID, meta.FlagCount), &flags[i]); err != nil {
				return err
			}
			if err := txn.Set(idKey, nil); err != nil {
				return err
			}
			added = append(added, flags[i])
		}

		if len(added) == 0 {
			return nil
		}
		if err := putJSON(txn, metaKey(sessionID), &meta); err != nil {
			return err
		}
		var s models.Session
		if err := getSession(txn, sessionID, &s); err != nil {
			return err
		}
		s.Touch(latestFlagAt(added))
		return putJSON(txn, sessionKey(sessionID), &s)
	})
	if err != nil {
		return nil, wrapErr("append flags", err)
	}
	return added, nil
}

func (b *BadgerStore) Flags(ctx context.Context, sessionID string) ([]models.Flag, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []models.Flag
	err := b.view(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sessionID)); err != nil {
			return missingSession(err, sessionID)
		}
		return scanPrefix(ctx, txn, prefixFlag+sessionID+keySep, func(val []byte) error {
			var f models.Flag
			if err := json.Unmarshal(val, &f); err != nil {
				return fmt.Errorf("unmarshal flag: %w", err)
			}
			out = append(out, f)
			return nil
		})
	})
	return out, wrapErr("read flags", err)
}

func (b *BadgerStore) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if b.db.IsClosed() {
		return wrapErr("ping", errors.New("database closed"))
	}
	return nil
}

// RunGC runs value log garbage collection until Badger reports nothing left
// to rewrite.
func (b *BadgerStore) RunGC() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if b.config.InMemory {
		return nil
	}
	for {
		err := b.db.RunValueLogGC(b.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close flushes and closes the database.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Str("path", b.config.Path).Msg("Session store closed")
	return nil
}

func (b *BadgerStore) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}
	return nil
}

// update runs fn in a read-write transaction. Badger transactions take no
// context, so ctx is checked before fn starts and again before commit; a caller
// that gave up in between gets its writes discarded.
func (b *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// view runs fn in a read-only transaction once ctx is checked.
func (b *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(fn)
}

func (b *BadgerStore) meta(ctx context.Context, sessionID string) (sessionMeta, error) {
	if err := b.checkOpen(); err != nil {
		return sessionMeta{}, err
	}
	var meta sessionMeta
	err := b.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, metaKey(sessionID), &meta)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		err = fmt.Errorf("%w: %s", models.ErrUnknownSession, sessionID)
	}
	return meta, wrapErr("read meta", err)
}

// GCService runs value log GC on an interval. It implements suture.Service.
type GCService struct {
	store *BadgerStore
}

// NewGCService wraps store for supervision.
func NewGCService(store *BadgerStore) *GCService {
	return &GCService{store: store}
}

// Serve runs until ctx is cancelled.
func (g *GCService) Serve(ctx context.Context) error {
	interval := g.store.config.GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := g.store.RunGC(); err != nil {
				if errors.Is(err, ErrStoreClosed) {
					return err
				}
				logging.Error().Err(err).Msg("Store value log GC failed")
				continue
			}
			logging.Debug().Dur("duration", time.Since(start)).Msg("Store value log GC finished")
		}
	}
}

func (g *GCService) String() string {
	return "store-gc"
}

func sessionKey(id string) []byte {
	return []byte(prefixSession + id)
}

func metaKey(id string) []byte {
	return []byte(prefixMeta + id)
}

// eventKey zero-pads the sequence so lexical order matches numeric order.
func eventKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d", prefixEvent, sessionID, keySep, seq))
}

func indexedKey(prefix, sessionID string, n uint64) []byte {
	key := make([]byte, 0, len(prefix)+len(sessionID)+len(keySep)+8)
	key = append(key, prefix...)
	key = append(key, sessionID...)
	key = append(key, keySep...)
	return binary.BigEndian.AppendUint64(key, n)
}

func getSession(txn *badger.Txn, id string, s *models.Session) error {
	err := getJSON(txn, sessionKey(id), s)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", models.ErrUnknownSession, id)
	}
	return err
}

func missingSession(err error, id string) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", models.ErrUnknownSession, id)
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) && strings.HasPrefix(string(key), prefixMeta) {
			return fmt.Errorf("%w: %s", models.ErrUnknownSession, strings.TrimPrefix(string(key), prefixMeta))
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func putJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func scanEvents(ctx context.Context, txn *badger.Txn, sessionID string, from, to uint64) ([]models.Event, error) {
	out := make([]models.Event, 0, to-from+1)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(prefixEvent + sessionID + keySep)
	for it.Seek(eventKey(sessionID, from)); it.ValidForPrefix(prefix); it.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var ev models.Event
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &ev)
		}); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		if ev.Sequence > to {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

func scanPrefix(ctx context.Context, txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// wrapErr passes domain errors through and reports everything else as
// models.ErrStoreUnavailable so callers can retry.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{
		models.ErrUnknownSession,
		models.ErrSessionExists,
		models.ErrSequenceConflict,
		models.ErrStatusConflict,
		ErrStoreClosed,
		ErrInvalidSessionID,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", models.ErrStoreUnavailable, op, err)
}
