// Package redisstore implements storage.SessionStore on Redis so several
// service instances can share upload sessions.
//
// Each session is two keys: <prefix>:meta:<id> holds the session as JSON and
// <prefix>:parts:<id> is a hash of part number to part JSON. State changes
// run under WATCH/MULTI so a part can never be recorded on a session that has
// already moved to COMPLETING.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/storage"
)

const maxTxAttempts = 64

// Store is a Redis-backed storage.SessionStore.
type Store struct {
	rdb    *goredis.Client
	prefix string
	grace  time.Duration
	now    func() time.Time
	log    *logger.Logger
}

var _ storage.SessionStore = (*Store)(nil)

// NewClient creates a go-redis client from cfg. It does not dial.
func NewClient(cfg Config) (*goredis.Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	dialTimeout, _ := time.ParseDuration(cfg.DialTimeout)
	readTimeout, _ := time.ParseDuration(cfg.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cfg.WriteTimeout)

	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}), nil
}

// Open builds a client from cfg and wraps it in a Store.
func Open(cfg Config, log *logger.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	rdb, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	log.Info("redis session store created", logger.Fields(
		"addr", cfg.Addr,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	))
	return New(rdb, cfg, log), nil
}

// New wraps an existing client. Only KeyPrefix and TTLGrace are read from cfg.
func New(rdb *goredis.Client, cfg Config, log *logger.Logger) *Store {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		rdb:    rdb,
		prefix: cfg.KeyPrefix,
		grace:  cfg.grace(),
		now:    time.Now,
		log:    log.WithComponent("redisstore"),
	}
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) metaKey(id string) string  { return s.prefix + ":meta:" + id }
func (s *Store) partsKey(id string) string { return s.prefix + ":parts:" + id }

// ttl keeps keys until the session expires plus the grace period.
func (s *Store) ttl(sess *storage.Session) time.Duration {
	d := sess.ExpiresAt.Sub(s.now()) + s.grace
	if d < s.grace {
		d = s.grace
	}
	return d
}

func (s *Store) Create(ctx context.Context, sess *storage.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redisstore: encode session: %w", err)
	}
	ttl := s.ttl(sess)
	ok, err := s.rdb.SetNX(ctx, s.metaKey(sess.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("redisstore: create %s: %w", sess.ID, err)
	}
	if !ok {
		return storage.ErrSessionExists
	}
	if len(sess.Parts) == 0 {
		return nil
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, p := range sess.Parts {
			raw, err := json.Marshal(p)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, s.partsKey(sess.ID), strconv.Itoa(p.Number), raw)
		}
		pipe.Expire(ctx, s.partsKey(sess.ID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: create %s parts: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Session, error) {
	var meta *goredis.StringCmd
	var parts *goredis.MapStringStringCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		meta = pipe.Get(ctx, s.metaKey(id))
		parts = pipe.HGetAll(ctx, s.partsKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redisstore: get %s: %w", id, err)
	}
	return decode(id, meta, parts)
}

func (s *Store) PutPart(ctx context.Context, id string, p storage.Part) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redisstore: encode part: %w", err)
	}
	return s.watch(ctx, id, func(tx *goredis.Tx) error {
		sess, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if sess.State != storage.StateOpen {
			return storage.ErrStateConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, s.partsKey(id), strconv.Itoa(p.Number), raw)
			pipe.Expire(ctx, s.partsKey(id), s.ttl(sess))
			return nil
		})
		return err
	}, s.metaKey(id))
}

// Transition watches the parts hash as well as the session so a part
// recorded between the check and the write forces a retry.
func (s *Store) Transition(ctx context.Context, id string, from, to storage.SessionState, check func(*storage.Session) error) (*storage.Session, error) {
	var out *storage.Session
	err := s.watch(ctx, id, func(tx *goredis.Tx) error {
		sess, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if sess.State != from {
			return storage.ErrStateConflict
		}
		if check != nil {
			if err := check(sess.Clone()); err != nil {
				return err
			}
		}
		sess.State = to
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("redisstore: encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.metaKey(id), data, goredis.KeepTTL)
			return nil
		})
		if err == nil {
			out = sess
		}
		return err
	}, s.metaKey(id), s.partsKey(id))
	return out, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.metaKey(id), s.partsKey(id)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", id, err)
	}
	return nil
}

// List scans for session keys. Sessions deleted mid-scan are skipped.
func (s *Store) List(ctx context.Context) ([]*storage.Session, error) {
	pattern := s.metaKey("*")
	metaPrefix := s.metaKey("")
	var out []*storage.Session
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), metaPrefix)
		sess, err := s.Get(ctx, id)
		if errors.Is(err, storage.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisstore: scan sessions: %w", err)
	}
	return out, nil
}

// watch runs fn in an optimistic transaction over keys, retrying when another
// client touched a watched key first.
func (s *Store) watch(ctx context.Context, id string, fn func(*goredis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Millisecond):
		}
	}
	s.log.Warn("transaction retries exhausted", logger.Fields(logger.FieldSessionID, id))
	return fmt.Errorf("redisstore: session %s: too much contention", id)
}

type reader interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

func (s *Store) load(ctx context.Context, r reader, id string) (*storage.Session, error) {
	return decode(id, r.Get(ctx, s.metaKey(id)), r.HGetAll(ctx, s.partsKey(id)))
}

func decode(id string, meta *goredis.StringCmd, parts *goredis.MapStringStringCmd) (*storage.Session, error) {
	raw, err := meta.Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: read %s: %w", id, err)
	}
	var sess storage.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("redisstore: decode %s: %w", id, err)
	}
	fields, err := parts.Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: read %s parts: %w", id, err)
	}
	sess.Parts = make(map[int]storage.Part, len(fields))
	for _, v := range fields {
		var p storage.Part
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("redisstore: decode %s part: %w", id, err)
		}
		sess.Parts[p.Number] = p
	}
	return &sess, nil
}
