package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	lru "github.com/hashicorp/golang-lru"
)

const defaultCacheSize = 256

// Pebble is a Store backed by a Pebble LSM tree, with an LRU cache in front
// of the reads.
type Pebble struct {
	db     *pebble.DB
	cache  *lru.Cache
	logger *slog.Logger
}

type pebbleConfig struct {
	inMemory  bool
	cacheSize int
	logger    *slog.Logger
}

type pebbleOption func(pebbleConfig) pebbleConfig

// InMemory keeps the database on an in-memory filesystem.
func InMemory() pebbleOption {
	return func(c pebbleConfig) pebbleConfig {
		c.inMemory = true
		return c
	}
}

// WithCacheSize sets the number of values kept in the read cache.
func WithCacheSize(n int) pebbleOption {
	return func(c pebbleConfig) pebbleConfig {
		c.cacheSize = n
		return c
	}
}

func WithLogger(logger *slog.Logger) pebbleOption {
	return func(c pebbleConfig) pebbleConfig {
		c.logger = logger
		return c
	}
}

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string, opts ...pebbleOption) (*Pebble, error) {
	cfg := pebbleConfig{cacheSize: defaultCacheSize, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	options := &pebble.Options{
		Logger: &pebbleLogger{cfg.logger},
	}
	if cfg.inMemory {
		options.FS = vfs.NewMem()
	}
	db, err := pebble.Open(path, options)
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", path, err)
	}
	cache, err := lru.New(max(cfg.cacheSize, 1))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read cache: %w", err)
	}
	cfg.logger.Debug("pebble store opened", "path", path, "in_memory", cfg.inMemory)
	return &Pebble{db: db, cache: cache, logger: cfg.logger}, nil
}

func (p *Pebble) Put(key string, value []byte) error {
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	p.cache.Add(key, slices.Clone(value))
	return nil
}

func (p *Pebble) Get(key string) ([]byte, error) {
	if v, ok := p.cache.Get(key); ok {
		return slices.Clone(v.([]byte)), nil
	}
	data, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	value := slices.Clone(data)
	p.cache.Add(key, value)
	return slices.Clone(value), nil
}

func (p *Pebble) Delete(key string) error {
	p.cache.Remove(key)
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

func (p *Pebble) Keys(prefix string) ([]string, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (p *Pebble) Close() error {
	p.cache.Purge()
	return p.db.Close()
}

// upperBound returns the smallest key greater than every key with the given
// prefix, or nil when there is none.
func upperBound(prefix []byte) []byte {
	end := slices.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// pebbleLogger adapts slog.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	l *slog.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.l.Info(fmt.Sprintf(format, args...))
}

func (l *pebbleLogger) Errorf(format string, args ...any) {
	l.l.Error(fmt.Sprintf(format, args...))
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.l.Error(fmt.Sprintf(format, args...))
	panic(fmt.Sprintf(format, args...))
}
