// Package loader implements the cache-then-fetch primitive shared by the coin
// list, coin detail and price history.
package loader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoData is returned when neither the network nor the cache has a value.
	ErrNoData = errors.New("no data available")
	// ErrSuperseded is returned when a newer fetch committed first.
	ErrSuperseded = errors.New("result superseded by a newer fetch")
)

const defaultRevalidateTimeout = 30 * time.Second

// Policy selects how cached and fetched values are combined.
type Policy int

const (
	// CacheFirst serves the cached value when present and fetches only on a miss.
	CacheFirst Policy = iota
	// StaleWhileRevalidate serves the cached value and refreshes it in the
	// background once it is older than MaxAge.
	StaleWhileRevalidate
	// NetworkFirst fetches and falls back to the cached value on failure.
	NetworkFirst
)

func (p Policy) String() string {
	switch p {
	case CacheFirst:
		return "cache_first"
	case StaleWhileRevalidate:
		return "stale_while_revalidate"
	case NetworkFirst:
		return "network_first"
	default:
		return "unknown"
	}
}

// Source tells where a loaded value came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Cache is the persistent store behind a loader.
type Cache interface {
	Read(key string, dst any) bool
	Write(key string, value any)
	Age(key string) (time.Duration, bool)
}

// FetchFunc retrieves a fresh value from the network.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options configures a Loader.
type Options[T any] struct {
	Key    string
	Cache  Cache
	Fetch  FetchFunc[T]
	Policy Policy
	// MaxAge bounds how long a cached value is served without revalidation.
	// Zero revalidates on every stale-while-revalidate load.
	MaxAge time.Duration
	// Valid rejects fetched values that must not replace cached data, such as
	// an empty list. Nil accepts everything.
	Valid func(T) bool
	// RevalidateTimeout bounds background revalidation.
	RevalidateTimeout time.Duration
	Logger            *zap.Logger
}

// Loader combines a cache key with a fetch function under one freshness
// policy. Every fetch gets a sequence number; a result older than the last
// committed one is discarded so a slow response never overwrites a newer one.
type Loader[T any] struct {
	key               string
	cache             Cache
	fetch             FetchFunc[T]
	policy            Policy
	maxAge            time.Duration
	valid             func(T) bool
	revalidateTimeout time.Duration
	logger            *zap.Logger

	seq       atomic.Uint64
	commitMu  sync.Mutex
	committed uint64
	group     singleflight.Group
	wg        sync.WaitGroup
}

// New creates a loader.
func New[T any](opts Options[T]) (*Loader[T], error) {
	if opts.Key == "" {
		return nil, errors.New("loader key is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("loader cache is required")
	}
	if opts.Fetch == nil {
		return nil, errors.New("loader fetch function is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RevalidateTimeout <= 0 {
		opts.RevalidateTimeout = defaultRevalidateTimeout
	}

	return &Loader[T]{
		key:               opts.Key,
		cache:             opts.Cache,
		fetch:             opts.Fetch,
		policy:            opts.Policy,
		maxAge:            opts.MaxAge,
		valid:             opts.Valid,
		revalidateTimeout: opts.RevalidateTimeout,
		logger: opts.Logger.With(
			zap.String("key", opts.Key),
			zap.Stringer("policy", opts.Policy),
		),
	}, nil
}

// Key returns the cache key.
func (l *Loader[T]) Key() string {
	return l.key
}

// Cached returns the cached value without touching the network.
func (l *Loader[T]) Cached() (T, bool) {
	var v T
	if !l.cache.Read(l.key, &v) {
		var zero T
		return zero, false
	}
	return v, true
}

// Load returns a value according to the loader's policy.
func (l *Loader[T]) Load(ctx context.Context) (T, Source, error) {
	switch l.policy {
	case NetworkFirst:
		return l.loadNetworkFirst(ctx)
	case StaleWhileRevalidate:
		if v, ok := l.Cached(); ok {
			if l.isStale() {
				l.revalidateInBackground(ctx)
			}
			return v, SourceCache, nil
		}
		return l.loadFromNetwork(ctx)
	default:
		if v, ok := l.Cached(); ok {
			return v, SourceCache, nil
		}
		return l.loadFromNetwork(ctx)
	}
}

func (l *Loader[T]) loadNetworkFirst(ctx context.Context) (T, Source, error) {
	v, src, err := l.loadFromNetwork(ctx)
	if err == nil {
		return v, src, nil
	}

	l.logger.Warn("fetch failed, falling back to cache", zap.Error(err))
	if cached, ok := l.Cached(); ok {
		return cached, SourceCache, nil
	}

	var zero T
	return zero, "", ErrNoData
}

func (l *Loader[T]) loadFromNetwork(ctx context.Context) (T, Source, error) {
	var out T
	err := l.Revalidate(ctx, func(v T) { out = v })
	if errors.Is(err, ErrSuperseded) {
		// serve what the newer fetch stored
		if cached, found := l.Cached(); found {
			return cached, SourceCache, nil
		}
		var zero T
		return zero, "", ErrNoData
	}
	if err != nil {
		var zero T
		return zero, "", err
	}
	return out, SourceNetwork, nil
}

// Revalidate fetches a fresh value. On success the cache write and apply run
// under the commit lock, in sequence order. Failed, rejected (ErrNoData) and
// out-of-order (ErrSuperseded) results leave the cache untouched.
func (l *Loader[T]) Revalidate(ctx context.Context, apply func(T)) error {
	seq := l.seq.Add(1)

	v, err := l.fetch(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch")
	}
	if l.valid != nil && !l.valid(v) {
		return ErrNoData
	}

	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	if seq < l.committed {
		l.logger.Debug("discarding out-of-order result", zap.Uint64("seq", seq), zap.Uint64("committed", l.committed))
		return ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.committed = seq

	l.cache.Write(l.key, v)
	if apply != nil {
		apply(v)
	}

	return nil
}

func (l *Loader[T]) isStale() bool {
	age, ok := l.cache.Age(l.key)
	if !ok {
		return true
	}
	return age >= l.maxAge
}

// revalidateInBackground refreshes the cache once per key at a time. The
// refresh outlives the caller's request but keeps its values.
func (l *Loader[T]) revalidateInBackground(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_, _, _ = l.group.Do(l.key, func() (any, error) {
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.revalidateTimeout)
			defer cancel()
			if err := l.Revalidate(bg, nil); err != nil {
				l.logger.Debug("background revalidation failed", zap.Error(err))
			}
			return nil, nil
		})
	}()
}

// Wait blocks until background revalidations finish.
func (l *Loader[T]) Wait() {
	l.wg.Wait()
}
