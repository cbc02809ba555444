package cache

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultLockTTL bounds how long a crashed holder blocks a folder.
const DefaultLockTTL = 2 * time.Minute

// FolderLocker serializes gateway writes per destination folder across
// processes sharing a bucket.
type FolderLocker struct {
	rs  *redsync.Redsync
	ttl time.Duration
	log *zap.Logger

	// retryDelay overrides the redsync delay between tries when set.
	retryDelay time.Duration
}

// NewFolderLocker creates a locker over redsync.
func NewFolderLocker(rs *redsync.Redsync, ttl time.Duration) *FolderLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &FolderLocker{rs: rs, ttl: ttl, log: zap.L().With(zap.String("component", "cache.lock"))}
}

// NewRedisFolderLocker creates a locker backed by a go-redis client.
func NewRedisFolderLocker(client redis.UniversalClient, ttl time.Duration) *FolderLocker {
	return NewFolderLocker(redsync.New(goredis.NewPool(client)), ttl)
}

// Lock blocks until the folder lock is held or ctx is done. The lock is
// extended every half TTL until the returned release func is called.
func (l *FolderLocker) Lock(ctx context.Context, folder string) (func(), error) {
	opts := []redsync.Option{
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(math.MaxInt32),
	}
	if l.retryDelay > 0 {
		opts = append(opts, redsync.WithRetryDelay(l.retryDelay))
	}
	mutex := l.rs.NewMutex(KeyPrefix+":lock:"+folder, opts...)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, eris.Wrapf(err, "cache: lock %s", folder)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(mutex, folder, done)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			if _, err := mutex.UnlockContext(context.Background()); err != nil {
				l.log.Warn("failed to release folder lock", zap.String("folder", folder), zap.Error(err))
			}
		})
	}, nil
}

func (l *FolderLocker) keepAlive(mutex *redsync.Mutex, folder string, done <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if ok, err := mutex.ExtendContext(context.Background()); !ok || err != nil {
				l.log.Warn("failed to extend folder lock", zap.String("folder", folder), zap.Error(err))
			}
		}
	}
}
