package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/resilience"
)

// PutResult reports the outcome of a gateway write. When the payload was a
// duplicate, Key is the surviving artifact's key and Written is false.
type PutResult struct {
	Key     string
	Hash    string
	Written bool
}

// Gateway persists artifacts under the layered key namespace with
// at-most-once storage per (destination folder, content hash).
type Gateway struct {
	backend Backend
	locker  Locker
	retry   resilience.RetryConfig
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLocker replaces the default in-process folder lock.
func WithLocker(l Locker) Option {
	return func(g *Gateway) { g.locker = l }
}

// WithRetry sets the retry policy for backend calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *Gateway) { g.retry = cfg }
}

// NewGateway wraps a backend.
func NewGateway(b Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend: b,
		locker:  NewLocalLocker(),
		retry:   resilience.DefaultRetryConfig(),
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "objstore")),
	}
	g.retry.OnRetry = resilience.RetryLogger("objstore", "backend call")
	for _, o := range opts {
		o(g)
	}
	return g
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Init verifies credentials, creates the bucket when missing, enables
// versioning and writes a placeholder under every layer prefix.
func (g *Gateway) Init(ctx context.Context) error {
	if err := g.backend.Ping(ctx); err != nil {
		if eris.Is(err, ErrUnauthorized) {
			return err
		}
		return eris.Wrap(err, "objstore: ping")
	}

	exists, err := resilience.DoVal(ctx, g.retry, g.backend.BucketExists)
	if err != nil {
		return eris.Wrap(err, "objstore: check bucket")
	}
	if !exists {
		if err := resilience.Do(ctx, g.retry, g.backend.CreateBucket); err != nil {
			return eris.Wrap(err, "objstore: create bucket")
		}
		g.log.Info("bucket created")
	}

	if err := resilience.Do(ctx, g.retry, g.backend.EnableVersioning); err != nil {
		return eris.Wrap(err, "objstore: enable versioning")
	}

	for _, layer := range catalog.Layers() {
		key := layer.Prefix() + catalog.PlaceholderName
		err := resilience.Do(ctx, g.retry, func(ctx context.Context) error {
			return g.backend.Put(ctx, key, []byte(" "), string(catalog.ContentText), nil)
		})
		if err != nil {
			return eris.Wrapf(err, "objstore: write placeholder %s", key)
		}
	}
	g.log.Info("bucket initialized", zap.Int("layers", len(catalog.Layers())))
	return nil
}

// Put stores data at key unless an artifact with the same content hash
// already exists anywhere under key's folder.
func (g *Gateway) Put(ctx context.Context, key string, data []byte, prov Provenance) (PutResult, error) {
	if err := prov.Validate(); err != nil {
		return PutResult{}, err
	}
	hash := HashBytes(data)
	folder := catalog.Folder(key)

	unlock, err := g.locker.Lock(ctx, folder)
	if err != nil {
		return PutResult{}, eris.Wrapf(err, "objstore: lock folder %s", folder)
	}
	defer unlock()

	dup, err := g.findDuplicate(ctx, folder, hash)
	if err != nil {
		return PutResult{}, err
	}
	if dup != "" {
		g.log.Warn("duplicate artifact, skipping write",
			zap.String("key", key),
			zap.String("existing", dup),
			zap.String("hash", hash),
		)
		return PutResult{Key: dup, Hash: hash, Written: false}, nil
	}

	prov.FileHash = hash
	if prov.IngestTS.IsZero() {
		prov.IngestTS = g.now().UTC()
	}
	err = resilience.Do(ctx, g.retry, func(ctx context.Context) error {
		return g.backend.Put(ctx, key, data, string(prov.ContentType), prov.Metadata())
	})
	if err != nil {
		return PutResult{}, eris.Wrapf(err, "objstore: put %s", key)
	}
	g.log.Debug("artifact written", zap.String("key", key), zap.Int("bytes", len(data)))
	return PutResult{Key: key, Hash: hash, Written: true}, nil
}

func (g *Gateway) findDuplicate(ctx context.Context, folder, hash string) (string, error) {
	siblings, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) ([]ObjectInfo, error) {
		return g.backend.List(ctx, folder)
	})
	if err != nil {
		return "", eris.Wrapf(err, "objstore: list %s", folder)
	}

	for _, obj := range siblings {
		if isPlaceholder(obj.Key) {
			continue
		}
		h, err := g.hashOf(ctx, obj.Key)
		if err != nil {
			return "", err
		}
		if h == hash {
			return obj.Key, nil
		}
	}
	return "", nil
}

// hashOf prefers the stored hash metadata and falls back to hashing the bytes.
func (g *Gateway) hashOf(ctx context.Context, key string) (string, error) {
	info, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (ObjectInfo, error) {
		return g.backend.Stat(ctx, key)
	})
	if err != nil {
		return "", eris.Wrapf(err, "objstore: stat %s", key)
	}
	if h := info.Metadata[catalog.MetaFileHash]; h != "" {
		return h, nil
	}
	data, _, err := g.get(ctx, key)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// Get returns an artifact's bytes and validated provenance.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, Provenance, error) {
	data, md, err := g.get(ctx, key)
	if err != nil {
		return nil, Provenance{}, err
	}
	prov, err := ParseProvenance(md)
	if err != nil {
		return nil, Provenance{}, eris.Wrapf(err, "objstore: provenance of %s", key)
	}
	return data, prov, nil
}

func (g *Gateway) get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	type object struct {
		data []byte
		md   map[string]string
	}
	obj, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (object, error) {
		data, md, err := g.backend.Get(ctx, key)
		return object{data, md}, err
	})
	if err != nil {
		if eris.Is(err, ErrNotFound) {
			return nil, nil, eris.Wrapf(ErrNotFound, "key %s", key)
		}
		return nil, nil, eris.Wrapf(err, "objstore: get %s", key)
	}
	return obj.data, obj.md, nil
}

// Exists reports whether an object exists at key.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	_, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (ObjectInfo, error) {
		return g.backend.Stat(ctx, key)
	})
	if err == nil {
		return true, nil
	}
	if eris.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, eris.Wrapf(err, "objstore: stat %s", key)
}

// List returns the keys under prefix, placeholders excluded.
func (g *Gateway) List(ctx context.Context, prefix string) ([]string, error) {
	objs, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) ([]ObjectInfo, error) {
		return g.backend.List(ctx, prefix)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "objstore: list %s", prefix)
	}
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		if !isPlaceholder(o.Key) {
			keys = append(keys, o.Key)
		}
	}
	return keys, nil
}

func isPlaceholder(key string) bool {
	return strings.HasSuffix(key, "/"+catalog.PlaceholderName) || key == catalog.PlaceholderName
}
