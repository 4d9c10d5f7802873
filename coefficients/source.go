package coefficients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/niuyj2008/performance-commission-system/logger"
	"github.com/redis/go-redis/v9"
)

// ErrNoDocument is returned by a Source that holds no document yet.
var ErrNoDocument = errors.New("no configuration document stored")

// Source loads and stores the coefficient document.
type Source interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// =============================================================================
// MEMORY SOURCE
// =============================================================================

type MemorySource struct {
	mu  sync.Mutex
	doc *Document
}

// NewMemorySource starts with doc, or empty when doc is nil.
func NewMemorySource(doc *Document) *MemorySource {
	m := &MemorySource{}
	if doc != nil {
		m.doc = doc.Clone()
	}
	return m
}

func (m *MemorySource) Load(_ context.Context) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, ErrNoDocument
	}
	return m.doc.Clone(), nil
}

func (m *MemorySource) Save(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Clone()
	return nil
}

// =============================================================================
// FILE SOURCE - YAML or JSON on disk
// =============================================================================

// FileSource reads the document from Path; the extension picks the format.
type FileSource struct {
	Path string
}

func (f FileSource) Load(_ context.Context) (*Document, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return Decode(data, FormatFor(f.Path))
}

func (f FileSource) Save(_ context.Context, doc *Document) error {
	data, err := Encode(doc, FormatFor(f.Path))
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, f.Path)
}

// =============================================================================
// BLOB SOURCE - Document stored as JSON by a database
// =============================================================================

// BlobStore persists named documents. store/sqlstore implements it.
type BlobStore interface {
	LoadDocument(ctx context.Context, name string) (data []byte, found bool, err error)
	SaveDocument(ctx context.Context, name string, data []byte) error
}

// BlobSource keeps the document in a BlobStore under Name.
type BlobSource struct {
	Store BlobStore
	Name  string
}

func (b BlobSource) Load(ctx context.Context) (*Document, error) {
	data, found, err := b.Store.LoadDocument(ctx, b.Name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoDocument
	}
	return Decode(data, FormatJSON)
}

func (b BlobSource) Save(ctx context.Context, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.Store.SaveDocument(ctx, b.Name, data)
}

// =============================================================================
// REDIS CACHE - Shared cache in front of another source
// =============================================================================

// RedisCache caches the document in Redis and announces changes on Channel
// so every server process can drop its snapshot.
//
// The cached entry is a hash holding the document and its version. Writes go
// through storeScript, which never replaces a newer version, so a slow
// cache fill of a superseded document cannot undo a Save.
type RedisCache struct {
	Client  *redis.Client
	Inner   Source
	Key     string
	Channel string
	TTL     time.Duration
}

// storeScript sets KEYS[1] to {version: ARGV[1], doc: ARGV[2]} unless the
// stored version is newer. ARGV[4] = "1" also replaces an equal version.
// ARGV[3] is the TTL in milliseconds, 0 for none. Returns 1 when written.
var storeScript = redis.NewScript(`
local stored = tonumber(redis.call('HGET', KEYS[1], 'version'))
local incoming = tonumber(ARGV[1])
if stored and (stored > incoming or (stored == incoming and ARGV[4] ~= '1')) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'doc', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// NewRedisCache wraps inner with the default key, channel and TTL.
func NewRedisCache(client *redis.Client, inner Source) *RedisCache {
	return &RedisCache{
		Client:  client,
		Inner:   inner,
		Key:     "commission:coefficients:doc",
		Channel: "commission:coefficients:changed",
		TTL:     time.Hour,
	}
}

// Load prefers the cached copy; Redis failures fall through to Inner.
func (r *RedisCache) Load(ctx context.Context) (*Document, error) {
	data, err := r.Client.HGet(ctx, r.Key, "doc").Bytes()
	switch {
	case err == nil:
		doc, decodeErr := Decode(data, FormatJSON)
		if decodeErr == nil {
			return doc, nil
		}
		logger.Warn(ctx, "discarding undecodable cached configuration", "error", decodeErr)
	case errors.Is(err, redis.Nil):
	default:
		logger.Warn(ctx, "redis unavailable, reading configuration from source", "error", err)
	}

	doc, err := r.Inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.store(ctx, doc, false); err != nil {
		logger.Warn(ctx, "failed to cache configuration", "error", err)
	}
	return doc, nil
}

// Save writes through to Inner, caches the new document and notifies peers.
func (r *RedisCache) Save(ctx context.Context, doc *Document) error {
	if err := r.Inner.Save(ctx, doc); err != nil {
		return err
	}
	if _, err := r.store(ctx, doc, true); err != nil {
		logger.Warn(ctx, "failed to cache configuration, dropping cached copy", "error", err)
		if err := r.Client.Del(ctx, r.Key).Err(); err != nil {
			logger.Warn(ctx, "failed to drop cached configuration", "error", err)
		}
	}
	if err := r.Client.Publish(ctx, r.Channel, doc.Version).Err(); err != nil {
		logger.Warn(ctx, "failed to publish configuration change", "error", err)
	}
	return nil
}

// store caches doc unless Redis already holds a newer version. replaceEqual
// lets a Save overwrite a fill of the same version.
func (r *RedisCache) store(ctx context.Context, doc *Document, replaceEqual bool) (bool, error) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	equal := "0"
	if replaceEqual {
		equal = "1"
	}
	written, err := storeScript.Run(ctx, r.Client, []string{r.Key},
		doc.Version, encoded, r.TTL.Milliseconds(), equal).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

// Subscribe calls onChange for every change notification until ctx ends.
func (r *RedisCache) Subscribe(ctx context.Context, onChange func()) {
	sub := r.Client.Subscribe(ctx, r.Channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Info(ctx, "configuration change announced", "version", msg.Payload)
				onChange()
			}
		}
	}()
}
