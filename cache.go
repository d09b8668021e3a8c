package redis

import (
	"bytes"
	"container/list"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/coralkv/redis/resp"
)

// CacheConfig configures the opt-in client-side cache.
type CacheConfig struct {
	// MaxEntries bounds the number of cached replies. Least recently used
	// entries are evicted past the bound.
	MaxEntries int
}

// DefaultCacheConfig returns a cache configuration with a moderate bound.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxEntries: 4096}
}

// cacheableCommands maps read-only single-key commands to the position of
// the key in their argument list. Only replies to these commands are
// cached; the key position feeds the invalidation index.
var cacheableCommands = map[string]int{
	"GET":       0,
	"GETRANGE":  0,
	"STRLEN":    0,
	"EXISTS":    0,
	"TTL":       0,
	"PTTL":      0,
	"TYPE":      0,
	"HGET":      0,
	"HGETALL":   0,
	"HKEYS":     0,
	"HVALS":     0,
	"HLEN":      0,
	"HEXISTS":   0,
	"LRANGE":    0,
	"LLEN":      0,
	"LINDEX":    0,
	"SMEMBERS":  0,
	"SCARD":     0,
	"SISMEMBER": 0,
	"ZSCORE":    0,
	"ZCARD":     0,
}

type cacheEntry struct {
	hash  uint64
	frame []byte // encoded command, guards against hash collisions
	key   string // server-side key, for invalidation
	value resp.Value
}

// Cache is an LRU store of command replies keyed by the encoded command
// frame. The server invalidates entries through push messages delivered
// via HandlePush, which requires client tracking to be enabled on the
// connections feeding the cache.
type Cache struct {
	cfg CacheConfig

	mu      sync.Mutex
	enc     resp.Encoder
	order   *list.List // of *cacheEntry, front = most recent
	entries map[uint64]*list.Element
	byKey   map[string]map[uint64]struct{}
}

// NewCache creates a cache. A non-positive MaxEntries falls back to the
// default bound.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	return &Cache{
		cfg:     cfg,
		order:   list.New(),
		entries: make(map[uint64]*list.Element),
		byKey:   make(map[string]map[uint64]struct{}),
	}
}

// Cacheable reports whether a command's reply may be served from cache.
func (c *Cache) Cacheable(name string, args []any) bool {
	pos, ok := cacheableCommands[strings.ToUpper(name)]
	if !ok || len(args) <= pos {
		return false
	}
	_, ok = argKey(args[pos])
	return ok
}

// Lookup returns the cached reply for a command, if present, and marks the
// entry as recently used.
func (c *Cache) Lookup(name string, args []any) (resp.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame, err := c.enc.EncodeCommand(name, args...)
	if err != nil {
		return resp.Value{}, false
	}

	elem, ok := c.entries[xxh3.Hash(frame)]
	if !ok {
		return resp.Value{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if !bytes.Equal(entry.frame, frame) {
		return resp.Value{}, false
	}

	c.order.MoveToFront(elem)
	return entry.value, true
}

// Store caches a reply. The caller must have checked Cacheable first.
func (c *Cache) Store(name string, args []any, value resp.Value) {
	pos := cacheableCommands[strings.ToUpper(name)]
	key, ok := argKey(args[pos])
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	frame, err := c.enc.EncodeCommand(name, args...)
	if err != nil {
		return
	}
	hash := xxh3.Hash(frame)

	if elem, ok := c.entries[hash]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		c.order.MoveToFront(elem)
		return
	}

	entry := &cacheEntry{
		hash:  hash,
		frame: append([]byte(nil), frame...),
		key:   key,
		value: value,
	}
	c.entries[hash] = c.order.PushFront(entry)

	hashes, ok := c.byKey[key]
	if !ok {
		hashes = make(map[uint64]struct{})
		c.byKey[key] = hashes
	}
	hashes[hash] = struct{}{}

	for c.order.Len() > c.cfg.MaxEntries {
		c.evictLocked(c.order.Back())
	}
}

// Invalidate drops all cached replies that depend on a server-side key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(key)
}

// Flush drops every cached reply.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[uint64]*list.Element)
	c.byKey = make(map[string]map[uint64]struct{})
}

// Len returns the number of cached replies.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// HandlePush routes server push frames into the cache. Tracking
// invalidation pushes have the shape ["invalidate", [key, ...]]; a null
// key list means the server flushed everything. Other pushes are ignored.
func (c *Cache) HandlePush(v resp.Value) {
	if len(v.Elems) < 2 || string(v.Elems[0].Bytes) != "invalidate" {
		return
	}

	keys := v.Elems[1]
	if keys.Null {
		c.Flush()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys.Elems {
		c.invalidateLocked(string(k.Bytes))
	}
}

func (c *Cache) invalidateLocked(key string) {
	for hash := range c.byKey[key] {
		if elem, ok := c.entries[hash]; ok {
			c.evictLocked(elem)
		}
	}
	delete(c.byKey, key)
}

func (c *Cache) evictLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.hash)

	if hashes, ok := c.byKey[entry.key]; ok {
		delete(hashes, entry.hash)
		if len(hashes) == 0 {
			delete(c.byKey, entry.key)
		}
	}
}

// argKey extracts the server-side key from a command argument.
func argKey(arg any) (string, bool) {
	switch k := arg.(type) {
	case string:
		return k, true
	case []byte:
		return string(k), true
	default:
		return "", false
	}
}
