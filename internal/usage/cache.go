package usage

import (
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"

	"switchboard/pkg/logging"
)

// Record is the token accounting attached to one assistant response.
type Record struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// DefaultCapacity bounds the total number of sessions tracked.
const DefaultCapacity = 4096

const shardCount = 16

// Cache is a process-wide, bounded mapping from session id to the
// last-seen usage record. Writes are last-write-wins. The mapping is
// sharded by session id so concurrent sessions rarely contend on the
// same lock.
type Cache struct {
	shards [shardCount]*lru.Cache[string, Record]
}

// NewCache creates a cache bounded to roughly capacity entries overall.
// A capacity of zero or less uses DefaultCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	perShard := capacity / shardCount
	if perShard < 1 {
		perShard = 1
	}

	c := &Cache{}
	for i := range c.shards {
		shard, err := lru.New[string, Record](perShard)
		if err != nil {
			// lru.New only fails on non-positive size, which is
			// excluded above.
			logging.Error("UsageCache", err, "Failed to create LRU shard")
			panic(err)
		}
		c.shards[i] = shard
	}
	return c
}

// Put records the usage for a session, replacing any previous record.
func (c *Cache) Put(sessionID string, rec Record) {
	if sessionID == "" {
		return
	}
	c.shard(sessionID).Add(sessionID, rec)
}

// Get returns the last-seen usage for a session.
func (c *Cache) Get(sessionID string) (Record, bool) {
	if sessionID == "" {
		return Record{}, false
	}
	return c.shard(sessionID).Get(sessionID)
}

// Len returns the number of sessions currently tracked.
func (c *Cache) Len() int {
	total := 0
	for _, shard := range c.shards {
		total += shard.Len()
	}
	return total
}

func (c *Cache) shard(sessionID string) *lru.Cache[string, Record] {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return c.shards[h.Sum32()%shardCount]
}

// FromPayload extracts a usage record from a decoded JSON object of shape
// {"usage": {"input_tokens": n, ...}} or a bare usage object. Returns
// false if no usage figures are present.
func FromPayload(obj map[string]interface{}) (Record, bool) {
	if obj == nil {
		return Record{}, false
	}
	if nested, ok := obj["usage"].(map[string]interface{}); ok {
		obj = nested
	}

	rec := Record{
		InputTokens:              intField(obj, "input_tokens"),
		OutputTokens:             intField(obj, "output_tokens"),
		CacheCreationInputTokens: intField(obj, "cache_creation_input_tokens"),
		CacheReadInputTokens:     intField(obj, "cache_read_input_tokens"),
	}
	if rec == (Record{}) {
		return Record{}, false
	}
	return rec, true
}

func intField(obj map[string]interface{}, key string) int {
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
