package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

func cacheKeyOf(encryptedPayload []byte) string {
	sum := sha256.Sum256(encryptedPayload)
	return hex.EncodeToString(sum[:])
}

var bucketName = []byte("records")

// L0TTL is the local cache's expiry window; eviction policy is
// expiry-only, no LRU or size cap (spec section 4.E).
const L0TTL = 14 * 24 * time.Hour

// envelope wraps a cached record with the time it was written, so Get
// can enforce L0TTL without a background reaper.
type envelope struct {
	StoredAt time.Time `json:"stored_at"`
	Record   Record    `json:"record"`
}

// LocalCache is the L0 tier: a single embedded bbolt database file,
// keyed by sha256(encrypted_payload) hex. bbolt was chosen over a
// hand-rolled directory-of-files cache because several challenge
// implementations in this codebase's lineage already depend on it for
// exactly this kind of keyed local store.
type LocalCache struct {
	db *bbolt.DB
}

// OpenLocalCache opens (creating if absent) a bbolt database at path.
func OpenLocalCache(path string) (*LocalCache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &LocalCache{db: db}, nil
}

// Close releases the underlying database file.
func (c *LocalCache) Close() error {
	return c.db.Close()
}

// Put writes record under its cache key, stamped with the current time
// for TTL purposes.
func (c *LocalCache) Put(key string, record Record, now time.Time) error {
	env := envelope{StoredAt: now, Record: record}
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), buf)
	})
}

// Get returns the record stored under key, or ok=false if absent or
// expired relative to now.
func (c *LocalCache) Get(key string, now time.Time) (Record, bool) {
	var env envelope
	var found bool
	_ = c.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(bucketName).Get([]byte(key))
		if buf == nil {
			return nil
		}
		if err := json.Unmarshal(buf, &env); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found {
		return Record{}, false
	}
	if now.Sub(env.StoredAt) > L0TTL {
		return Record{}, false
	}
	return env.Record, true
}

// Delete removes key from the cache, tolerating a missing key.
func (c *LocalCache) Delete(key string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// Keys returns every non-expired key currently stored, used by
// sync_cache_to_hub to diff against the hub's current snapshot.
func (c *LocalCache) Keys(now time.Time) []string {
	var keys []string
	_ = c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return nil
			}
			if now.Sub(env.StoredAt) <= L0TTL {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	return keys
}
