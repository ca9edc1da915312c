package ingester

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheStore is an in-memory eventcache.Store and planner.ScheduleStore for
// tests.
type cacheStore struct {
	kv    map[string]string
	sets  map[string]map[string]bool
	zsets map[string]map[string]float64
}

func newCacheStore() *cacheStore {
	return &cacheStore{
		kv:    make(map[string]string),
		sets:  make(map[string]map[string]bool),
		zsets: make(map[string]map[string]float64),
	}
}

func (f *cacheStore) Get(ctx context.Context, key string) *redis.StringCmd {
	if v, ok := f.kv[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *cacheStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.kv[key] = string(v)
	case string:
		f.kv[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *cacheStore) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	set := f.sets[key]
	if set == nil {
		set = make(map[string]bool)
		f.sets[key] = set
	}
	for _, m := range members {
		set[m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *cacheStore) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	var removed int64
	for _, m := range members {
		if f.sets[key][m.(string)] {
			delete(f.sets[key], m.(string))
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *cacheStore) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	var members []string
	for m := range f.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return redis.NewStringSliceResult(members, nil)
}

func (f *cacheStore) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	zset := f.zsets[key]
	if zset == nil {
		zset = make(map[string]float64)
		f.zsets[key] = zset
	}
	for _, z := range members {
		zset[z.Member.(string)] = z.Score
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *cacheStore) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	var removed int64
	for _, m := range members {
		if _, ok := f.zsets[key][m.(string)]; ok {
			delete(f.zsets[key], m.(string))
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *cacheStore) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for m, s := range f.zsets[key] {
		entries = append(entries, entry{m, s})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })
	var members []string
	for _, e := range entries {
		members = append(members, e.member)
		if opt != nil && opt.Count > 0 && int64(len(members)) >= opt.Count {
			break
		}
	}
	return redis.NewStringSliceResult(members, nil)
}

func (f *cacheStore) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (f *cacheStore) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := f.kv[key]; ok {
			delete(f.kv, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}
