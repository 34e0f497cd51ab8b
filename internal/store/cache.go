package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DoctorCache holds the serialized doctor list between writes.
// Every entry is tied to a generation that InvalidateDoctors advances, so a list
// read before a write can never be stored after that write's invalidation.
type DoctorCache interface {
	// GetDoctors returns the cached body, whether it was present, and the
	// current generation to pass to SetDoctors on a miss.
	GetDoctors(ctx context.Context) (body []byte, gen int64, ok bool, err error)
	// SetDoctors stores body only if the generation is still gen.
	SetDoctors(ctx context.Context, gen int64, body []byte) error
	InvalidateDoctors(ctx context.Context) error
}

// RedisDoctorCache stores the doctor list under a single key with a TTL and
// its generation counter under <key>:gen.
type RedisDoctorCache struct {
	client *redis.Client
	key    string
	genKey string
	ttl    time.Duration
}

// NewRedisDoctorCache creates a Redis-backed cache. The TTL bounds staleness
// when doctors are written by something other than this process.
func NewRedisDoctorCache(addr, password, prefix string, ttl time.Duration) (*RedisDoctorCache, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("doctor cache redis addr is required")
	}
	if ttl <= 0 {
		return nil, errors.New("doctor cache requires a positive ttl")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "clinic"
	}
	key := prefix + ":doctors"
	return &RedisDoctorCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		key:    key,
		genKey: key + ":gen",
		ttl:    ttl,
	}, nil
}

func (c *RedisDoctorCache) GetDoctors(ctx context.Context) ([]byte, int64, bool, error) {
	vals, err := c.client.MGet(ctx, c.genKey, c.key).Result()
	if err != nil {
		return nil, 0, false, err
	}
	gen, err := parseGeneration(vals[0])
	if err != nil {
		return nil, 0, false, err
	}
	body, ok := vals[1].(string)
	if !ok {
		return nil, gen, false, nil
	}
	return []byte(body), gen, true, nil
}

func (c *RedisDoctorCache) SetDoctors(ctx context.Context, gen int64, body []byte) error {
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, c.genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key, body, c.ttl)
			return nil
		})
		return err
	}, c.genKey)
	// A concurrent invalidation won; the entry is simply not cached.
	if errors.Is(err, errStaleGeneration) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisDoctorCache) InvalidateDoctors(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	return err
}

func (c *RedisDoctorCache) Close() error {
	return c.client.Close()
}

var errStaleGeneration = errors.New("doctor cache generation changed")

func parseGeneration(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case string:
		gen, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("doctor cache generation %q: %w", v, err)
		}
		return gen, nil
	default:
		return 0, fmt.Errorf("doctor cache generation has type %T", v)
	}
}
