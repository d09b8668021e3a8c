package redis

import (
	"context"
	"time"

	"github.com/coralkv/redis/resp"
)

// Querier is a typed convenience layer over Client.Do for the most common
// string commands. Anything beyond these goes through Client.Do directly.
type Querier interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Decrement(ctx context.Context, key string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Ping(ctx context.Context) error
}

func NewQuerier(client *Client) Querier {
	return &querier{
		client: client,
	}
}

type querier struct {
	client *Client
}

// Get retrieves the value of a key. Returns ErrNil if the key does not
// exist.
func (q *querier) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := q.client.Do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if v.Null {
		return nil, ErrNil
	}
	return v.Bytes, nil
}

// Set stores a value for a key with an optional TTL. A zero ttl means no
// expiry.
func (q *querier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var err error
	if ttl > 0 {
		_, err = q.client.Do(ctx, "SET", key, value, "PX", ttl.Milliseconds())
	} else {
		_, err = q.client.Do(ctx, "SET", key, value)
	}
	return err
}

// SetNX stores a value only if the key does not exist. Reports whether the
// value was stored.
func (q *querier) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var v resp.Value
	var err error
	if ttl > 0 {
		v, err = q.client.Do(ctx, "SET", key, value, "PX", ttl.Milliseconds(), "NX")
	} else {
		v, err = q.client.Do(ctx, "SET", key, value, "NX")
	}
	if err != nil {
		return false, err
	}
	return !v.Null, nil
}

// Delete removes keys. Returns the number of keys that existed.
func (q *querier) Delete(ctx context.Context, keys ...string) (int64, error) {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	v, err := q.client.Do(ctx, "DEL", args...)
	if err != nil {
		return 0, err
	}
	return v.Int, nil
}

// Exists reports whether a key exists.
func (q *querier) Exists(ctx context.Context, key string) (bool, error) {
	v, err := q.client.Do(ctx, "EXISTS", key)
	if err != nil {
		return false, err
	}
	return v.Int > 0, nil
}

// Increment increases a numeric value by delta and returns the new value.
func (q *querier) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := q.client.Do(ctx, "INCRBY", key, delta)
	if err != nil {
		return 0, err
	}
	return v.Int, nil
}

// Decrement decreases a numeric value by delta and returns the new value.
func (q *querier) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := q.client.Do(ctx, "DECRBY", key, delta)
	if err != nil {
		return 0, err
	}
	return v.Int, nil
}

// Expire sets a TTL on a key. Reports whether the key exists.
func (q *querier) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	v, err := q.client.Do(ctx, "PEXPIRE", key, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	return v.Int == 1, nil
}

// TTL returns the remaining lifetime of a key. Returns ErrNil for a
// missing key and -1 for a key with no expiry.
func (q *querier) TTL(ctx context.Context, key string) (time.Duration, error) {
	v, err := q.client.Do(ctx, "PTTL", key)
	if err != nil {
		return 0, err
	}
	switch v.Int {
	case -2:
		return 0, ErrNil
	case -1:
		return -1, nil
	}
	return time.Duration(v.Int) * time.Millisecond, nil
}

// Ping checks server liveness through the pool.
func (q *querier) Ping(ctx context.Context) error {
	_, err := q.client.Do(ctx, "PING")
	return err
}
