package remotelog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps the log under <prefix>:content with a monotonically
// increasing revision counter under <prefix>:rev.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisBackend creates a backend using keys under prefix.
func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "gittrack"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (r *RedisBackend) key(name string) string {
	return r.prefix + ":" + name
}

func (r *RedisBackend) GetFile(ctx context.Context) (*File, error) {
	vals, err := r.rdb.MGet(ctx, r.key("content"), r.key("rev")).Result()
	if err != nil {
		return nil, mapRedisError(err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, ErrNotFound
	}

	content, _ := vals[0].(string)
	rev, _ := vals[1].(string)
	return &File{Content: []byte(content), Revision: rev}, nil
}

func (r *RedisBackend) PutFile(ctx context.Context, content []byte, revision, message string) (string, error) {
	revKey := r.key("rev")
	var next string

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, revKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == redis.Nil {
			current = ""
		}
		if current != revision {
			return fmt.Errorf("file is at %q but expected %q: %w", current, revision, ErrConflict)
		}

		n := 0
		if current != "" {
			n, err = strconv.Atoi(current)
			if err != nil {
				return fmt.Errorf("corrupt revision %q: %w", current, err)
			}
		}
		next = strconv.Itoa(n + 1)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key("content"), content, 0)
			pipe.Set(ctx, revKey, next, 0)
			pipe.Set(ctx, r.key("message"), message, 0)
			return nil
		})
		return err
	}, revKey)

	if err == redis.TxFailedErr {
		return "", fmt.Errorf("concurrent write: %w", ErrConflict)
	}
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return "", err
		}
		return "", mapRedisError(err)
	}
	return next, nil
}

func (r *RedisBackend) Describe() string {
	return "redis:" + r.key("content")
}

// Ping checks connectivity and authentication.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return mapRedisError(err)
	}
	return nil
}

var authFailureMarkers = []string{"noauth", "wrongpass", "noperm", "invalid password", "invalid username-password"}

func mapRedisError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range authFailureMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	if classify(err) == Network {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
