package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"blogfront/internal/auth/models"
	"blogfront/pkg/platform/sentinel"
)

var loadDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "blogfront_session_load_duration_ms",
	Help:    "Latency of Redis session loads in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// RedisStore persists one browser's session as two string keys. Both keys
// are written and deleted in a single MULTI/EXEC.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	scope  string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires both keys together. Zero keeps them until cleared.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedis constructs a Redis-backed store bound to DefaultScope.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultPrefix,
		scope:  DefaultScope,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithScope returns a store for scope sharing the same client and options.
func (s *RedisStore) WithScope(scope string) *RedisStore {
	cp := *s
	cp.scope = scope
	return &cp
}

func (s *RedisStore) Save(ctx context.Context, token string, user models.User) error {
	userJSON, err := encode(token, user)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(s.prefix, s.scope), token, s.ttl)
		pipe.Set(ctx, userKey(s.prefix, s.scope), userJSON, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*models.Session, error) {
	start := time.Now()
	defer func() {
		loadDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	vals, err := s.client.MGet(ctx, tokenKey(s.prefix, s.scope), userKey(s.prefix, s.scope)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load session: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	if len(vals) != 2 {
		return nil, nil
	}
	token, _ := vals[0].(string)
	userJSON, _ := vals[1].(string)
	return decode(token, userJSON), nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tokenKey(s.prefix, s.scope), userKey(s.prefix, s.scope))
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear session: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}
