package availability

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"motorent/internal/models"
)

const defaultKeyPrefix = "motorent:availability:"

// SharedStore is a second cache tier shared between processes.
type SharedStore interface {
	Load(ctx context.Context, q Query) ([]models.RentalUnit, bool)
	Save(ctx context.Context, q Query, units []models.RentalUnit, ttl time.Duration)
	Delete(ctx context.Context, qs ...Query)
	Queries(ctx context.Context) ([]Query, error)
}

// RedisStore keeps availability results in Redis as JSON with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store. An empty prefix selects the default one.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(q Query) string {
	return s.prefix + q.Key()
}

// Load returns the stored units. Any Redis or decode failure counts as a miss.
func (s *RedisStore) Load(ctx context.Context, q Query) ([]models.RentalUnit, bool) {
	val, err := s.client.Get(ctx, s.key(q)).Result()
	if err != nil {
		return nil, false
	}
	var units []models.RentalUnit
	if err := json.Unmarshal([]byte(val), &units); err != nil {
		return nil, false
	}
	return units, true
}

// Save stores units for ttl. Failures are ignored; the tier is best effort.
func (s *RedisStore) Save(ctx context.Context, q Query, units []models.RentalUnit, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(units)
	if err != nil {
		return
	}
	_ = s.client.Set(ctx, s.key(q), data, ttl).Err()
}

// Delete removes the entries for qs.
func (s *RedisStore) Delete(ctx context.Context, qs ...Query) {
	if len(qs) == 0 {
		return
	}
	keys := make([]string, 0, len(qs))
	for _, q := range qs {
		keys = append(keys, s.key(q))
	}
	_ = s.client.Del(ctx, keys...).Err()
}

// Queries lists the queries currently stored.
func (s *RedisStore) Queries(ctx context.Context) ([]Query, error) {
	var (
		out    []Query
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			q, err := ParseKey(strings.TrimPrefix(k, s.prefix))
			if err != nil {
				continue
			}
			out = append(out, q)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
