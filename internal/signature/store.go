package signature

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrAbsent marque une clé inexistante, quelle que soit l'implémentation.
// Les implémentations du Store doivent le retourner tel quel.
var ErrAbsent = errors.New("clé absente")

// Store abstrait l'état éphémère du protocole : sessions, OTP, compteurs
// d'échec et verrous. Les TTL font partie du contrat, pas une option.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	// GetDel lit et supprime atomiquement : c'est lui qui garantit l'usage
	// unique des OTP et des sessions autorisées.
	GetDel(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	// Incr incrémente un compteur et pose le TTL à la première écriture.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisStore est l'implémentation de production.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrAbsent
	}
	return val, err
}

func (s *RedisStore) GetDel(ctx context.Context, key string) (string, error) {
	val, err := s.client.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrAbsent
	}
	return val, err
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
