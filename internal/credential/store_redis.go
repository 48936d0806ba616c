package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"custodia/pkg/platform/sentinel"
)

const (
	// Redis key prefixes for issued credentials
	datasetTokenKeyPrefix = "cred:dataset:"
	appTokenKeyPrefix     = "cred:app:"
)

// RedisStore is a Redis-backed TokenStore. This is the production
// implementation for deployments where multiple instances must agree on
// which token a dataset was first issued.
type RedisStore struct {
	client *redis.Client
}

// RedisStoreOption configures a RedisStore instance.
type RedisStoreOption func(*RedisStore)

// NewRedisStore constructs a Redis-backed token store.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// PutDatasetTokenIfAbsent claims the dataset token slot with SETNX, then
// reads back whichever value won. Safe under concurrent issuance across
// instances.
func (s *RedisStore) PutDatasetTokenIfAbsent(ctx context.Context, appID, dataset, token string) (string, error) {
	key := datasetTokenKeyPrefix + appID + ":" + dataset

	ok, err := s.client.SetNX(ctx, key, token, 0).Result()
	if err != nil {
		return "", fmt.Errorf("could not claim dataset token: %w", err)
	}
	if ok {
		return token, nil
	}

	existing, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("could not read existing dataset token: %w", err)
	}
	return existing, nil
}

func (s *RedisStore) GetDatasetToken(ctx context.Context, appID, dataset string) (string, error) {
	token, err := s.client.Get(ctx, datasetTokenKeyPrefix+appID+":"+dataset).Result()
	if errors.Is(err, redis.Nil) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisStore) PutAppToken(ctx context.Context, token AppToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("could not encode app token record: %w", err)
	}
	return s.client.Set(ctx, appTokenKeyPrefix+token.AppID, payload, 0).Err()
}

func (s *RedisStore) GetAppToken(ctx context.Context, appID string) (AppToken, error) {
	raw, err := s.client.Get(ctx, appTokenKeyPrefix+appID).Bytes()
	if errors.Is(err, redis.Nil) {
		return AppToken{}, sentinel.ErrNotFound
	}
	if err != nil {
		return AppToken{}, err
	}

	var token AppToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return AppToken{}, fmt.Errorf("could not decode app token record: %w", err)
	}
	return token, nil
}
