package credential

import (
	"context"
	"sync"

	"custodia/pkg/platform/sentinel"
)

// InMemoryStore is a map-backed TokenStore for tests and local development.
type InMemoryStore struct {
	mu        sync.RWMutex
	datasets  map[string]string
	appTokens map[string]AppToken
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		datasets:  make(map[string]string),
		appTokens: make(map[string]AppToken),
	}
}

func datasetKey(appID, dataset string) string {
	return appID + ":" + dataset
}

func (s *InMemoryStore) PutDatasetTokenIfAbsent(_ context.Context, appID, dataset, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := datasetKey(appID, dataset)
	if existing, ok := s.datasets[key]; ok {
		return existing, nil
	}
	s.datasets[key] = token
	return token, nil
}

func (s *InMemoryStore) GetDatasetToken(_ context.Context, appID, dataset string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.datasets[datasetKey(appID, dataset)]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return token, nil
}

func (s *InMemoryStore) PutAppToken(_ context.Context, token AppToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := token
	cp.Hash = append([]byte(nil), token.Hash...)
	s.appTokens[token.AppID] = cp
	return nil
}

func (s *InMemoryStore) GetAppToken(_ context.Context, appID string) (AppToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.appTokens[appID]
	if !ok {
		return AppToken{}, sentinel.ErrNotFound
	}
	token.Hash = append([]byte(nil), token.Hash...)
	return token, nil
}
