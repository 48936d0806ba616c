package store

import (
	"context"
	"sync"

	"custodia/internal/consent/models"
	"custodia/pkg/platform/sentinel"
)

// InMemory is the reference Store implementation. It preserves insertion
// order per application so grouped views keep first-seen field order, and it
// favors clarity over performance.
type InMemory struct {
	mu        sync.RWMutex
	byApp     map[string][]models.FieldConsent
	index     map[models.ConsentKey]int
	approvals map[string][]models.Approval
}

func NewInMemory() *InMemory {
	return &InMemory{
		byApp:     make(map[string][]models.FieldConsent),
		index:     make(map[models.ConsentKey]int),
		approvals: make(map[string][]models.Approval),
	}
}

func (s *InMemory) Get(_ context.Context, key models.ConsentKey) (models.FieldConsent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[key]
	if !ok {
		return models.FieldConsent{}, sentinel.ErrNotFound
	}
	return cloneConsent(s.byApp[key.AppID][pos]), nil
}

func (s *InMemory) ListByApp(_ context.Context, appID string) ([]models.FieldConsent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.byApp[appID]
	out := make([]models.FieldConsent, len(rows))
	for i, row := range rows {
		out[i] = cloneConsent(row)
	}
	return out, nil
}

func (s *InMemory) Upsert(_ context.Context, consent models.FieldConsent) error {
	if err := consent.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := consent.Key()
	if pos, ok := s.index[key]; ok {
		s.byApp[key.AppID][pos] = cloneConsent(consent)
		return nil
	}
	s.index[key] = len(s.byApp[key.AppID])
	s.byApp[key.AppID] = append(s.byApp[key.AppID], cloneConsent(consent))
	return nil
}

func (s *InMemory) AppendApproval(_ context.Context, approval models.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approval.AppID] = append(s.approvals[approval.AppID], approval)
	return nil
}

func (s *InMemory) ListApprovals(_ context.Context, appID string) ([]models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Approval{}, s.approvals[appID]...), nil
}

// cloneConsent copies the slices so callers can never mutate stored state.
func cloneConsent(c models.FieldConsent) models.FieldConsent {
	c.Requested = c.Requested.Clone()
	c.Granted = c.Granted.Clone()
	c.Purposes = append([]string(nil), c.Purposes...)
	return c
}
