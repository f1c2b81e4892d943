package breaks

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process PreferenceStore.
type MemoryStore struct {
	mu        sync.RWMutex
	weights   map[BreakType]float64
	feedback  []Feedback
	emissions []Emission
}

var _ PreferenceStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{weights: make(map[BreakType]float64)}
}

func (m *MemoryStore) LoadWeights(_ context.Context) (map[BreakType]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[BreakType]float64, len(m.weights))
	for k, v := range m.weights {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SaveWeight(_ context.Context, t BreakType, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights[t] = weight
	return nil
}

func (m *MemoryStore) AppendFeedback(_ context.Context, f Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, f)
	return nil
}

func (m *MemoryStore) LoadFeedback(_ context.Context, since time.Time) ([]Feedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Feedback
	for _, f := range m.feedback {
		if !f.Timestamp.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendEmission(_ context.Context, e Emission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emissions = append(m.emissions, e)
	return nil
}

func (m *MemoryStore) LoadEmissions(_ context.Context, since time.Time) ([]Emission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Emission
	for _, e := range m.emissions {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
