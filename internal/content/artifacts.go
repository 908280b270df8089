package content

import (
	"context"
	"sync"

	"github.com/pscheid92/autoapply/internal/domain"
)

// MemoryArtifacts is an in-process ArtifactStore for dry runs and tests.
type MemoryArtifacts struct {
	mu        sync.RWMutex
	artifacts map[string]domain.Artifact
}

func NewMemoryArtifacts() *MemoryArtifacts {
	return &MemoryArtifacts{artifacts: make(map[string]domain.Artifact)}
}

func (m *MemoryArtifacts) SaveArtifact(_ context.Context, a domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[a.Handle.ID] = a
	return nil
}

func (m *MemoryArtifacts) GetArtifact(_ context.Context, id string) (*domain.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, domain.ErrArtifactNotFound
	}
	return &a, nil
}

func (m *MemoryArtifacts) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.artifacts)
}
