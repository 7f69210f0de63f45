package result

import (
	"context"
	"sync"
)

// Memory is an in-process Store for tests and the single-binary
// development mode.
type Memory struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{artifacts: make(map[string]Artifact)}
}

func (m *Memory) Put(_ context.Context, key string, artifact *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[key] = *artifact
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	artifact, ok := m.artifacts[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := artifact
	return &cp, nil
}

// Len reports the number of stored artifacts. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.artifacts)
}

func (m *Memory) Close() error {
	return nil
}
