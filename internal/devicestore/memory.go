package devicestore

import (
	"context"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	devices map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{devices: make(map[string]map[string]string)}
}

func (m *Memory) Get(ctx context.Context, device, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.devices[device][key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, device, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv, ok := m.devices[device]
	if !ok {
		kv = make(map[string]string)
		m.devices[device] = kv
	}
	kv[key] = value
	return nil
}

func (m *Memory) Delete(ctx context.Context, device string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kv := m.devices[device]
	for _, k := range keys {
		delete(kv, k)
	}
	return nil
}

func (m *Memory) Clear(ctx context.Context, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, device)
	return nil
}
