package service

import (
	"context"
	"sync"
)

func NewCancelMap[K comparable]() *CancelMap[K] {
	return &CancelMap[K]{
		cancels: make(map[K]context.CancelFunc),
	}
}

type CancelMap[K comparable] struct {
	m       sync.Mutex
	cancels map[K]context.CancelFunc
}

func (m *CancelMap[K]) AddCancel(id K, cf context.CancelFunc) {
	m.m.Lock()
	defer m.m.Unlock()
	m.cancels[id] = cf
}

func (m *CancelMap[K]) RemoveCancel(key K) {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.cancels, key)
}

// Call cancels the context stored under key. It reports whether one was
// found.
func (m *CancelMap[K]) Call(key K) bool {
	m.m.Lock()
	cf, ok := m.cancels[key]
	m.m.Unlock()
	if ok {
		cf()
	}
	return ok
}

func (m *CancelMap[K]) CallAll() {
	m.m.Lock()
	defer m.m.Unlock()
	for _, cf := range m.cancels {
		cf()
	}
}

func (m *CancelMap[K]) Len() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.cancels)
}
