package assembler

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	window    *Window
	expiresAt time.Time
}

// MemoryStore потокобезопасное хранилище окон в памяти с TTL.
// Просроченные окна удаляются при обращении и периодической очисткой.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore создает хранилище окон в памяти
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memoryEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get возвращает окно, если оно есть и не просрочено
func (s *MemoryStore) Get(_ context.Context, key string) (*Window, bool, error) {
	s.mu.RLock()
	entry, exists := s.items[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		if current, ok := s.items[key]; ok && s.now().After(current.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	return entry.window, true, nil
}

// Put сохраняет окно и продлевает TTL
func (s *MemoryStore) Put(_ context.Context, key string, w *Window) error {
	s.mu.Lock()
	s.items[key] = &memoryEntry{window: w, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

// Delete удаляет окно
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len количество непросроченных окон
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.items {
		if !now.After(entry.expiresAt) {
			count++
		}
	}
	return count, nil
}

// Sweep удаляет просроченные окна, возвращает число удаленных
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.items {
		if now.After(entry.expiresAt) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// Run периодически очищает просроченные окна до отмены контекста
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
