package assembler

import (
	"context"
	"time"
)

// CounterState состояние монотонного счетчика внутри окна.
// Накопленное значение = Offset + LastRaw и не убывает при сбросах устройства.
type CounterState struct {
	Offset  float64 `json:"offset"`
	LastRaw float64 `json:"last_raw"`
}

// Accumulated накопленное значение счетчика
func (c CounterState) Accumulated() float64 {
	return c.Offset + c.LastRaw
}

// Window окно сборки фрагментов одного устройства
type Window struct {
	Fields    map[string]string       `json:"fields"`
	Counters  map[string]CounterState `json:"counters,omitempty"`
	FirstSeen time.Time               `json:"first_seen"`
	LastSeen  time.Time               `json:"last_seen"`
}

func newWindow(now time.Time) *Window {
	return &Window{
		Fields:    make(map[string]string),
		Counters:  make(map[string]CounterState),
		FirstSeen: now,
		LastSeen:  now,
	}
}

// Store хранилище окон с TTL, ключ - (group, device).
// Доступ к одному ключу сериализован сборщиком.
type Store interface {
	Get(ctx context.Context, key string) (*Window, bool, error)
	Put(ctx context.Context, key string, w *Window) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
}
