package assembler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-ingest/internal/models"
)

var t0 = time.Date(2024, 2, 22, 14, 0, 0, 0, time.UTC)

func fragment(device, field, value string, at time.Duration) models.Fragment {
	return models.Fragment{
		Group:      "Devtest",
		Device:     device,
		TopicType:  "meters-data",
		SubKeyPath: []string{"beken", field},
		Field:      field,
		RawValue:   []byte(value),
		ArrivedAt:  t0.Add(at),
	}
}

func newTestAssembler() (*Assembler, *MemoryStore) {
	store := NewMemoryStore(5 * time.Minute)
	return New(DefaultConfig(), store, nil), store
}

func TestAssembler_EndToEndTimeFlush(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	flush, err := a.Add(ctx, fragment("Dev-1", "power", `"300.0"`, 0))
	require.NoError(t, err)
	assert.Nil(t, flush)

	flush, err = a.Add(ctx, fragment("Dev-1", "energy", `"50"`, 10*time.Second))
	require.NoError(t, err)
	assert.Nil(t, flush, "under 119s and not the power field")

	w, ok, err := store.Get(ctx, "Devtest/Dev-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0, w.FirstSeen)
	assert.Equal(t, t0.Add(10*time.Second), w.LastSeen)

	flush, err = a.Add(ctx, fragment("Dev-1", "power", `"300.0"`, 120*time.Second))
	require.NoError(t, err)
	require.NotNil(t, flush)

	assert.Equal(t, TriggerTime, flush.Trigger)
	assert.Equal(t, "Devtest", flush.Group)
	assert.Equal(t, "Dev-1", flush.Device)
	assert.Equal(t, map[string]any{"power": "300.0", "energy": "50"}, flush.Payload)

	_, ok, err = store.Get(ctx, "Devtest/Dev-1")
	require.NoError(t, err)
	assert.False(t, ok, "window is cleared on flush")
}

func TestAssembler_TimeBoundary(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		flushed bool
	}{
		{name: "118.9s stays open", elapsed: 118900 * time.Millisecond},
		{name: "119.0s flushes", elapsed: 119 * time.Second, flushed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAssembler()
			ctx := context.Background()

			_, err := a.Add(ctx, fragment("Dev-1", "voltage", "230", 0))
			require.NoError(t, err)

			flush, err := a.Add(ctx, fragment("Dev-1", "current", "1.2", tt.elapsed))
			require.NoError(t, err)
			assert.Equal(t, tt.flushed, flush != nil)
		})
	}
}

func TestAssembler_PowerDeltaFlush(t *testing.T) {
	tests := []struct {
		name    string
		next    string
		flushed bool
	}{
		{name: "delta 0.02 flushes", next: "300.02", flushed: true},
		{name: "delta 0.005 does not", next: "300.005"},
		{name: "quoted values compare numerically", next: `"300.5"`, flushed: true},
		{name: "unchanged", next: "300.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAssembler()
			ctx := context.Background()

			flush, err := a.Add(ctx, fragment("Dev-1", "power", "300.00", 0))
			require.NoError(t, err)
			assert.Nil(t, flush, "first power reading has nothing to compare with")

			flush, err = a.Add(ctx, fragment("Dev-1", "power", tt.next, time.Second))
			require.NoError(t, err)
			assert.Equal(t, tt.flushed, flush != nil)
			if tt.flushed {
				assert.Equal(t, TriggerValue, flush.Trigger)
			}
		})
	}
}

func TestAssembler_CounterResetAccumulates(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	_, err := a.Add(ctx, fragment("Dev-1", "energy", "100", 0))
	require.NoError(t, err)
	_, err = a.Add(ctx, fragment("Dev-1", "energy", "40", time.Second))
	require.NoError(t, err)

	w, _, _ := store.Get(ctx, "Devtest/Dev-1")
	assert.Equal(t, "140", w.Fields["energy"])

	_, err = a.Add(ctx, fragment("Dev-1", "energy", "50", 2*time.Second))
	require.NoError(t, err)
	w, _, _ = store.Get(ctx, "Devtest/Dev-1")
	assert.Equal(t, "150", w.Fields["energy"], "offset persists for the window lifetime")

	_, err = a.Add(ctx, fragment("Dev-1", "energy", "10", 3*time.Second))
	require.NoError(t, err)
	w, _, _ = store.Get(ctx, "Devtest/Dev-1")
	assert.Equal(t, "160", w.Fields["energy"])
	assert.Equal(t, CounterState{Offset: 150, LastRaw: 10}, w.Counters["energy"])

	flush, err := a.Add(ctx, fragment("Dev-1", "power", "1", 119*time.Second))
	require.NoError(t, err)
	require.NotNil(t, flush)
	assert.Equal(t, 160.0, flush.Payload["energy"])
}

func TestAssembler_CounterResetKeepsQuoting(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	_, err := a.Add(ctx, fragment("Dev-1", "energy", `"100"`, 0))
	require.NoError(t, err)
	_, err = a.Add(ctx, fragment("Dev-1", "energy", `"40"`, time.Second))
	require.NoError(t, err)

	w, _, _ := store.Get(ctx, "Devtest/Dev-1")
	assert.Equal(t, `"140"`, w.Fields["energy"])
}

func TestAssembler_FreshWindowAfterFlush(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	_, err := a.Add(ctx, fragment("Dev-1", "energy", "100", 0))
	require.NoError(t, err)
	_, err = a.Add(ctx, fragment("Dev-1", "power", "10", time.Second))
	require.NoError(t, err)

	flush, err := a.Add(ctx, fragment("Dev-1", "power", "20", 2*time.Second))
	require.NoError(t, err)
	require.NotNil(t, flush)

	_, err = a.Add(ctx, fragment("Dev-1", "energy", "5", 3*time.Second))
	require.NoError(t, err)

	w, ok, err := store.Get(ctx, "Devtest/Dev-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"energy": "5"}, w.Fields, "no residue from the previous window")
	assert.Equal(t, t0.Add(3*time.Second), w.FirstSeen)
	assert.Equal(t, CounterState{LastRaw: 5}, w.Counters["energy"], "a lower reading in a new window is not a reset")
}

func TestAssembler_DevicesDoNotShareWindows(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	_, err := a.Add(ctx, fragment("Dev-1", "energy", "100", 0))
	require.NoError(t, err)
	_, err = a.Add(ctx, fragment("Dev-2", "energy", "40", time.Second))
	require.NoError(t, err)

	w, _, _ := store.Get(ctx, "Devtest/Dev-2")
	assert.Equal(t, "40", w.Fields["energy"])

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAssembler_DecodeErrorDiscardsWindow(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	_, err := a.Add(ctx, fragment("Dev-1", "state", "{not json", 0))
	require.NoError(t, err)

	flush, err := a.Add(ctx, fragment("Dev-1", "power", "1", 2*time.Minute))
	require.Error(t, err)
	assert.Nil(t, flush)
	assert.True(t, errors.Is(err, models.ErrFragmentDecode))

	_, ok, _ := store.Get(ctx, "Devtest/Dev-1")
	assert.False(t, ok)
}

func TestAssembler_ConfigOverrides(t *testing.T) {
	cfg := Config{
		FlushAfter:    10 * time.Second,
		PowerDelta:    5,
		FlushField:    "p",
		CounterFields: []string{"kwh"},
	}
	a := New(cfg, NewMemoryStore(time.Minute), nil)
	ctx := context.Background()

	_, err := a.Add(ctx, fragment("Dev-1", "p", "100", 0))
	require.NoError(t, err)
	flush, err := a.Add(ctx, fragment("Dev-1", "p", "104", time.Second))
	require.NoError(t, err)
	assert.Nil(t, flush)

	_, err = a.Add(ctx, fragment("Dev-1", "kwh", "9", 2*time.Second))
	require.NoError(t, err)
	_, err = a.Add(ctx, fragment("Dev-1", "kwh", "1", 3*time.Second))
	require.NoError(t, err)

	flush, err = a.Add(ctx, fragment("Dev-1", "x", "0", 10*time.Second))
	require.NoError(t, err)
	require.NotNil(t, flush)
	assert.Equal(t, map[string]any{"p": 104.0, "kwh": 10.0, "x": 0.0}, flush.Payload)
}

type failingStore struct{ MemoryStore }

func (s *failingStore) Get(context.Context, string) (*Window, bool, error) {
	return nil, false, models.ErrStorageUnavailable
}

func TestAssembler_StoreError(t *testing.T) {
	a := New(DefaultConfig(), &failingStore{}, nil)

	_, err := a.Add(context.Background(), fragment("Dev-1", "power", "1", 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStorageUnavailable))
}

func TestAssembler_ConcurrentFragmentsFlushOnce(t *testing.T) {
	a, store := newTestAssembler()
	ctx := context.Background()

	_, err := a.Add(ctx, fragment("Dev-1", "voltage", "230", 0))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		flushes []*Flush
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			flush, err := a.Add(ctx, fragment("Dev-1", fmt.Sprintf("f%d", i), "1", 120*time.Second))
			assert.NoError(t, err)
			if flush != nil {
				mu.Lock()
				flushes = append(flushes, flush)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, flushes, 1, "only the first fragment sees the expired window")
	assert.Len(t, flushes[0].Payload, 2)

	w, ok, err := store.Get(ctx, "Devtest/Dev-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, w.Fields, 49, "the rest start a fresh window, nothing is lost")
}
