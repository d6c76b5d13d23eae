package assembler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"energy-ingest/internal/metrics"
	"energy-ingest/internal/models"
)

// Триггеры сброса окна
const (
	TriggerTime  = "time"
	TriggerValue = "value"
)

const lockStripes = 64

// Config параметры сборки окон
type Config struct {
	FlushAfter    time.Duration
	PowerDelta    float64
	FlushField    string
	CounterFields []string
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		FlushAfter:    119 * time.Second,
		PowerDelta:    0.01,
		FlushField:    "power",
		CounterFields: []string{"energy"},
	}
}

// Flush собранный payload, готовый к трансляции
type Flush struct {
	Group     string
	Device    string
	TopicType string
	Trigger   string
	Payload   map[string]any
	FirstSeen time.Time
	LastSeen  time.Time
}

// Assembler сборщик фрагментов по устройствам.
// Окно сбрасывается и удаляется под той же блокировкой ключа, что и запись в него.
type Assembler struct {
	cfg      Config
	store    Store
	counters map[string]struct{}
	locks    [lockStripes]sync.Mutex
	logger   *slog.Logger
}

// New создает сборщик поверх хранилища окон
func New(cfg Config, store Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}

	counters := make(map[string]struct{}, len(cfg.CounterFields))
	for _, field := range cfg.CounterFields {
		counters[field] = struct{}{}
	}

	return &Assembler{
		cfg:      cfg,
		store:    store,
		counters: counters,
		logger:   logger,
	}
}

// Add добавляет фрагмент в окно устройства.
// Возвращает Flush, если окно было сброшено этим фрагментом.
func (a *Assembler) Add(ctx context.Context, f models.Fragment) (*Flush, error) {
	key := f.Key()
	mu := &a.locks[xxhash.Sum64String(key)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	w, exists, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading window %s: %w", key, err)
	}
	if !exists {
		w = newWindow(f.ArrivedAt)
	}
	if w.Fields == nil {
		w.Fields = make(map[string]string)
	}
	if w.Counters == nil {
		w.Counters = make(map[string]CounterState)
	}
	w.LastSeen = f.ArrivedAt

	value := string(bytes.TrimSpace(f.RawValue))
	previous, hadPrevious := w.Fields[f.Field]

	if _, ok := a.counters[f.Field]; ok {
		value = a.accumulate(w, key, f.Field, value)
	}
	w.Fields[f.Field] = value
	metrics.FragmentsBuffered.Inc()

	trigger := a.trigger(f, w, previous, hadPrevious, value)
	if trigger == "" {
		if err := a.store.Put(ctx, key, w); err != nil {
			return nil, fmt.Errorf("storing window %s: %w", key, err)
		}
		return nil, nil
	}

	if err := a.store.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("clearing window %s: %w", key, err)
	}
	metrics.WindowFlushes.WithLabelValues(trigger).Inc()

	payload, err := decodeFields(w.Fields)
	if err != nil {
		return nil, fmt.Errorf("window %s: %w", key, err)
	}

	return &Flush{
		Group:     f.Group,
		Device:    f.Device,
		TopicType: f.TopicType,
		Trigger:   trigger,
		Payload:   payload,
		FirstSeen: w.FirstSeen,
		LastSeen:  w.LastSeen,
	}, nil
}

// accumulate переносит накопленное значение счетчика через сброс устройства
func (a *Assembler) accumulate(w *Window, key, field, value string) string {
	reading, quoted, ok := parseNumber(value)
	if !ok {
		return value
	}

	state, seen := w.Counters[field]
	switch {
	case !seen:
		state = CounterState{LastRaw: reading}
	case reading < state.LastRaw:
		a.logger.Info("counter reset detected",
			"window", key, "field", field,
			"previous_raw", state.LastRaw, "raw", reading, "carried", state.Accumulated())
		metrics.CounterResets.WithLabelValues(field).Inc()
		state = CounterState{Offset: state.Accumulated(), LastRaw: reading}
	default:
		state.LastRaw = reading
	}
	w.Counters[field] = state

	if state.Offset == 0 {
		return value
	}
	return formatNumber(state.Accumulated(), quoted)
}

func (a *Assembler) trigger(f models.Fragment, w *Window, previous string, hadPrevious bool, value string) string {
	if f.ArrivedAt.Sub(w.FirstSeen) >= a.cfg.FlushAfter {
		return TriggerTime
	}

	if f.Field != a.cfg.FlushField || !hadPrevious {
		return ""
	}
	before, _, okBefore := parseNumber(previous)
	now, _, okNow := parseNumber(value)
	if okBefore && okNow && math.Abs(now-before) > a.cfg.PowerDelta {
		return TriggerValue
	}
	return ""
}

// decodeFields разбирает JSON значения всех полей окна
func decodeFields(fields map[string]string) (map[string]any, error) {
	payload := make(map[string]any, len(fields))
	for name, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", models.ErrFragmentDecode, name, err)
		}
		payload[name] = v
	}
	return payload, nil
}

// parseNumber читает число из JSON значения: 300.5 или "300.5"
func parseNumber(raw string) (value float64, quoted bool, ok bool) {
	if raw == "" {
		return 0, false, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return 0, true, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, true, err == nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	return f, false, err == nil
}

func formatNumber(v float64, quoted bool) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if quoted {
		return strconv.Quote(s)
	}
	return s
}
