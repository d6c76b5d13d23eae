package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"energy-ingest/internal/assembler"
	"energy-ingest/internal/metrics"
	"energy-ingest/internal/models"
)

const (
	windowPrefix   = "window:"
	recordPrefix   = "record:"
	recordsPrefix  = "records:"
	firstPrefix    = "today:first:"
	lastPrefix     = "today:last:"
	dayLayout      = "2006-01-02"
	snapshotTTL    = 26 * time.Hour
	scanBatchCount = 100
)

// Options параметры Redis кэша
type Options struct {
	Addr      string
	Password  string
	DB        int
	WindowTTL time.Duration
	RecordTTL time.Duration
}

// RedisCache обертка для Redis клиента.
// Хранит окна сборки, записи и снимки значений за текущие сутки.
type RedisCache struct {
	client    *redis.Client
	windowTTL time.Duration
	recordTTL time.Duration
	now       func() time.Time
}

// NewRedisCache создает новый Redis кэш
func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client:    client,
		windowTTL: opts.WindowTTL,
		recordTTL: opts.RecordTTL,
		now:       time.Now,
	}, nil
}

// Get читает окно сборки устройства
func (r *RedisCache) Get(ctx context.Context, key string) (*assembler.Window, bool, error) {
	data, err := r.client.Get(ctx, windowPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get window %s: %v", models.ErrStorageUnavailable, key, err)
	}

	var w assembler.Window
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal window %s: %w", key, err)
	}
	return &w, true, nil
}

// Put сохраняет окно и продлевает TTL
func (r *RedisCache) Put(ctx context.Context, key string, w *assembler.Window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal window: %w", err)
	}
	if err := r.client.Set(ctx, windowPrefix+key, data, r.windowTTL).Err(); err != nil {
		return fmt.Errorf("%w: put window %s: %v", models.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Delete удаляет окно
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, windowPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: delete window %s: %v", models.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Len количество открытых окон
func (r *RedisCache) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, windowPrefix+"*", scanBatchCount).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan windows: %w", err)
	}
	return n, nil
}

// Store сохраняет запись и обновляет снимки первого и последнего значения за сутки
func (r *RedisCache) Store(ctx context.Context, env models.Envelope) error {
	err := r.store(ctx, env)
	if err != nil {
		metrics.SinkOperations.WithLabelValues("redis", "error").Inc()
		return err
	}
	metrics.SinkOperations.WithLabelValues("redis", "success").Inc()
	return nil
}

func (r *RedisCache) store(ctx context.Context, env models.Envelope) error {
	device := models.DeviceKey(env.Group, env.Device)
	key := fmt.Sprintf("%s%s:%s", recordPrefix, device, env.ID)

	jsonData, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	snapshot := make(map[string]interface{}, len(env.Record)+1)
	for target, fields := range env.Record {
		encoded, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal %s snapshot: %w", target, err)
		}
		snapshot[target] = encoded
	}
	rawData, err := json.Marshal(env.Raw)
	if err != nil {
		return fmt.Errorf("failed to marshal raw snapshot: %w", err)
	}
	snapshot[models.RawSnapshotKey] = rawData

	day := env.ArrivedAt.UTC().Format(dayLayout)
	firstKey := firstPrefix + device + ":" + day
	lastKey := lastPrefix + device + ":" + day
	listKey := recordsPrefix + device

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, jsonData, r.recordTTL)
	pipe.ZAdd(ctx, listKey, redis.Z{Score: float64(env.ArrivedAt.UnixNano()), Member: key})
	pipe.Expire(ctx, listKey, r.recordTTL)
	for field, value := range snapshot {
		pipe.HSetNX(ctx, firstKey, field, value)
	}
	pipe.HSet(ctx, lastKey, snapshot)
	pipe.Expire(ctx, firstKey, snapshotTTL)
	pipe.Expire(ctx, lastKey, snapshotTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: store record %s: %v", models.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Snapshot читает снимки за текущие сутки
func (r *RedisCache) Snapshot(ctx context.Context, group, device string) (models.TranslationContext, error) {
	day := r.now().UTC().Format(dayLayout)
	deviceKey := models.DeviceKey(group, device)

	first, err := r.readSnapshot(ctx, firstPrefix+deviceKey+":"+day)
	if err != nil {
		return models.TranslationContext{}, err
	}
	last, err := r.readSnapshot(ctx, lastPrefix+deviceKey+":"+day)
	if err != nil {
		return models.TranslationContext{}, err
	}

	return models.TranslationContext{FirstToday: first, LastToday: last}, nil
}

func (r *RedisCache) readSnapshot(ctx context.Context, key string) (map[string]map[string]any, error) {
	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot %s: %v", models.ErrStorageUnavailable, key, err)
	}

	snapshot := make(map[string]map[string]any, len(values))
	for target, data := range values {
		var fields map[string]any
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s snapshot: %w", target, err)
		}
		snapshot[target] = fields
	}
	return snapshot, nil
}

// GetRecentRecords получает последние N записей устройства
func (r *RedisCache) GetRecentRecords(ctx context.Context, group, device string, limit int) ([]models.Envelope, error) {
	listKey := recordsPrefix + models.DeviceKey(group, device)

	// Ключи последних записей из sorted set
	keys, err := r.client.ZRevRange(ctx, listKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	if len(keys) == 0 {
		return []models.Envelope{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}

	records := make([]models.Envelope, 0, len(values))
	for _, v := range values {
		// Запись могла истечь раньше sorted set
		s, ok := v.(string)
		if !ok {
			continue
		}
		var env models.Envelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, env)
	}
	return records, nil
}

// Close закрывает соединение с Redis
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping проверяет доступность Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetStats возвращает статистику Redis
func (r *RedisCache) GetStats() map[string]interface{} {
	stats := r.client.PoolStats()

	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}
