package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"energy-ingest/internal/assembler"
	"energy-ingest/internal/metrics"
	"energy-ingest/internal/models"
	"energy-ingest/internal/translate"
)

// Message сообщение от транспорта
type Message struct {
	Topic     string
	Payload   []byte
	ArrivedAt time.Time
	Source    string
}

// Config параметры пайплайна
type Config struct {
	Workers           int
	QueueSize         int
	DataTopicTypes    []string
	IgnoredTopicTypes []string
}

// DefaultConfig типы топиков шлюзов и размеры очередей по умолчанию
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		QueueSize:         1000,
		DataTopicTypes:    []string{"status", "meters-data", "modbus-data", "update-response", "publish"},
		IgnoredTopicTypes: []string{"heartbeat", "command"},
	}
}

// Pipeline маршрутизация сообщений: сборка фрагментов, трансляция, запись
type Pipeline struct {
	cfg        Config
	assembler  *assembler.Assembler
	translator *translate.Translator
	contexts   ContextProvider
	sink       Sink
	logger     *slog.Logger

	dataTopics    map[string]struct{}
	ignoredTopics map[string]struct{}

	queues  []chan Message
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup

	processed atomic.Int64
	dropped   atomic.Int64
}

// New создает пайплайн
func New(cfg Config, asm *assembler.Assembler, translator *translate.Translator, contexts ContextProvider, sink Sink, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if contexts == nil {
		contexts = NopContext{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		cfg:           cfg,
		assembler:     asm,
		translator:    translator,
		contexts:      contexts,
		sink:          sink,
		logger:        logger,
		dataTopics:    toSet(cfg.DataTopicTypes),
		ignoredTopics: toSet(cfg.IgnoredTopicTypes),
		queues:        make([]chan Message, cfg.Workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Message, cfg.QueueSize)
	}
	return p
}

// Start запускает по одному обработчику на очередь
func (p *Pipeline) Start(ctx context.Context) {
	for _, queue := range p.queues {
		p.wg.Add(1)
		go p.worker(ctx, queue)
	}
}

// Stop закрывает очереди и ждет, пока обработчики их дочитают
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, queue := range p.queues {
		close(queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Submit ставит сообщение в очередь устройства без блокировки.
// Сообщения с некорректным топиком и при полной очереди отбрасываются.
func (p *Pipeline) Submit(msg Message) error {
	metrics.MessagesReceived.WithLabelValues(sourceLabel(msg.Source)).Inc()

	topic, err := ParseTopic(msg.Topic)
	if err != nil {
		p.drop("malformed_topic", err, "topic", msg.Topic)
		return err
	}
	if msg.ArrivedAt.IsZero() {
		msg.ArrivedAt = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return models.ErrPipelineStopped
	}

	queue := p.queues[xxhash.Sum64String(models.DeviceKey(topic.Group, topic.Device))%uint64(len(p.queues))]
	select {
	case queue <- msg:
		return nil
	default:
		p.drop("queue_full", models.ErrQueueFull, "topic", msg.Topic)
		return models.ErrQueueFull
	}
}

func (p *Pipeline) worker(ctx context.Context, queue <-chan Message) {
	defer p.wg.Done()

	for msg := range queue {
		_ = p.Handle(ctx, msg)
	}
}

// Handle синхронно обрабатывает одно сообщение.
// Ошибка уже залогирована, вызывающему она нужна только для информации.
func (p *Pipeline) Handle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling %s: %v", msg.Topic, r)
			p.drop("panic", err, "topic", msg.Topic)
		}
	}()

	topic, err := ParseTopic(msg.Topic)
	if err != nil {
		p.drop("malformed_topic", err, "topic", msg.Topic)
		return err
	}
	if msg.ArrivedAt.IsZero() {
		msg.ArrivedAt = time.Now()
	}

	if _, ignored := p.ignoredTopics[topic.TopicType]; ignored {
		return nil
	}
	if _, ok := p.dataTopics[topic.TopicType]; !ok {
		err := fmt.Errorf("%w: %s", models.ErrUnknownTopicType, topic.TopicType)
		p.drop("unknown_topic_type", err, "topic", msg.Topic)
		return err
	}

	if topic.IsFragment() {
		return p.handleFragment(ctx, topic, msg)
	}

	var payload map[string]any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload == nil {
		err = fmt.Errorf("%w: %s", models.ErrInvalidPayload, msg.Topic)
		p.drop("invalid_payload", err, "topic", msg.Topic)
		return err
	}

	return p.process(ctx, topic.Group, topic.Device, topic.TopicType, payload, msg.ArrivedAt)
}

func (p *Pipeline) handleFragment(ctx context.Context, topic Topic, msg Message) error {
	flush, err := p.assembler.Add(ctx, models.Fragment{
		Group:      topic.Group,
		Device:     topic.Device,
		TopicType:  topic.TopicType,
		SubKeyPath: topic.SubKeyPath,
		Field:      topic.Field(),
		RawValue:   msg.Payload,
		ArrivedAt:  msg.ArrivedAt,
	})
	if err != nil {
		reason := "window_store"
		if errors.Is(err, models.ErrFragmentDecode) {
			reason = "fragment_decode"
		}
		p.drop(reason, err, "topic", msg.Topic)
		return err
	}
	if flush == nil {
		return nil
	}

	p.logger.Debug("window flushed",
		"group", flush.Group, "device", flush.Device,
		"trigger", flush.Trigger, "fields", len(flush.Payload))
	return p.process(ctx, flush.Group, flush.Device, flush.TopicType, flush.Payload, msg.ArrivedAt)
}

// process трансляция полного payload и запись результата
func (p *Pipeline) process(ctx context.Context, group, device, topicType string, payload map[string]any, arrivedAt time.Time) error {
	delete(payload, apiKeyField)
	deviceType := resolveDeviceType(payload, group)

	tctx, err := p.contexts.Snapshot(ctx, group, device)
	if err != nil {
		p.logger.Warn("today snapshot unavailable, translating without it",
			"group", group, "device", device, "error", err)
		tctx = models.TranslationContext{}
	}

	start := time.Now()
	result, err := p.translator.Translate(deviceType, payload, tctx)
	metrics.TranslationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		p.drop("schema_validation", err, "group", group, "device", device, "device_type", deviceType)
		return err
	}

	env := models.NewEnvelope(group, device, result.DeviceType, topicType, arrivedAt)
	env.SampledAt = sampleTime(payload, arrivedAt)
	env.Translated = result.SchemaFound
	env.Record = result.Record
	env.Raw = payload

	if err := p.sink.Store(ctx, env); err != nil {
		p.logger.Error("failed to store record", "group", group, "device", device, "error", err)
		return fmt.Errorf("storing record for %s: %w", models.DeviceKey(group, device), err)
	}

	p.processed.Add(1)
	metrics.RecordsProduced.WithLabelValues(env.DeviceType, fmt.Sprint(env.Translated)).Inc()
	return nil
}

func (p *Pipeline) drop(reason string, err error, attrs ...any) {
	p.dropped.Add(1)
	metrics.MessagesDropped.WithLabelValues(reason).Inc()
	p.logger.Warn("message dropped", append([]any{"reason", reason, "error", err}, attrs...)...)
}

// GetStats возвращает статистику пайплайна
func (p *Pipeline) GetStats() map[string]interface{} {
	queued := 0
	for _, queue := range p.queues {
		queued += len(queue)
	}

	return map[string]interface{}{
		"workers":    len(p.queues),
		"queue_size": queued,
		"processed":  p.processed.Load(),
		"dropped":    p.dropped.Load(),
	}
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
