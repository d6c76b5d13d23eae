package ingest

import (
	"context"
	"errors"
	"log/slog"

	"energy-ingest/internal/models"
)

// Sink хранилище канонических записей
type Sink interface {
	Store(ctx context.Context, env models.Envelope) error
}

// ContextProvider снимки значений за сегодня для устройства.
// Вызывается до трансляции, сама трансляция I/O не делает.
type ContextProvider interface {
	Snapshot(ctx context.Context, group, device string) (models.TranslationContext, error)
}

// NopContext всегда пустой снимок
type NopContext struct{}

// Snapshot возвращает пустой контекст
func (NopContext) Snapshot(context.Context, string, string) (models.TranslationContext, error) {
	return models.TranslationContext{}, nil
}

// LogSink пишет записи в лог
type LogSink struct {
	Logger *slog.Logger
}

// Store логирует конверт
func (s LogSink) Store(_ context.Context, env models.Envelope) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("record",
		"id", env.ID.String(),
		"group", env.Group,
		"device", env.Device,
		"device_type", env.DeviceType,
		"translated", env.Translated,
		"targets", len(env.Record),
	)
	return nil
}

// MultiSink пишет в несколько хранилищ, ошибки объединяются
type MultiSink []Sink

// Store пишет конверт во все хранилища
func (m MultiSink) Store(ctx context.Context, env models.Envelope) error {
	var errs []error
	for _, s := range m {
		if err := s.Store(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
