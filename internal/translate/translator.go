package translate

import (
	"errors"
	"log/slog"

	"energy-ingest/internal/models"
	"energy-ingest/internal/schema"
)

// Result итог трансляции одного payload
type Result struct {
	DeviceType  string
	SchemaFound bool
	Record      models.CanonicalRecord
}

// Translator проверка схемы и построение канонической записи, без I/O и общего состояния
type Translator struct {
	registry *schema.Registry
	logger   *slog.Logger
}

// NewTranslator создает транслятор поверх реестра схем
func NewTranslator(registry *schema.Registry, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{registry: registry, logger: logger}
}

// Translate валидирует payload и строит запись.
// Для незарегистрированного типа возвращает SchemaFound=false без ошибки,
// payload тогда передается дальше без изменений.
func (t *Translator) Translate(deviceType string, payload map[string]any, tctx models.TranslationContext) (Result, error) {
	result := Result{DeviceType: schema.NormalizeType(deviceType)}

	deviceSchema, rules, err := t.registry.Require(deviceType)
	if errors.Is(err, models.ErrSchemaNotFound) {
		t.logger.Debug("no schema for device type, forwarding raw payload", "device_type", result.DeviceType)
		return result, nil
	}
	result.SchemaFound = true

	if err := schema.Validate(deviceSchema, payload); err != nil {
		return result, err
	}

	result.Record = Build(rules, payload, tctx, t.logger.With("device_type", result.DeviceType))
	return result, nil
}
