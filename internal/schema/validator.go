package schema

import (
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/xeipuuv/gojsonschema"

	"energy-ingest/internal/models"
)

// DeviceSchema скомпилированная JSON Schema типа устройства
type DeviceSchema struct {
	Type   string
	schema *gojsonschema.Schema
}

// CompileSchema компилирует документ JSON Schema
func CompileSchema(deviceType string, doc []byte) (*DeviceSchema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(jsonc.ToJSON(doc)))
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", deviceType, err)
	}
	return &DeviceSchema{Type: NormalizeType(deviceType), schema: compiled}, nil
}

// ValidationError список нарушений схемы
type ValidationError struct {
	DeviceType string
	Details    []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload does not match schema %s: %s", e.DeviceType, strings.Join(e.Details, "; "))
}

// Unwrap позволяет проверять errors.Is(err, models.ErrSchemaValidation)
func (e *ValidationError) Unwrap() error {
	return models.ErrSchemaValidation
}

// Validate проверяет payload против схемы, nil если payload корректен
func Validate(s *DeviceSchema, payload any) error {
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrSchemaValidation, s.Type, err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return &ValidationError{DeviceType: s.Type, Details: details}
}

// Valid проверка схемы в виде bool
func Valid(s *DeviceSchema, payload any) bool {
	return Validate(s, payload) == nil
}
