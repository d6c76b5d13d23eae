package translate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"energy-ingest/internal/models"
	"energy-ingest/internal/schema"
)

// ExtractRaw проходит по пути через вложенные объекты.
// Числовой лист масштабируется: value*multiplier + offset, остальное возвращается как есть.
// Пустые сегменты пути пропускаются, так что ".uptime" и "uptime" эквивалентны.
// Если масштабирование дает NaN или Inf, поле считается отсутствующим.
func ExtractRaw(path string, payload any, multiplier, offset float64) (any, bool) {
	if path == "" {
		return 0.0, true
	}

	current := payload
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			continue
		}
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	if current == nil {
		return nil, false
	}
	if f, ok := toFloat64(current); ok {
		scaled := f*multiplier + offset
		if !isFinite(scaled) {
			return nil, false
		}
		return scaled, true
	}
	return current, true
}

// ExtractField вычисляет значение одного поля правила.
// key - ключ цели, по нему берутся снимки lastToday/firstToday.
func ExtractField(rule schema.FieldRule, key string, payload map[string]any, tctx models.TranslationContext) (any, bool) {
	value, ok, _ := extractField(rule, key, payload, tctx)
	return value, ok
}

func extractField(rule schema.FieldRule, key string, payload map[string]any, tctx models.TranslationContext) (any, bool, error) {
	if rule.HasSourceMatch() {
		current, ok := ExtractRaw(rule.SourceMatchKey, payload, 1, 0)
		if !ok || !valuesEqual(current, rule.SourceMatchKeyValue) {
			return nil, false, nil
		}
	}

	switch rule.Type {
	case schema.FieldRaw:
		value, ok := ExtractRaw(rule.Source, payload, rule.Multiplier, rule.Offset)
		return value, ok, nil
	case schema.FieldCalculated:
		value, err := Evaluate(rule.Source, key, payload, tctx)
		if err != nil {
			return nil, false, err
		}
		scaled := value*rule.Multiplier + rule.Offset
		if !isFinite(scaled) {
			return nil, false, fmt.Errorf("%w: field %q: scaled result is not finite", models.ErrExpression, rule.Target)
		}
		return scaled, true, nil
	default:
		return nil, false, fmt.Errorf("%w: field %q has type %s", models.ErrInvalidRule, rule.Target, rule.Type)
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// valuesEqual сравнивает значение из payload со значением из конфигурации
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat64(a); ok {
		fb, ok := toFloat64(b)
		return ok && fa == fb
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case bool:
		vb, ok := b.(bool)
		return ok && va == vb
	}
	return false
}

// numericOperand приводит операнд к числу, числовые строки тоже допускаются.
// "NaN" и "Inf" числом не считаются.
func numericOperand(v any) (float64, bool) {
	f, ok := toFloat64(v)
	if !ok {
		s, isString := v.(string)
		if !isString {
			return 0, false
		}
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		ok = err == nil
	}
	if !ok || !isFinite(f) {
		return 0, false
	}
	return f, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
