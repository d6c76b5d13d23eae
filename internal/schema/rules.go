package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"energy-ingest/internal/models"
)

// FieldRuleType способ получения значения поля
type FieldRuleType int

const (
	// FieldRaw значение берется по пути из payload
	FieldRaw FieldRuleType = iota + 1
	// FieldCalculated значение вычисляется выражением
	FieldCalculated
)

func (t FieldRuleType) String() string {
	switch t {
	case FieldRaw:
		return "raw"
	case FieldCalculated:
		return "calculated"
	default:
		return "unknown"
	}
}

// MarshalJSON записывает тип строкой
func (t FieldRuleType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON разбирает "raw" | "calculated"
func (t *FieldRuleType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: field type must be a string", models.ErrInvalidRule)
	}
	switch s {
	case "raw":
		*t = FieldRaw
	case "calculated":
		*t = FieldCalculated
	default:
		return fmt.Errorf("%w: unknown field type %q", models.ErrInvalidRule, s)
	}
	return nil
}

// FieldRule правило для одного поля канонической записи
type FieldRule struct {
	Target              string        `json:"target"`
	Type                FieldRuleType `json:"type"`
	Source              string        `json:"source"`
	SourceMatchKey      string        `json:"sourceMatchKey,omitempty"`
	SourceMatchKeyValue any           `json:"sourceMatchKeyValue,omitempty"`
	Multiplier          float64       `json:"multiplier"`
	Offset              float64       `json:"offset"`
}

// UnmarshalJSON применяет значения по умолчанию multiplier=1, offset=0
func (f *FieldRule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Target              string        `json:"target"`
		Type                FieldRuleType `json:"type"`
		Source              string        `json:"source"`
		SourceMatchKey      string        `json:"sourceMatchKey"`
		SourceMatchKeyValue any           `json:"sourceMatchKeyValue"`
		Multiplier          *float64      `json:"multiplier"`
		Offset              *float64      `json:"offset"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*f = FieldRule{
		Target:              raw.Target,
		Type:                raw.Type,
		Source:              raw.Source,
		SourceMatchKey:      raw.SourceMatchKey,
		SourceMatchKeyValue: raw.SourceMatchKeyValue,
		Multiplier:          1,
	}
	if raw.Multiplier != nil {
		f.Multiplier = *raw.Multiplier
	}
	if raw.Offset != nil {
		f.Offset = *raw.Offset
	}
	return nil
}

// HasSourceMatch включено ли условие выбора источника
func (f FieldRule) HasSourceMatch() bool {
	return f.SourceMatchKey != "" && f.SourceMatchKeyValue != nil
}

// TargetRule правила для одной цели (статус, счетчик и т.д.)
type TargetRule struct {
	Target            string      `json:"target"`
	Name              string      `json:"name"`
	RequiredFields    []string    `json:"required_fields"`
	LeastOneFieldList []string    `json:"least_one_field_list"`
	Fields            []FieldRule `json:"fields"`
}

// Key ключ цели в канонической записи
func (r TargetRule) Key() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Target
}

// RuleSet упорядоченный набор правил для типа устройства
type RuleSet []TargetRule

// ParseRules разбирает документ правил (JSON с комментариями).
// Документ может быть списком правил или одним объектом.
func ParseRules(data []byte) (RuleSet, error) {
	stripped := bytes.TrimSpace(jsonc.ToJSON(data))

	var rules RuleSet
	if len(stripped) > 0 && stripped[0] == '{' {
		var single TargetRule
		if err := json.Unmarshal(stripped, &single); err != nil {
			return nil, fmt.Errorf("parsing rule document: %w", err)
		}
		rules = RuleSet{single}
	} else if err := json.Unmarshal(stripped, &rules); err != nil {
		return nil, fmt.Errorf("parsing rule document: %w", err)
	}

	for i, rule := range rules {
		if rule.Key() == "" {
			return nil, fmt.Errorf("%w: rule %d has neither target nor name", models.ErrInvalidRule, i)
		}
		for j, field := range rule.Fields {
			if field.Target == "" {
				return nil, fmt.Errorf("%w: rule %q field %d has no target", models.ErrInvalidRule, rule.Key(), j)
			}
			if field.Type == 0 {
				return nil, fmt.Errorf("%w: rule %q field %q has no type", models.ErrInvalidRule, rule.Key(), field.Target)
			}
		}
	}

	return rules, nil
}
