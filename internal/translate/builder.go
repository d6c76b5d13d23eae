package translate

import (
	"log/slog"

	"energy-ingest/internal/models"
	"energy-ingest/internal/schema"
)

// Build применяет каждое правило к payload независимо, в порядке объявления.
// Правила, не прошедшие проверку обязательных полей, в запись не попадают.
func Build(rules schema.RuleSet, payload map[string]any, tctx models.TranslationContext, logger *slog.Logger) models.CanonicalRecord {
	record := make(models.CanonicalRecord, len(rules))

	for _, rule := range rules {
		fields := buildTarget(rule, payload, tctx, logger)
		if !satisfied(rule, fields) {
			if logger != nil {
				logger.Debug("target skipped, field policy not met", "target", rule.Key())
			}
			continue
		}
		record[rule.Key()] = fields
	}

	return record
}

func buildTarget(rule schema.TargetRule, payload map[string]any, tctx models.TranslationContext, logger *slog.Logger) map[string]any {
	key := rule.Key()
	fields := make(map[string]any, len(rule.Fields))

	for _, fieldRule := range rule.Fields {
		value, ok, err := extractField(fieldRule, key, payload, tctx)
		if err != nil && logger != nil {
			logger.Warn("field omitted", "target", key, "field", fieldRule.Target, "error", err)
		}
		if ok {
			fields[fieldRule.Target] = value
		}
	}

	return fields
}

func satisfied(rule schema.TargetRule, fields map[string]any) bool {
	if len(rule.RequiredFields) > 0 {
		for _, name := range rule.RequiredFields {
			if _, ok := fields[name]; !ok {
				return false
			}
		}
		return true
	}

	if len(rule.LeastOneFieldList) > 0 {
		for _, name := range rule.LeastOneFieldList {
			if _, ok := fields[name]; ok {
				return true
			}
		}
		return false
	}

	return true
}
