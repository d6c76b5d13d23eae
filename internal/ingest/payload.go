package ingest

import (
	"time"
)

const (
	apiKeyField         = "apiKey"
	lastUpdateTimeField = "last_update_time"
	timeUTCField        = "timeUTC"

	lastUpdateTimeLayout = "2006-01-02T15:04:05-0700"
	timeUTCLayout        = "2006-01-02 15:04:05"
)

// resolveDeviceType тип из config.devType, иначе группа из топика
func resolveDeviceType(payload map[string]any, group string) string {
	if config, ok := payload["config"].(map[string]any); ok {
		if devType, ok := config["devType"].(string); ok && devType != "" {
			return devType
		}
	}
	return group
}

// sampleTime время измерения из payload, иначе время получения
func sampleTime(payload map[string]any, arrivedAt time.Time) time.Time {
	if s, ok := payload[lastUpdateTimeField].(string); ok {
		for _, layout := range []string{lastUpdateTimeLayout, time.RFC3339} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	if s, ok := payload[timeUTCField].(string); ok {
		if t, err := time.ParseInLocation(timeUTCLayout, s, time.UTC); err == nil {
			return t
		}
	}
	return arrivedAt
}
