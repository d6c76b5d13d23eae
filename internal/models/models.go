package models

import (
	"time"

	"github.com/google/uuid"
)

// Fragment одно частичное сообщение от устройства (одно поле на топик)
type Fragment struct {
	Group      string
	Device     string
	TopicType  string
	SubKeyPath []string
	Field      string
	RawValue   []byte
	ArrivedAt  time.Time
}

// Key ключ окна сборки для устройства
func (f Fragment) Key() string {
	return DeviceKey(f.Group, f.Device)
}

// DeviceKey формирует ключ (group, device)
func DeviceKey(group, device string) string {
	return group + "/" + device
}

// CanonicalRecord нормализованная запись: target -> поля
type CanonicalRecord map[string]map[string]any

// TranslationContext снимок значений за сегодня, только для чтения
type TranslationContext struct {
	FirstToday map[string]map[string]any `json:"firstToday"`
	LastToday  map[string]map[string]any `json:"lastToday"`
}

// RawSnapshotKey ключ сырого payload в снимках за день
const RawSnapshotKey = "raw"

// Envelope результат обработки одного полного payload
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Group      string          `json:"group"`
	Device     string          `json:"device"`
	DeviceType string          `json:"device_type"`
	TopicType  string          `json:"topic_type"`
	SampledAt  time.Time       `json:"sampled_at"`
	ArrivedAt  time.Time       `json:"arrived_at"`
	Translated bool            `json:"translated"`
	Record     CanonicalRecord `json:"record,omitempty"`
	Raw        map[string]any  `json:"raw"`
}

// NewEnvelope создает конверт с новым идентификатором
func NewEnvelope(group, device, deviceType, topicType string, arrivedAt time.Time) Envelope {
	return Envelope{
		ID:         uuid.New(),
		Group:      group,
		Device:     device,
		DeviceType: deviceType,
		TopicType:  topicType,
		SampledAt:  arrivedAt,
		ArrivedAt:  arrivedAt,
	}
}
