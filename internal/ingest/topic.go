package ingest

import (
	"fmt"
	"strings"

	"energy-ingest/internal/models"
)

// minTopicSegments group/devices/device/topicType
const minTopicSegments = 4

// Topic разобранный топик устройства
type Topic struct {
	Group      string
	Device     string
	TopicType  string
	SubKeyPath []string
}

// IsFragment топик с дополнительными сегментами несет одно поле
func (t Topic) IsFragment() bool {
	return len(t.SubKeyPath) > 0
}

// Field имя поля фрагмента, последний сегмент топика
func (t Topic) Field() string {
	if len(t.SubKeyPath) == 0 {
		return ""
	}
	return t.SubKeyPath[len(t.SubKeyPath)-1]
}

// ParseTopic разбирает "/<group>/devices/<device>/<topicType>[/<subKey>...]"
func ParseTopic(topic string) (Topic, error) {
	segments := strings.Split(strings.Trim(topic, "/"), "/")
	if len(segments) < minTopicSegments {
		return Topic{}, fmt.Errorf("%w: %q has %d segments", models.ErrMalformedTopic, topic, len(segments))
	}
	for _, s := range segments {
		if s == "" {
			return Topic{}, fmt.Errorf("%w: %q has an empty segment", models.ErrMalformedTopic, topic)
		}
	}

	return Topic{
		Group:      segments[0],
		Device:     segments[2],
		TopicType:  segments[3],
		SubKeyPath: segments[minTopicSegments:],
	}, nil
}
