package influx

import (
	"context"
	"fmt"
	"sort"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"energy-ingest/internal/metrics"
	"energy-ingest/internal/models"
)

// Sink пишет канонические записи в InfluxDB, одна точка на target
type Sink struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
}

// New создает sink поверх InfluxDB v2
func New(url, token, org, bucket, measurement string) *Sink {
	client := influxdb2.NewClient(url, token)
	return &Sink{
		client:      client,
		writer:      client.WriteAPIBlocking(org, bucket),
		measurement: measurement,
	}
}

// Store записывает точки записи. Нетранслированные payload пропускаются.
func (s *Sink) Store(ctx context.Context, env models.Envelope) error {
	points := Points(s.measurement, env)
	if len(points) == 0 {
		return nil
	}

	if err := s.writer.WritePoint(ctx, points...); err != nil {
		metrics.SinkOperations.WithLabelValues("influx", "error").Inc()
		return fmt.Errorf("%w: influx write: %v", models.ErrStorageUnavailable, err)
	}
	metrics.SinkOperations.WithLabelValues("influx", "success").Inc()
	return nil
}

// Close закрывает клиент
func (s *Sink) Close() {
	s.client.Close()
}

// Points строит точки из записи, порядок target детерминирован
func Points(measurement string, env models.Envelope) []*write.Point {
	targets := make([]string, 0, len(env.Record))
	for target := range env.Record {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	points := make([]*write.Point, 0, len(targets))
	for _, target := range targets {
		fields := make(map[string]interface{}, len(env.Record[target]))
		for name, v := range env.Record[target] {
			switch v.(type) {
			case float64, int, int64, bool, string:
				fields[name] = v
			}
		}
		if len(fields) == 0 {
			continue
		}

		tags := map[string]string{
			"group":       env.Group,
			"device":      env.Device,
			"device_type": env.DeviceType,
			"target":      target,
		}
		points = append(points, influxdb2.NewPoint(measurement, tags, fields, env.SampledAt))
	}
	return points
}
