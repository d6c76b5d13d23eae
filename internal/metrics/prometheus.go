package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal общее количество HTTP запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration продолжительность HTTP запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// MessagesReceived сообщения от устройств по транспорту
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_messages_received_total",
			Help: "Total number of device messages received",
		},
		[]string{"source"},
	)

	// MessagesDropped отброшенные сообщения по причине
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_messages_dropped_total",
			Help: "Total number of device messages dropped",
		},
		[]string{"reason"},
	)

	// FragmentsBuffered фрагменты, добавленные в окна сборки
	FragmentsBuffered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_fragments_buffered_total",
			Help: "Total number of fragments buffered into assembly windows",
		},
	)

	// WindowFlushes сброшенные окна по триггеру
	WindowFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_window_flushes_total",
			Help: "Total number of assembly window flushes",
		},
		[]string{"trigger"},
	)

	// CounterResets обнаруженные сбросы монотонных счетчиков
	CounterResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_counter_resets_total",
			Help: "Total number of device-side counter resets detected",
		},
		[]string{"field"},
	)

	// ActiveWindows открытые окна сборки
	ActiveWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_active_windows",
			Help: "Number of currently open assembly windows",
		},
	)

	// QueueSize размер очередей обработки
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_processing_queue_size",
			Help: "Current size of the processing queues",
		},
	)

	// TranslationLatency задержка трансляции payload
	TranslationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_translation_latency_seconds",
			Help:    "Schema validation and translation latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// RecordsProduced записи, переданные в хранилище
	RecordsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_records_produced_total",
			Help: "Total number of records handed to the sink",
		},
		[]string{"device_type", "translated"},
	)

	// SinkOperations операции записи по хранилищу
	SinkOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_sink_operations_total",
			Help: "Total number of sink write operations",
		},
		[]string{"sink", "status"},
	)
)
