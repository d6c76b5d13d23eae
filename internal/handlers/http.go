package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"energy-ingest/internal/cache"
	"energy-ingest/internal/ingest"
	"energy-ingest/internal/metrics"
	"energy-ingest/internal/models"
	"energy-ingest/internal/schema"
)

const (
	maxPayloadBytes    = 1 << 20
	defaultRecordLimit = 10
	maxRecordLimit     = 1000
)

// Handler обработчик HTTP запросов
type Handler struct {
	pipeline *ingest.Pipeline
	cache    *cache.RedisCache
	registry *schema.Registry
}

// NewHandler создает новый обработчик. cache может быть nil, если Redis не настроен.
func NewHandler(pipeline *ingest.Pipeline, cache *cache.RedisCache, registry *schema.Registry) *Handler {
	return &Handler{
		pipeline: pipeline,
		cache:    cache,
		registry: registry,
	}
}

// batchItem одно сообщение пакета
type batchItem struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Ingest обрабатывает POST /ingest?topic=...
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/ingest").Observe(duration)
	}()

	if r.Method != http.MethodPost {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/ingest", "405").Inc()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/ingest", "400").Inc()
		http.Error(w, "topic parameter is required", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/ingest", "400").Inc()
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	err = h.pipeline.Submit(ingest.Message{
		Topic:     topic,
		Payload:   payload,
		ArrivedAt: time.Now(),
		Source:    "http",
	})
	if err != nil {
		status := submitStatus(err)
		metrics.RequestsTotal.WithLabelValues(r.Method, "/ingest", strconv.Itoa(status)).Inc()
		http.Error(w, err.Error(), status)
		return
	}

	metrics.RequestsTotal.WithLabelValues(r.Method, "/ingest", "202").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "accepted",
		"topic":  topic,
	})
}

// BatchIngest обрабатывает POST /ingest/batch
func (h *Handler) BatchIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/ingest/batch").Observe(duration)
	}()

	if r.Method != http.MethodPost {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/ingest/batch", "405").Inc()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch []batchItem
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&batch); err != nil {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/ingest/batch", "400").Inc()
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	arrivedAt := time.Now()
	accepted := 0
	for _, item := range batch {
		if item.Topic == "" {
			continue
		}
		err := h.pipeline.Submit(ingest.Message{
			Topic:     item.Topic,
			Payload:   item.Payload,
			ArrivedAt: arrivedAt,
			Source:    "http",
		})
		if err == nil {
			accepted++
		}
	}

	metrics.RequestsTotal.WithLabelValues(r.Method, "/ingest/batch", "202").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "accepted",
		"total":    len(batch),
		"accepted": accepted,
	})
}

// GetRecords обрабатывает GET /records
func (h *Handler) GetRecords(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/records").Observe(duration)
	}()

	group := r.URL.Query().Get("group")
	device := r.URL.Query().Get("device")
	if group == "" || device == "" {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/records", "400").Inc()
		http.Error(w, "group and device parameters are required", http.StatusBadRequest)
		return
	}

	limit := defaultRecordLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxRecordLimit {
			metrics.RequestsTotal.WithLabelValues(r.Method, "/records", "400").Inc()
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	if h.cache == nil {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/records", "503").Inc()
		http.Error(w, "Record storage is not configured", http.StatusServiceUnavailable)
		return
	}

	records, err := h.cache.GetRecentRecords(r.Context(), group, device, limit)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(r.Method, "/records", "500").Inc()
		http.Error(w, "Failed to retrieve records", http.StatusInternalServerError)
		return
	}

	metrics.RequestsTotal.WithLabelValues(r.Method, "/records", "200").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"group":   group,
		"device":  device,
		"count":   len(records),
		"records": records,
	})
}

// HealthCheck обрабатывает GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	response := map[string]interface{}{}

	// Проверяем Redis, если он используется
	if h.cache != nil {
		redisOK := h.cache.Ping(r.Context()) == nil
		response["redis"] = redisOK
		if !redisOK {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	response["status"] = status
	response["timestamp"] = time.Now()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(response)
}

// GetStats обрабатывает GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/stats").Observe(duration)
	}()

	response := map[string]interface{}{
		"pipeline":     h.pipeline.GetStats(),
		"device_types": h.registry.Types(),
		"timestamp":    time.Now(),
	}
	if h.cache != nil {
		response["redis"] = h.cache.GetStats()
	}

	metrics.RequestsTotal.WithLabelValues(r.Method, "/stats", "200").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrMalformedTopic):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrQueueFull), errors.Is(err, models.ErrPipelineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
