package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"energy-ingest/internal/assembler"
	"energy-ingest/internal/ingest"
)

// Config конфигурация приложения
type Config struct {
	ServerPort string `yaml:"server_port"`
	LogLevel   string `yaml:"log_level"`

	SchemaDir string `yaml:"schema_dir"`
	RulesDir  string `yaml:"rules_dir"`

	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Assembler AssemblerConfig `yaml:"assembler"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	NATS      NATSConfig      `yaml:"nats"`
	Influx    InfluxConfig    `yaml:"influx"`
}

// PipelineConfig очереди и типы топиков
type PipelineConfig struct {
	Workers           int      `yaml:"workers"`
	QueueSize         int      `yaml:"queue_size"`
	DataTopicTypes    []string `yaml:"data_topic_types"`
	IgnoredTopicTypes []string `yaml:"ignored_topic_types"`
}

// AssemblerConfig сборка фрагментов
type AssemblerConfig struct {
	FlushAfter    time.Duration `yaml:"flush_after"`
	PowerDelta    float64       `yaml:"power_delta"`
	FlushField    string        `yaml:"flush_field"`
	CounterFields []string      `yaml:"counter_fields"`
	WindowTTL     time.Duration `yaml:"window_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RedisConfig пустой Addr - окна в памяти, записи только в лог
type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	RecordRetention time.Duration `yaml:"record_retention"`
}

// MQTTConfig пустой Broker - транспорт выключен
type MQTTConfig struct {
	Broker   string   `yaml:"broker"`
	ClientID string   `yaml:"client_id"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Topics   []string `yaml:"topics"`
	QoS      int      `yaml:"qos"`
}

// NATSConfig пустой URL - транспорт выключен
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// InfluxConfig пустой URL - запись в InfluxDB выключена
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// Default значения по умолчанию
func Default() Config {
	asm := assembler.DefaultConfig()
	pipe := ingest.DefaultConfig()

	return Config{
		ServerPort: "8080",
		LogLevel:   "info",
		SchemaDir:  "schemas",
		RulesDir:   "rules",
		Pipeline: PipelineConfig{
			Workers:           pipe.Workers,
			QueueSize:         pipe.QueueSize,
			DataTopicTypes:    pipe.DataTopicTypes,
			IgnoredTopicTypes: pipe.IgnoredTopicTypes,
		},
		Assembler: AssemblerConfig{
			FlushAfter:    asm.FlushAfter,
			PowerDelta:    asm.PowerDelta,
			FlushField:    asm.FlushField,
			CounterFields: asm.CounterFields,
			WindowTTL:     5 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Redis: RedisConfig{
			RecordRetention: time.Hour,
		},
		MQTT: MQTTConfig{
			ClientID: "energy-ingest",
			Topics:   []string{"#"},
			QoS:      1,
		},
		NATS: NATSConfig{
			Subject: "telemetry.>",
		},
		Influx: InfluxConfig{
			Measurement: "telemetry",
		},
	}
}

// Load значения по умолчанию, затем YAML файл (если задан), затем environment
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv environment variables перекрывают файл
func (c *Config) applyEnv() {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.SchemaDir = getEnv("SCHEMA_DIR", c.SchemaDir)
	c.RulesDir = getEnv("RULES_DIR", c.RulesDir)

	c.Pipeline.Workers = getEnvAsInt("WORKERS", c.Pipeline.Workers)
	c.Pipeline.QueueSize = getEnvAsInt("QUEUE_SIZE", c.Pipeline.QueueSize)
	c.Pipeline.DataTopicTypes = getEnvAsList("DATA_TOPIC_TYPES", c.Pipeline.DataTopicTypes)
	c.Pipeline.IgnoredTopicTypes = getEnvAsList("IGNORED_TOPIC_TYPES", c.Pipeline.IgnoredTopicTypes)

	c.Assembler.FlushAfter = getEnvAsDuration("FLUSH_AFTER", c.Assembler.FlushAfter)
	c.Assembler.PowerDelta = getEnvAsFloat("POWER_DELTA", c.Assembler.PowerDelta)
	c.Assembler.FlushField = getEnv("FLUSH_FIELD", c.Assembler.FlushField)
	c.Assembler.CounterFields = getEnvAsList("COUNTER_FIELDS", c.Assembler.CounterFields)
	c.Assembler.WindowTTL = getEnvAsDuration("WINDOW_TTL", c.Assembler.WindowTTL)
	c.Assembler.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL", c.Assembler.SweepInterval)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.RecordRetention = getEnvAsDuration("RECORD_RETENTION", c.Redis.RecordRetention)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.Topics = getEnvAsList("MQTT_TOPICS", c.MQTT.Topics)
	c.MQTT.QoS = getEnvAsInt("MQTT_QOS", c.MQTT.QoS)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Subject = getEnv("NATS_SUBJECT", c.NATS.Subject)

	c.Influx.URL = getEnv("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = getEnv("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = getEnv("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = getEnv("INFLUX_BUCKET", c.Influx.Bucket)
	c.Influx.Measurement = getEnv("INFLUX_MEASUREMENT", c.Influx.Measurement)
}

// Validate проверяет согласованность значений
func (c Config) Validate() error {
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline.queue_size must be positive, got %d", c.Pipeline.QueueSize)
	}
	if c.Assembler.FlushAfter <= 0 {
		return fmt.Errorf("assembler.flush_after must be positive, got %s", c.Assembler.FlushAfter)
	}
	if c.Assembler.WindowTTL < c.Assembler.FlushAfter {
		return fmt.Errorf("assembler.window_ttl (%s) must not be shorter than flush_after (%s)",
			c.Assembler.WindowTTL, c.Assembler.FlushAfter)
	}
	if c.Assembler.PowerDelta < 0 {
		return fmt.Errorf("assembler.power_delta must not be negative, got %v", c.Assembler.PowerDelta)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx.org and influx.bucket are required when influx.url is set")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel уровень логирования
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// AssemblerSettings параметры сборщика фрагментов
func (c Config) AssemblerSettings() assembler.Config {
	return assembler.Config{
		FlushAfter:    c.Assembler.FlushAfter,
		PowerDelta:    c.Assembler.PowerDelta,
		FlushField:    c.Assembler.FlushField,
		CounterFields: c.Assembler.CounterFields,
	}
}

// PipelineSettings параметры пайплайна
func (c Config) PipelineSettings() ingest.Config {
	return ingest.Config{
		Workers:           c.Pipeline.Workers,
		QueueSize:         c.Pipeline.QueueSize,
		DataTopicTypes:    c.Pipeline.DataTopicTypes,
		IgnoredTopicTypes: c.Pipeline.IgnoredTopicTypes,
	}
}

// getEnv получает environment variable или возвращает default
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt получает environment variable как int
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat получает environment variable как float64
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var value float64
	if _, err := fmt.Sscanf(valueStr, "%f", &value); err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration получает environment variable как time.Duration ("119s", "5m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList получает environment variable как список через запятую
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
