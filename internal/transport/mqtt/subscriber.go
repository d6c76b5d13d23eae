package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"energy-ingest/internal/ingest"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // ms
	sourceName        = "mqtt"
)

// Submitter принимает сообщения на обработку без блокировки
type Submitter interface {
	Submit(msg ingest.Message) error
}

// Options параметры подключения к брокеру
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topics   []string
	QoS      byte
}

// Subscriber подписка на топики устройств
type Subscriber struct {
	opts   Options
	client paho.Client
	target Submitter
	logger *slog.Logger
}

// NewSubscriber создает подписчика, подключение в Start
func NewSubscriber(opts Options, target Submitter, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		opts:   opts,
		target: target,
		logger: logger.With("transport", sourceName),
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetUsername(opts.Username)
	clientOpts.SetPassword(opts.Password)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)
	clientOpts.SetOrderMatters(true)
	// Подписка повторяется после каждого переподключения
	clientOpts.SetOnConnectHandler(s.subscribe)
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("connection lost", "broker", opts.Broker, "error", err)
	})

	s.client = paho.NewClient(clientOpts)
	return s
}

// Start подключается к брокеру
func (s *Subscriber) Start(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return fmt.Errorf("connecting to %s: timeout after %s", s.opts.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to %s: %w", s.opts.Broker, err)
	}
	return nil
}

// Stop отключается от брокера
func (s *Subscriber) Stop() {
	s.client.Disconnect(disconnectQuiesce)
}

func (s *Subscriber) subscribe(client paho.Client) {
	filters := make(map[string]byte, len(s.opts.Topics))
	for _, topic := range s.opts.Topics {
		filters[topic] = s.opts.QoS
	}

	token := client.SubscribeMultiple(filters, s.handle)
	if err := waitToken(token, connectTimeout); err != nil {
		s.logger.Error("subscribe failed", "topics", s.opts.Topics, "error", err)
		return
	}
	s.logger.Info("subscribed", "broker", s.opts.Broker, "topics", s.opts.Topics)
}

// waitToken ждет завершения операции, истекший таймаут тоже ошибка
func waitToken(token paho.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("no acknowledgement after %s", timeout)
	}
	return token.Error()
}

func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	err := s.target.Submit(ingest.Message{
		Topic:     msg.Topic(),
		Payload:   msg.Payload(),
		ArrivedAt: time.Now(),
		Source:    sourceName,
	})
	if err != nil {
		s.logger.Debug("message not accepted", "topic", msg.Topic(), "error", err)
	}
}
