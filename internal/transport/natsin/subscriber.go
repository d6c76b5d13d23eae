package natsin

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"energy-ingest/internal/ingest"
)

const (
	sourceName    = "nats"
	maxReconnects = -1
	reconnectWait = 2 * time.Second
)

// Submitter принимает сообщения на обработку без блокировки
type Submitter interface {
	Submit(msg ingest.Message) error
}

// Subscriber подписка на subject устройств
type Subscriber struct {
	url     string
	subject string
	prefix  string
	target  Submitter
	logger  *slog.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

// NewSubscriber создает подписчика. Токены subject до wildcard считаются префиксом.
func NewSubscriber(url, subject string, target Submitter, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		url:     url,
		subject: subject,
		prefix:  subjectPrefix(subject),
		target:  target,
		logger:  logger.With("transport", sourceName),
	}
}

// Start подключается и подписывается
func (s *Subscriber) Start() error {
	conn, err := nats.Connect(s.url,
		nats.Name("energy-ingest"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", s.url, err)
	}

	sub, err := conn.Subscribe(s.subject, s.handle)
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to %s: %w", s.subject, err)
	}

	s.conn = conn
	s.sub = sub
	s.logger.Info("subscribed", "url", s.url, "subject", s.subject)
	return nil
}

// Stop дочитывает подписку и закрывает соединение
func (s *Subscriber) Stop() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.logger.Warn("drain failed", "error", err)
		s.conn.Close()
	}
}

func (s *Subscriber) handle(msg *nats.Msg) {
	err := s.target.Submit(ingest.Message{
		Topic:     SubjectToTopic(msg.Subject, s.prefix),
		Payload:   msg.Data,
		ArrivedAt: time.Now(),
		Source:    sourceName,
	})
	if err != nil {
		s.logger.Debug("message not accepted", "subject", msg.Subject, "error", err)
	}
}

// SubjectToTopic переводит subject в топик устройства, отбрасывая префикс:
// "<prefix>.<group>.devices.<device>.<type>" -> "/<group>/devices/<device>/<type>"
func SubjectToTopic(subject, prefix string) string {
	if prefix != "" {
		subject = strings.TrimPrefix(strings.TrimPrefix(subject, prefix), ".")
	}
	return "/" + strings.ReplaceAll(subject, ".", "/")
}

func subjectPrefix(subject string) string {
	tokens := strings.Split(subject, ".")
	n := 0
	for n < len(tokens) && tokens[n] != "*" && tokens[n] != ">" {
		n++
	}
	return strings.Join(tokens[:n], ".")
}
