package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/upb/coach-accounts/config"
	"github.com/upb/coach-accounts/models"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer used for publishing
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes EmailEvents to a topic consumed by the mail service
type KafkaNotifier struct {
	writer  messageWriter
	events  eventBuilder
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaNotifier creates a publisher for cfg.Topic. SASL/TLS is enabled
// when a username is configured.
func NewKafkaNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.Username != "" {
		writer.Transport = &kafka.Transport{
			SASL: plain.Mechanism{
				Username: cfg.Username,
				Password: cfg.Password,
			},
			TLS: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	logger.Info("kafka email publisher configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))

	return newKafkaNotifier(writer, cfg, logger), nil
}

func newKafkaNotifier(writer messageWriter, cfg config.NotifyConfig, logger *zap.Logger) *KafkaNotifier {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaNotifier{
		writer:  writer,
		events:  eventBuilder{links: Links{BaseURL: cfg.AppBaseURL}},
		timeout: timeout,
		logger:  logger,
	}
}

func (n *KafkaNotifier) SendVerification(ctx context.Context, account *models.Account, token string) error {
	return n.publish(ctx, n.events.verification(account, token))
}

func (n *KafkaNotifier) SendPasswordReset(ctx context.Context, account *models.Account, token string, expiresAt time.Time) error {
	return n.publish(ctx, n.events.passwordReset(account, token, expiresAt))
}

func (n *KafkaNotifier) SendPasswordChanged(ctx context.Context, account *models.Account) error {
	return n.publish(ctx, n.events.passwordChanged(account))
}

func (n *KafkaNotifier) SendWelcome(ctx context.Context, account *models.Account) error {
	return n.publish(ctx, n.events.welcome(account))
}

func (n *KafkaNotifier) publish(ctx context.Context, event EmailEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode email event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.AccountID, 10)),
		Value: value,
		Time:  event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s email: %w", event.Type, err)
	}

	n.logger.Debug("email event published",
		zap.String("type", string(event.Type)),
		zap.Int64("account_id", event.AccountID))
	return nil
}

// Close flushes and closes the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
