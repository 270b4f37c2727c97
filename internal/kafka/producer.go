package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/paywall-labs/paywall-service/internal/domain"
	"github.com/paywall-labs/paywall-service/pkg/logger"
)

// Event types published to the billing topic.
const (
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
	EventPurchaseAuthorized  = "purchase.authorized"
	EventPurchaseCompleted   = "purchase.completed"
	EventPurchaseFailed      = "purchase.failed"
)

// BillingEvent is the message body published for downstream consumers
// (entitlement audit, email, analytics).
type BillingEvent struct {
	Type           string               `json:"type"`
	UserID         string               `json:"user_id"`
	SubscriptionID string               `json:"subscription_id,omitempty"`
	Level          domain.PlanLevel     `json:"level,omitempty"`
	ArticleID      string               `json:"article_id,omitempty"`
	PaymentStatus  domain.PaymentStatus `json:"payment_status,omitempty"`
	Amount         int64                `json:"amount,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

// Producer publishes billing events to Kafka.
type Producer interface {
	PublishBillingEvent(event BillingEvent) error
	Close() error
}

type kafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewProducer creates a synchronous Kafka producer for the billing topic.
func NewProducer(brokers []string, topic string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Infow("Kafka producer initialized", "brokers", brokers, "topic", topic)

	return &kafkaProducer{
		producer: producer,
		topic:    topic,
		log:      log,
	}, nil
}

// PublishBillingEvent publishes the event keyed by user id, so all events for
// one user land in the same partition and keep their order.
func (p *kafkaProducer) PublishBillingEvent(event BillingEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	messageValue, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal billing event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.UserID),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(event.Type),
			},
		},
		Timestamp: event.Timestamp,
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to publish billing event: %w", err)
	}

	p.log.Debugw("Published billing event",
		"type", event.Type,
		"userID", event.UserID,
		"partition", partition,
		"offset", offset,
	)

	return nil
}

// Close closes the producer.
func (p *kafkaProducer) Close() error {
	return p.producer.Close()
}

// NoOpProducer discards events. Used when Kafka is unavailable so the billing
// flow keeps working without event publishing.
type NoOpProducer struct{}

func (NoOpProducer) PublishBillingEvent(BillingEvent) error { return nil }
func (NoOpProducer) Close() error                           { return nil }
