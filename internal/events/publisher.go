// Package events publishes fraud alerts to downstream reviewers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"paycore/internal/domain"
	"paycore/pkg/config"
	"paycore/pkg/logger"
)

type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *domain.FraudAlert) error
	Close() error
}

// AlertEvent is the wire form of a raised alert.
type AlertEvent struct {
	AlertID    uuid.UUID       `json:"alert_id"`
	MovementID uuid.UUID       `json:"movement_id"`
	AccountID  uuid.UUID       `json:"account_id"`
	RuleID     uuid.UUID       `json:"rule_id"`
	RuleType   domain.RuleType `json:"rule_type"`
	Severity   domain.Severity `json:"severity"`
	Reason     string          `json:"reason"`
	CreatedAt  time.Time       `json:"created_at"`
}

func NewAlertEvent(a *domain.FraudAlert) AlertEvent {
	return AlertEvent{
		AlertID:    a.ID,
		MovementID: a.MovementID,
		AccountID:  a.AccountID,
		RuleID:     a.RuleID,
		RuleType:   a.RuleType,
		Severity:   a.Severity,
		Reason:     a.Reason,
		CreatedAt:  a.CreatedAt,
	}
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   logger.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, log logger.Logger) (*KafkaPublisher, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Info("Kafka alert publisher created", map[string]interface{}{
		"topic":   cfg.AlertsTopic,
		"brokers": cfg.Brokers,
	})
	return NewKafkaPublisherFromProducer(producer, cfg.AlertsTopic, log), nil
}

func NewKafkaPublisherFromProducer(producer sarama.SyncProducer, topic string, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: log}
}

// PublishAlert sends one alert keyed by account id so an account's alerts stay ordered.
func (p *KafkaPublisher) PublishAlert(ctx context.Context, alert *domain.FraudAlert) error {
	payload, err := json.Marshal(NewAlertEvent(alert))
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(alert.AccountID.String()),
		Value: sarama.ByteEncoder(payload),
	}

	type result struct {
		partition int32
		offset    int64
		err       error
	}
	resultCh := make(chan result, 1)
	go func() {
		partition, offset, err := p.producer.SendMessage(msg)
		resultCh <- result{partition, offset, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return fmt.Errorf("send alert %s: %w", alert.ID, res.err)
		}
		p.logger.Debug("Fraud alert published", map[string]interface{}{
			"alert_id":  alert.ID,
			"partition": res.partition,
			"offset":    res.offset,
		})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// NoOpPublisher is used when Kafka is disabled.
type NoOpPublisher struct {
	logger logger.Logger
}

func NewNoOpPublisher(log logger.Logger) *NoOpPublisher {
	return &NoOpPublisher{logger: log}
}

func (p *NoOpPublisher) PublishAlert(ctx context.Context, alert *domain.FraudAlert) error {
	p.logger.Debug("Kafka disabled, alert not published", map[string]interface{}{
		"alert_id": alert.ID,
	})
	return nil
}

func (p *NoOpPublisher) Close() error { return nil }
