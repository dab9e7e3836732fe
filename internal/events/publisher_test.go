package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycore/internal/domain"
	"paycore/pkg/logger"
)

func testAlert() *domain.FraudAlert {
	return &domain.FraudAlert{
		ID:         uuid.New(),
		MovementID: uuid.New(),
		AccountID:  uuid.New(),
		RuleID:     uuid.New(),
		RuleType:   domain.RuleTypeVelocity,
		Severity:   domain.SeverityHigh,
		Status:     domain.AlertStatusOpen,
		Reason:     "4 transfers in 10 minutes",
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKafkaPublisher_PublishAlert(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	alert := testAlert()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event AlertEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.AlertID != alert.ID || event.RuleType != domain.RuleTypeVelocity {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	pub := NewKafkaPublisherFromProducer(producer, "fraud.alerts", logger.NewNop())
	require.NoError(t, pub.PublishAlert(context.Background(), alert))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_PropagatesSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherFromProducer(producer, "fraud.alerts", logger.NewNop())
	err := pub.PublishAlert(context.Background(), testAlert())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestNoOpPublisher(t *testing.T) {
	pub := NewNoOpPublisher(logger.NewNop())
	assert.NoError(t, pub.PublishAlert(context.Background(), testAlert()))
	assert.NoError(t, pub.Close())
}
