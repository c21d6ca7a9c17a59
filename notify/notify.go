package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"mollie-ideal/logging"
	"mollie-ideal/models"
)

const (
	TopicOrderConfirmation = "order.confirmation"
	TopicPaymentReconciled = "payment.reconciled"
)

// Kafka publishes order confirmation and reconciliation events. The mail
// service consumes order.confirmation and sends the new-order email.
type Kafka struct {
	producer sarama.SyncProducer
}

// NewKafka connects a synchronous producer to the brokers
func NewKafka(brokers []string) (*Kafka, error) {
	sarama.Logger = zap.NewStdLog(logging.GetLogger().Named("sarama"))

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = 5
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	logging.Info("Kafka producer initialized", zap.Strings("brokers", brokers))
	return NewKafkaWithProducer(producer), nil
}

// NewKafkaWithProducer wraps an existing producer
func NewKafkaWithProducer(producer sarama.SyncProducer) *Kafka {
	return &Kafka{producer: producer}
}

// SendOrderConfirmation asks the mail service to send the new-order email
func (k *Kafka) SendOrderConfirmation(ctx context.Context, event models.OrderConfirmationEvent) error {
	return k.publish(TopicOrderConfirmation, event.OrderID, event)
}

// PaymentReconciled announces the outcome of a payment report
func (k *Kafka) PaymentReconciled(ctx context.Context, event models.PaymentReconciledEvent) error {
	return k.publish(TopicPaymentReconciled, event.OrderID, event)
}

// Close flushes and closes the producer
func (k *Kafka) Close() error {
	return k.producer.Close()
}

func (k *Kafka) publish(topic, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	logging.Info("Event published",
		zap.String("topic", topic),
		zap.String("order_id", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Log only logs events, for deployments without Kafka
type Log struct{}

func (Log) SendOrderConfirmation(ctx context.Context, event models.OrderConfirmationEvent) error {
	logging.FromContext(ctx).Info("Order confirmation requested",
		zap.String("order_id", event.OrderID),
		zap.String("customer_id", event.CustomerID),
		zap.String("transaction_id", event.TransactionID),
	)
	return nil
}

func (Log) PaymentReconciled(ctx context.Context, event models.PaymentReconciledEvent) error {
	logging.FromContext(ctx).Info("Payment reconciled",
		zap.String("order_id", event.OrderID),
		zap.String("transaction_id", event.TransactionID),
		zap.String("disposition", string(event.Disposition)),
	)
	return nil
}
