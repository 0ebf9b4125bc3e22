package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
)

// KafkaNotifier - реализация NotifierPort поверх Kafka producer.
// Consumer-части у движка синхронизации нет: он только производит события.
type KafkaNotifier struct {
	producer *kafka.Producer
	logger   interfaces.LoggerPort
}

// NewKafkaNotifier создает новый экземпляр KafkaNotifier
func NewKafkaNotifier(brokers []string, logger interfaces.LoggerPort) (interfaces.NotifierPort, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":            strings.Join(brokers, ","),
		"client.id":                    "gomarket-sync-producer",
		"acks":                         "all", // максимальная надежность
		"retries":                      5,
		"retry.backoff.ms":             500,
		"compression.type":             "snappy",
		"linger.ms":                    10, // небольшая задержка для батчинга
		"batch.size":                   16384,
		"queue.buffering.max.messages": 100000,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka producer: %w", err)
	}

	n := &KafkaNotifier{producer: producer, logger: logger}

	// Фоновое чтение отчетов о доставке, чтобы не переполнять внутреннюю очередь
	go n.drainDeliveryReports()

	return n, nil
}

// drainDeliveryReports читает события от producer и логирует сбои доставки
func (n *KafkaNotifier) drainDeliveryReports() {
	for e := range n.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			n.logger.Error("Ошибка доставки события",
				interfaces.LogField{Key: "topic", Value: *m.TopicPartition.Topic},
				interfaces.LogField{Key: "error", Value: m.TopicPartition.Error.Error()},
			)
		}
	}
}

// Publish публикует сообщение в указанную тему
func (n *KafkaNotifier) Publish(ctx context.Context, topic string, message []byte) error {
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          message,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(uuid.New().String())},
			{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
		},
	}
	return n.producer.Produce(msg, nil)
}

// Close дожидается отправки буфера и закрывает producer
func (n *KafkaNotifier) Close() error {
	n.producer.Flush(5000)
	n.producer.Close()
	return nil
}
