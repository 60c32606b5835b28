package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/malwarebo/cashback/utils"
)

type KafkaConfig struct {
	BootstrapServers string
	Topic            string
	ClientID         string
}

type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *utils.Logger
}

func CreateKafkaPublisher(config KafkaConfig) (*KafkaPublisher, error) {
	if config.BootstrapServers == "" || config.Topic == "" {
		return nil, fmt.Errorf("kafka bootstrap servers and topic are required")
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  config.BootstrapServers,
		"client.id":          config.ClientID,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, err
	}

	p := &KafkaPublisher{
		producer: producer,
		topic:    config.Topic,
		logger:   utils.CreateLogger("kafka-publisher"),
	}
	go p.watchErrors()
	return p, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.TenantID),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}, delivery)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-delivery:
		msg, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected kafka delivery event %v", ev)
		}
		return msg.TopicPartition.Error
	}
}

// watchErrors logs client-level errors that are not tied to a single delivery.
func (p *KafkaPublisher) watchErrors() {
	for ev := range p.producer.Events() {
		if e, ok := ev.(kafka.Error); ok {
			p.logger.Error(context.Background(), "Kafka producer error", map[string]interface{}{
				"error": e.Error(),
				"fatal": e.IsFatal(),
			})
		}
	}
}

func (p *KafkaPublisher) Close() {
	p.producer.Flush(5000)
	p.producer.Close()
}
