package stream

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/cloudevents/sdk-go/protocol/kafka_sarama/v2"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/tozny/localqueue/logging"
)

const defaultSource = "localqueue"

// KafkaPublisherConfig wraps configuration for a Kafka backed Publisher
type KafkaPublisherConfig struct {
	BrokerEndpoints []string       // List of broker endpoints used to publish events
	Topic           string         // Kafka topic events are published to
	Source          string         // CloudEvent source attribute, defaults to "localqueue"
	Logger          logging.Logger // Logger to use for publish trace logs
}

// KafkaPublisher publishes message lifecycle events as CloudEvents to a Kafka topic,
// keyed by queue name so the events of one queue stay in one partition.
type KafkaPublisher struct {
	topic  string
	source string
	logger logging.Logger
	sender *kafka_sarama.Sender
	client cloudevents.Client
}

// NewKafkaPublisher connects a synchronous producer to the configured brokers,
// returning a publisher wrapping it and error (if any).
func NewKafkaPublisher(config KafkaPublisherConfig) (*KafkaPublisher, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producer, err := sarama.NewSyncProducer(config.BrokerEndpoints, kafkaConfig)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisherFromProducer(config, producer)
}

// NewKafkaPublisherFromProducer wraps an existing producer. Closing the publisher
// closes the producer.
func NewKafkaPublisherFromProducer(config KafkaPublisherConfig, producer sarama.SyncProducer) (*KafkaPublisher, error) {
	sender, err := kafka_sarama.NewSenderFromSyncProducer(config.Topic, producer)
	if err != nil {
		return nil, fmt.Errorf("creating cloudevents sender: %w", err)
	}
	client, err := cloudevents.NewClient(sender, cloudevents.WithTimeNow(), cloudevents.WithUUIDs())
	if err != nil {
		return nil, fmt.Errorf("creating cloudevents client: %w", err)
	}
	if config.Logger == nil {
		config.Logger = logging.NewNopLogger()
	}
	source := config.Source
	if source == "" {
		source = defaultSource
	}
	return &KafkaPublisher{
		topic:  config.Topic,
		source: source,
		logger: config.Logger,
		sender: sender,
		client: client,
	}, nil
}

type eventData struct {
	Queue     string `json:"queue"`
	MessageID string `json:"message_id"`
}

// Publish sends event to the topic, returning error (if any).
func (kp *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	cloudEvent := cloudevents.NewEvent()
	cloudEvent.SetID(uuid.New().String())
	cloudEvent.SetType(EventTypePrefix + event.Kind)
	cloudEvent.SetSource(kp.source)
	cloudEvent.SetSubject(event.Queue)
	if !event.Timestamp.IsZero() {
		cloudEvent.SetTime(event.Timestamp)
	}
	if err := cloudEvent.SetData(cloudevents.ApplicationJSON, eventData{
		Queue:     event.Queue,
		MessageID: event.MessageID,
	}); err != nil {
		return err
	}
	result := kp.client.Send(kafka_sarama.WithMessageKey(ctx, sarama.StringEncoder(event.Queue)), cloudEvent)
	if cloudevents.IsUndelivered(result) {
		return fmt.Errorf("publishing %s event to %s: %w", event.Kind, kp.topic, result)
	}
	kp.logger.Debugf("Publish: published %s event for message %s of queue %s", event.Kind, event.MessageID, event.Queue)
	return nil
}

// Close closes the underlying producer.
func (kp *KafkaPublisher) Close() {
	if err := kp.sender.Close(context.Background()); err != nil {
		kp.logger.Errorf("Close: error %s closing kafka producer", err)
	}
}
