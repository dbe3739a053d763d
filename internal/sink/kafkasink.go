package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/shortontech/trafficgate/internal/event"
)

// KafkaConfig holds configuration for Kafka producer
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaSink produces decisions to Kafka keyed by event_id, so consumers can
// deduplicate redelivered records.
type KafkaSink struct {
	config   KafkaConfig
	producer *kafka.Producer

	// OnError, when set, is told about asynchronous delivery failures.
	OnError func(errorType string)
}

// NewKafkaSinkFromEnv creates a KafkaSink from environment variables
func NewKafkaSinkFromEnv() *KafkaSink {
	brokersStr := os.Getenv("KAFKA_BROKERS")
	if brokersStr == "" {
		brokersStr = "localhost:9092"
	}
	brokers := strings.Split(brokersStr, ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	config := KafkaConfig{
		Brokers:       brokers,
		Topic:         getEnvOr("KAFKA_TOPIC", "trafficgate.decisions"),
		Acks:          getEnvOr("KAFKA_ACKS", "all"),
		Compression:   getEnvOr("KAFKA_COMPRESSION", ""),
		SASLMechanism: os.Getenv("KAFKA_SASL_MECHANISM"),
		SASLUser:      os.Getenv("KAFKA_SASL_USER"),
		SASLPassword:  os.Getenv("KAFKA_SASL_PASSWORD"),
		TLSCAPath:     os.Getenv("KAFKA_TLS_CA"),
		TLSSkipVerify: getBoolEnv("KAFKA_TLS_SKIP_VERIFY", false),
	}

	return &KafkaSink{config: config}
}

// NewKafkaSink creates a KafkaSink with explicit configuration
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		config: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Acks:    "all",
		},
	}
}

// ConfigMap translates the sink settings into librdkafka properties.
func (c KafkaConfig) ConfigMap() kafka.ConfigMap {
	m := kafka.ConfigMap{
		"bootstrap.servers": strings.Join(c.Brokers, ","),
		"acks":              c.Acks,
		"retries":           10,
		"retry.backoff.ms":  100,
		"batch.size":        16384,
		"linger.ms":         10,
	}
	if c.Compression != "" {
		m["compression.type"] = c.Compression
	}
	if c.SASLMechanism != "" {
		m["security.protocol"] = "SASL_SSL"
		m["sasl.mechanism"] = c.SASLMechanism
		if c.SASLUser != "" {
			m["sasl.username"] = c.SASLUser
		}
		if c.SASLPassword != "" {
			m["sasl.password"] = c.SASLPassword
		}
	}
	if c.TLSCAPath != "" {
		if c.SASLMechanism == "" {
			m["security.protocol"] = "SSL"
		}
		m["ssl.ca.location"] = c.TLSCAPath
	}
	if c.TLSSkipVerify {
		m["ssl.endpoint.identification.algorithm"] = "none"
	}
	return m
}

func (s *KafkaSink) Start(ctx context.Context) error {
	configMap := s.config.ConfigMap()
	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	s.producer = producer

	go s.handleDeliveryReports(ctx, producer.Events())
	return nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Enqueue(e event.Decision) error {
	if s.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(e.EventID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "context", Value: []byte(e.Context)},
			{Key: "action", Value: []byte(e.Action)},
			{Key: "schema", Value: []byte("decision.v1")},
		},
	}

	err = s.producer.Produce(msg, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}

	remaining := s.producer.Flush(10 * 1000)
	if remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}

	s.producer.Close()
	return nil
}

// handleDeliveryReports processes delivery reports in background
func (s *KafkaSink) handleDeliveryReports(ctx context.Context, events chan kafka.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					log.Printf("sink: kafka delivery failed key=%s: %v", e.Key, e.TopicPartition.Error)
					s.reportError("delivery")
				}
			case kafka.Error:
				log.Printf("sink: kafka error: %v", e)
				s.reportError("client")
			}
		}
	}
}

func (s *KafkaSink) reportError(errorType string) {
	if s.OnError != nil {
		s.OnError(errorType)
	}
}

// Helper functions
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return defaultValue
}
