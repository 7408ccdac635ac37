package telemetry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/solatis/watchkeeper/internal/types"
)

// kafkaQueueSize bounds messages waiting for the producer.
const kafkaQueueSize = 1024

// KafkaPublisher writes state and detection reports to two topics through
// an async producer, keyed by device so one device's messages stay ordered.
// Publishes go through a bounded queue; when it is full the message is
// dropped and logged.
type KafkaPublisher struct {
	producer        sarama.AsyncProducer
	stateTopic      string
	detectionsTopic string
	logger          *slog.Logger
	now             func() time.Time
	queue           chan *sarama.ProducerMessage
	closeOnce       sync.Once
	wg              sync.WaitGroup
}

// NewKafkaProducerConfig returns the sarama config used by DialKafka.
func NewKafkaProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	return config
}

// DialKafka creates an async producer against brokers.
func DialKafka(brokers []string, stateTopic, detectionsTopic string, logger *slog.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewAsyncProducer(brokers, NewKafkaProducerConfig())
	if err != nil {
		return nil, types.WrapTransient("connect", fmt.Sprint(brokers), err)
	}
	return NewKafkaPublisher(producer, stateTopic, detectionsTopic, logger), nil
}

// NewKafkaPublisher wraps producer and starts draining its error channel.
func NewKafkaPublisher(producer sarama.AsyncProducer, stateTopic, detectionsTopic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &KafkaPublisher{
		producer:        producer,
		stateTopic:      stateTopic,
		detectionsTopic: detectionsTopic,
		logger:          logger,
		now:             time.Now,
		queue:           make(chan *sarama.ProducerMessage, kafkaQueueSize),
	}
	p.wg.Add(2)
	go p.forward()
	go p.drainErrors()
	return p
}

func (p *KafkaPublisher) forward() {
	defer p.wg.Done()
	for msg := range p.queue {
		p.producer.Input() <- msg
	}
	p.producer.AsyncClose()
}

func (p *KafkaPublisher) drainErrors() {
	defer p.wg.Done()
	for perr := range p.producer.Errors() {
		p.logger.Warn("kafka publish failed", "topic", perr.Msg.Topic, "error", perr.Err)
	}
}

func (p *KafkaPublisher) enqueue(topic string, device types.DeviceID, data []byte) {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(device),
		Value: sarama.ByteEncoder(data),
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn("kafka queue full, dropping message", "topic", topic, "device", device)
	}
}

func (p *KafkaPublisher) PublishState(device types.DeviceID, active bool, detail *types.StateDetail) {
	data, err := encodeState(device, active, detail, p.now())
	if err != nil {
		p.logger.Error("encode state", "device", device, "error", err)
		return
	}
	p.enqueue(p.stateTopic, device, data)
}

func (p *KafkaPublisher) PublishDetections(device types.DeviceID, batch types.DetectionBatch) {
	if p.detectionsTopic == "" {
		return
	}
	data, err := encodeDetections(device, batch)
	if err != nil {
		p.logger.Error("encode detections", "device", device, "error", err)
		return
	}
	p.enqueue(p.detectionsTopic, device, data)
}

// Close drains the queue into the producer, closes it and waits for the
// error drain to finish. Publishing after Close panics.
func (p *KafkaPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
	return nil
}
