package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chatline/internal/domain"

	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/amqp"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
	"go.uber.org/zap"
)

func newEnvironment(url, streamName string) (*stream.Environment, error) {
	env, err := stream.NewEnvironment(stream.NewEnvironmentOptions().SetUri(url))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq stream: %w", err)
	}
	err = env.DeclareStream(streamName, &stream.StreamOptions{
		MaxLengthBytes: stream.ByteCapacity{}.GB(2),
	})
	if err != nil && !errors.Is(err, stream.StreamAlreadyExists) {
		env.Close()
		return nil, fmt.Errorf("failed to declare stream %s: %w", streamName, err)
	}
	return env, nil
}

// StreamPublisher appends events to a RabbitMQ stream.
type StreamPublisher struct {
	env      *stream.Environment
	producer *stream.Producer
}

func NewStreamPublisher(url, streamName string) (*StreamPublisher, error) {
	env, err := newEnvironment(url, streamName)
	if err != nil {
		return nil, err
	}
	producer, err := env.NewProducer(streamName, stream.NewProducerOptions())
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to create stream producer: %w", err)
	}
	return &StreamPublisher{
		env:      env,
		producer: producer,
	}, nil
}

func (p *StreamPublisher) Publish(_ context.Context, event *domain.OutboxEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.producer.Send(amqp.NewMessage(body)); err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

func (p *StreamPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return err
	}
	return p.env.Close()
}

// TailStream consumes the stream from its first offset and hands every
// decodable event to fn until ctx is cancelled. Undecodable messages are
// logged and skipped.
func TailStream(ctx context.Context, url, streamName string, log *zap.Logger, fn func(*domain.OutboxEvent)) error {
	env, err := newEnvironment(url, streamName)
	if err != nil {
		return err
	}
	defer env.Close()

	consumer, err := env.NewConsumer(
		streamName,
		func(_ stream.ConsumerContext, message *amqp.Message) {
			handleStreamData(log, message.GetData(), fn)
		},
		stream.NewConsumerOptions().
			SetOffset(stream.OffsetSpecification{}.First()),
	)
	if err != nil {
		return fmt.Errorf("failed to start stream consumer: %w", err)
	}
	defer consumer.Close()

	<-ctx.Done()
	return nil
}

func handleStreamData(log *zap.Logger, data []byte, fn func(*domain.OutboxEvent)) {
	event, err := DecodeEvent(data)
	if err != nil {
		log.Warn("skipping undecodable stream message", zap.Int("size", len(data)), zap.Error(err))
		return
	}
	fn(event)
}

// DecodeEvent parses a published event body.
func DecodeEvent(data []byte) (*domain.OutboxEvent, error) {
	var event domain.OutboxEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &event, nil
}
