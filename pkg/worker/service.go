package worker

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// JobSource opens a prefetch-one consumer on the stats queue.
type JobSource interface {
	ConsumeJobs(consumerTag string) (<-chan amqp.Delivery, func() error, error)
}

// Service runs one Consumer as a suture service. Every restart opens a fresh
// broker channel.
type Service struct {
	source   JobSource
	consumer *Consumer
}

func NewService(source JobSource, consumer *Consumer) *Service {
	return &Service{source: source, consumer: consumer}
}

func (s *Service) Serve(ctx context.Context) error {
	deliveries, closeFn, err := s.source.ConsumeJobs(s.consumer.name)
	if err != nil {
		return fmt.Errorf("%s: %w", s.consumer.name, err)
	}
	defer func() { _ = closeFn() }()

	s.consumer.log.Info().Msg("waiting for jobs")
	return Run(ctx, s.consumer, deliveries)
}

func (s *Service) String() string { return s.consumer.name }

// Run handles deliveries sequentially until ctx ends or the stream closes.
func Run(ctx context.Context, c *Consumer, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.Handle(ctx, d)
		}
	}
}
