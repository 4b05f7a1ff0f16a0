package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler processes one message. A returned error is logged and slows the
// fetch loop; the message is not redelivered once a later offset commits.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	logger  *slog.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	})
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{r: r, workers: workers, logger: logger.With(slog.String("topic", topic), slog.String("group", group))}
}

// Start fetches messages and fans them out to workers until ctx is done.
// A message's offset is committed after the handler returns nil.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	errs := make(chan error, c.workers)

	var wg sync.WaitGroup
	for range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				if err := h(ctx, m); err != nil {
					c.report(errs, m, err)
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					c.report(errs, m, err)
				}
			}
		}()
	}
	stop := func() {
		close(jobs)
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			stop()
			return nil
		}

		// back off a little while workers are failing
		select {
		case <-errs:
			time.Sleep(200 * time.Millisecond)
		default:
		}
	}
}

func (c *Consumer) report(errs chan<- error, m kafka.Message, err error) {
	c.logger.Error("message handling failed",
		slog.Int("partition", m.Partition),
		slog.Int64("offset", m.Offset),
		slog.String("event_type", HeaderValue(m, HeaderEventType)),
		slog.String("error", err.Error()))
	select {
	case errs <- err:
	default:
	}
}
