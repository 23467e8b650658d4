package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/metrics"
	"github.com/certgen/certgen/internal/pipeline"
)

const (
	fetchWait = 10 * time.Second
	// Delay before a nak'ed job is redelivered, multiplied by the delivery count.
	retryDelay = 5 * time.Second
)

// Runner executes a job.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Consumer pulls jobs one at a time and runs them.
type Consumer struct {
	sub    *nats.Subscription
	runner Runner
	log    *logger.Logger
}

// NewConsumer binds the durable pull consumer.
func (c *Client) NewConsumer(runner Runner) (*Consumer, error) {
	sub, err := c.js.PullSubscribe(c.cfg.Subject, c.cfg.Durable,
		nats.BindStream(c.cfg.Stream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(c.cfg.MaxDeliver),
		nats.MaxAckPending(1),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{sub: sub, runner: runner, log: c.log}, nil
}

// Run processes jobs until ctx is canceled.
func (w *Consumer) Run(ctx context.Context) error {
	w.log.Info().Msg("consumer started, waiting for jobs")
	for {
		if ctx.Err() != nil {
			return nil
		}

		fctx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := w.sub.Fetch(1, nats.Context(fctx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.log.Error().Err(err).Msg("failed to fetch job")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			w.process(ctx, msg)
		}
	}
}

func (w *Consumer) process(ctx context.Context, msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.JobID == "" {
		w.log.Error().Err(err).Msg("undecodable job, discarding")
		_ = msg.Term()
		metrics.IncQueue("terminated")
		return
	}

	var delivered uint64 = 1
	if md, err := msg.Metadata(); err == nil {
		delivered = md.NumDelivered
	}
	log := w.log.WithJobID(job.JobID)

	_, err := w.runner.Run(ctx, pipeline.Request{JobID: job.JobID, Name: job.Name, Email: job.Email})
	switch disposition(ctx, err) {
	case ack:
		if err != nil {
			log.Warn().Str("kind", certerr.Kind(err)).Msg("job failed permanently")
		}
		_ = msg.Ack()
		metrics.IncQueue("acked")
	case nak:
		log.Warn().Err(err).Uint64("delivered", delivered).Msg("job failed, will be redelivered")
		_ = msg.NakWithDelay(time.Duration(delivered) * retryDelay)
		metrics.IncQueue("nacked")
	}
}

type action int

const (
	ack action = iota
	nak
)

// disposition decides whether a finished job leaves the queue. Jobs that may
// succeed on a later attempt go back, everything else is acknowledged so a
// poison message cannot block the consumer.
func disposition(ctx context.Context, err error) action {
	switch {
	case err == nil:
		return ack
	case ctx.Err() != nil:
		// Shutdown interrupted the job; let another worker pick it up.
		return nak
	case certerr.Retryable(err):
		return nak
	default:
		return ack
	}
}
