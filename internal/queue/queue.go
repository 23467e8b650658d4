// Package queue carries certificate jobs over NATS JetStream. A single durable
// pull consumer hands jobs out one at a time, which serializes them per
// deployment on top of the document lock.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/metrics"
)

// Job is the queued form of a certificate request.
type Job struct {
	JobID      string    `json:"jobId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Client holds the NATS connection and JetStream context.
type Client struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg config.QueueConfig
	log *logger.Logger
}

// Connect dials NATS and makes sure the stream exists.
func Connect(cfg config.QueueConfig, log *logger.Logger) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("certgen"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c := &Client{nc: nc, js: js, cfg: cfg, log: log.WithComponent("queue")}
	if err := c.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureStream() error {
	_, err := c.js.StreamInfo(c.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", c.cfg.Stream, err)
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{streamSubjects(c.cfg.Subject)},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", c.cfg.Stream, err)
	}
	c.log.Info().Str("stream", c.cfg.Stream).Msg("stream created")
	return nil
}

// streamSubjects turns "CERTIFICATES.generate" into "CERTIFICATES.*".
func streamSubjects(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i > 0 {
		return subject[:i] + ".*"
	}
	return subject
}

// Enqueue publishes job. The job id doubles as the JetStream message id, so a
// retried publish within the duplicate window is stored once.
func (c *Client) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if _, err := c.js.Publish(c.cfg.Subject, data, nats.Context(ctx), nats.MsgId(job.JobID)); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.JobID, err)
	}
	metrics.IncQueue("published")
	c.log.Debug().Str("job_id", job.JobID).Msg("job enqueued")
	return nil
}

// HealthCheck reports whether the connection is usable.
func (c *Client) HealthCheck(context.Context) error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats connection is %s", c.nc.Status())
	}
	return nil
}

// Close drains the connection.
func (c *Client) Close() {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}
