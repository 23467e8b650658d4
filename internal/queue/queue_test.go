package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/pipeline"
)

func TestStreamSubjects(t *testing.T) {
	assert.Equal(t, "CERTIFICATES.*", streamSubjects("CERTIFICATES.generate"))
	assert.Equal(t, "jobs", streamSubjects("jobs"))
}

func TestDisposition(t *testing.T) {
	live := context.Background()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want action
	}{
		{"success", live, nil, ack},
		{"conflict", live, fmt.Errorf("apply: %w", certerr.ErrConflict), nak},
		{"transient", live, certerr.ErrTransient, nak},
		{"fetch", live, certerr.ErrFetch, nak},
		{"invalid", live, certerr.ErrInvalidInput, ack},
		{"auth", live, certerr.ErrAuth, ack},
		{"dirty", live, &certerr.TemplateDirtyError{DocumentID: "d", Name: "n", JobErr: certerr.ErrTransient, ResetErr: certerr.ErrTransient}, ack},
		{"shutdown", canceled, context.Canceled, nak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, disposition(tt.ctx, tt.err))
		})
	}
}

type runnerFunc func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	return f(ctx, req)
}

// Requires a JetStream-enabled server, e.g. `nats-server -js`.
func TestClient_EnqueueAndConsume(t *testing.T) {
	url := os.Getenv("CERTGEN_TEST_NATS_URL")
	if url == "" {
		t.Skip("CERTGEN_TEST_NATS_URL not set")
	}

	suffix := uuid.NewString()[:8]
	cfg := config.QueueConfig{
		URL:        url,
		Stream:     "CERTTEST_" + suffix,
		Subject:    "CERTTEST_" + suffix + ".generate",
		Durable:    "certtest-" + suffix,
		MaxDeliver: 3,
	}
	c, err := Connect(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.js.DeleteStream(cfg.Stream)
		c.Close()
	})
	require.NoError(t, c.HealthCheck(context.Background()))

	var (
		mu   sync.Mutex
		seen []pipeline.Request
	)
	done := make(chan struct{}, 2)
	consumer, err := c.NewConsumer(runnerFunc(func(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		done <- struct{}{}
		return &pipeline.Result{JobID: req.JobID}, nil
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- consumer.Run(ctx) }()

	require.NoError(t, c.Enqueue(ctx, Job{JobID: "job-1", Name: "Alice", Email: "alice@example.com"}))
	require.NoError(t, c.Enqueue(ctx, Job{JobID: "job-2", Name: "Bob", Email: "bob@example.com"}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			t.Fatal("job was not consumed")
		}
	}
	cancel()
	require.NoError(t, <-stopped)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, "job-1", seen[0].JobID)
	assert.Equal(t, "Alice", seen[0].Name)
	assert.Equal(t, "job-2", seen[1].JobID)
}
