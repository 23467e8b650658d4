package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/database"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/pipeline"
	"github.com/certgen/certgen/internal/queue"
)

const maxBodyBytes = 64 << 10

// Runner executes a certificate job synchronously.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Enqueuer hands a job to the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	runner Runner
	queue  Enqueuer
	db     *database.Postgres
	rdb    *database.Redis
	log    *logger.Logger
	cfg    *config.Config
}

// New creates a new Handler instance. q, db and rdb may be nil when the
// corresponding feature is disabled; with a queue, requests are enqueued
// instead of run inline.
func New(runner Runner, q Enqueuer, db *database.Postgres, rdb *database.Redis, log *logger.Logger, cfg *config.Config) *Handler {
	return &Handler{
		runner: runner,
		queue:  q,
		db:     db,
		rdb:    rdb,
		log:    log.WithComponent("handler"),
		cfg:    cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	for k, v := range details {
		body[k] = v
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}
