package middleware

import (
	"net/http"

	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/database"
	"github.com/certgen/certgen/internal/logger"
)

// Middleware holds all HTTP middleware. rdb is nil when Redis is disabled,
// which turns rate limiting off.
type Middleware struct {
	rdb *database.Redis
	log *logger.Logger
	cfg *config.Config
}

// New creates a new Middleware instance
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb: rdb,
		log: log.WithComponent("http"),
		cfg: cfg,
	}
}

// Chain wraps h so that the first middleware listed runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
