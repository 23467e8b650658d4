package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/middleware"
	"github.com/certgen/certgen/internal/pipeline"
	"github.com/certgen/certgen/internal/queue"
)

// GenerateCertificateRequest is the form trigger payload.
type GenerateCertificateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GenerateCertificateResponse is returned when a job finished or was queued.
type GenerateCertificateResponse struct {
	Msg   string `json:"msg"`
	JobID string `json:"jobId"`
}

// publicMessages maps error kinds to caller-facing text. Internal error
// details stay in the logs.
var publicMessages = map[string]string{
	certerr.KindAuth:          "The certificate service is not authorized to use the template or the mailbox",
	certerr.KindConflict:      "The template was modified concurrently, please retry",
	certerr.KindNotFound:      "The certificate template is unavailable",
	certerr.KindFetch:         "The rendered certificate could not be downloaded, please retry",
	certerr.KindTransient:     "A remote service is temporarily unavailable, please retry",
	certerr.KindTemplateDirty: "The certificate template needs maintenance",
	certerr.KindInvalidInput:  "The name or email address is invalid",
	certerr.KindCanceled:      "The request was canceled",
	certerr.KindInternal:      "An unexpected error occurred",
}

// GenerateCertificate handles POST /generateCertificate.
func (h *Handler) GenerateCertificate(w http.ResponseWriter, r *http.Request) {
	var req GenerateCertificateRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, certerr.KindInvalidInput, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, certerr.KindInvalidInput, "name and email are required")
		return
	}

	jobID := uuid.NewString()
	log := h.log.WithJobID(jobID).WithRequestID(middleware.GetRequestID(r.Context()))

	if h.queue != nil {
		err := h.queue.Enqueue(r.Context(), queue.Job{JobID: jobID, Name: req.Name, Email: req.Email})
		if err != nil {
			log.Error().Err(err).Msg("failed to enqueue job")
			writeErrorWithDetails(w, http.StatusServiceUnavailable, "queue_unavailable",
				"The job could not be queued, please retry", map[string]interface{}{"jobId": jobID})
			return
		}
		writeJSON(w, http.StatusAccepted, GenerateCertificateResponse{Msg: "queued", JobID: jobID})
		return
	}

	ctx := r.Context()
	if h.cfg != nil && h.cfg.Timeouts.Job > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeouts.Job)
		defer cancel()
	}

	res, err := h.runner.Run(ctx, pipeline.Request{JobID: jobID, Name: req.Name, Email: req.Email})
	if err != nil {
		kind := certerr.Kind(err)
		var jobErr *pipeline.JobError
		if errors.As(err, &jobErr) {
			jobID = jobErr.JobID
		}
		log.Warn().Err(err).Str("kind", kind).Msg("certificate job failed")
		writeErrorWithDetails(w, http.StatusBadRequest, kind, publicMessage(kind),
			map[string]interface{}{"jobId": jobID})
		return
	}

	writeJSON(w, http.StatusOK, GenerateCertificateResponse{Msg: "done", JobID: res.JobID})
}

func publicMessage(kind string) string {
	if msg, ok := publicMessages[kind]; ok {
		return msg
	}
	return publicMessages[certerr.KindInternal]
}
