package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"alertdesk/internal/domain"
)

// Submitter accepts run-now requests; implemented by queue.Scheduler.
type Submitter interface {
	Submit(req domain.TaskRequest) bool
	SubmitBatch(reqs []domain.TaskRequest, spacing time.Duration) int
	Cancel(key string) int
}

// HTTPHandler serves run-now submission and cancellation.
// Params: submitter, body size limit, logger.
// Returns: handler for the tasks endpoint.
type HTTPHandler struct {
	submitter   Submitter
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPHandler creates tasks HTTP handler.
func NewHTTPHandler(submitter Submitter, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{submitter: submitter, maxBodySize: maxBodySize, logger: logger}
}

type submitResponse struct {
	Accepted bool   `json:"accepted"`
	Key      string `json:"key"`
}

type batchResponse struct {
	Requested int `json:"requested"`
	Accepted  int `json:"accepted"`
}

type cancelResponse struct {
	Key       string `json:"key"`
	Cancelled int    `json:"cancelled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP handles POST (single object or array) and DELETE ?key=.
// A deduplicated single request answers 409.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	switch request.Method {
	case http.MethodPost:
		h.submit(writer, request)
	case http.MethodDelete:
		h.cancel(writer, request)
	default:
		writer.Header().Set("Allow", "POST, DELETE")
		writer.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) submit(writer http.ResponseWriter, request *http.Request) {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(writer, status, errorResponse{Error: err.Error()})
		return
	}

	if isBatchBody(body) || strings.HasSuffix(request.URL.Path, "/batch") {
		reqs, err := DecodeBatch(body)
		if err != nil {
			writeJSON(writer, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		accepted := h.submitter.SubmitBatch(reqs, 0)
		h.logger.Info("manual batch submitted", "requested", len(reqs), "accepted", accepted)
		writeJSON(writer, http.StatusAccepted, batchResponse{Requested: len(reqs), Accepted: accepted})
		return
	}

	req, err := DecodeRequest(body)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	resp := submitResponse{Key: req.Key(), Accepted: h.submitter.Submit(req)}
	if !resp.Accepted {
		writeJSON(writer, http.StatusConflict, resp)
		return
	}
	h.logger.Info("manual task submitted", "task_key", resp.Key, "priority", req.Priority)
	writeJSON(writer, http.StatusAccepted, resp)
}

func (h *HTTPHandler) cancel(writer http.ResponseWriter, request *http.Request) {
	key := strings.TrimSpace(request.URL.Query().Get("key"))
	if key == "" {
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: "key query parameter is required"})
		return
	}
	removed := h.submitter.Cancel(key)
	h.logger.Info("queued tasks cancelled", "task_key", key, "removed", removed)
	writeJSON(writer, http.StatusOK, cancelResponse{Key: key, Cancelled: removed})
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
