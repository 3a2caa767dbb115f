package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"alertdesk/internal/domain"
)

const maxBatchSize = 1000

// submitPayload is the wire shape of one run-now request.
type submitPayload struct {
	Type        domain.TaskType `json:"type"`
	TargetID    *int64          `json:"target_id"`
	Priority    int             `json:"priority"`
	Source      string          `json:"source"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
}

// toRequest validates payload and applies manual-submission defaults.
func (p submitPayload) toRequest() (domain.TaskRequest, error) {
	if !p.Type.Valid() {
		return domain.TaskRequest{}, fmt.Errorf("unsupported task type %q", p.Type)
	}
	switch p.Type {
	case domain.TaskRuleCheck, domain.TaskStatRefresh:
		if p.TargetID == nil {
			return domain.TaskRequest{}, fmt.Errorf("%s requires target_id", p.Type)
		}
	case domain.TaskAlertListRefresh:
		if p.TargetID != nil {
			return domain.TaskRequest{}, fmt.Errorf("%s takes no target_id", p.Type)
		}
	}
	req := domain.TaskRequest{
		Type:     p.Type,
		TargetID: p.TargetID,
		Priority: p.Priority,
		Source:   p.Source,
	}
	if req.Priority == 0 {
		req.Priority = domain.PriorityUser
	}
	if req.Source == "" {
		req.Source = domain.SourceManual
	}
	if p.ScheduledAt != nil {
		req.ScheduledAt = *p.ScheduledAt
	}
	return req, nil
}

// DecodeRequest decodes one JSON object into a task request.
// Params: request body.
// Returns: validated request or decode error.
func DecodeRequest(body []byte) (domain.TaskRequest, error) {
	decoder := newDecoder(body)
	var payload submitPayload
	if err := decoder.Decode(&payload); err != nil {
		return domain.TaskRequest{}, fmt.Errorf("decode request: %w", err)
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return domain.TaskRequest{}, err
	}
	return payload.toRequest()
}

// DecodeBatch decodes a JSON array of task requests.
// Params: request body.
// Returns: validated requests or first decode/validation error with its index.
func DecodeBatch(body []byte) ([]domain.TaskRequest, error) {
	decoder := newDecoder(body)
	var payloads []submitPayload
	if err := decoder.Decode(&payloads); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, errors.New("batch is empty")
	}
	if len(payloads) > maxBatchSize {
		return nil, fmt.Errorf("batch exceeds %d requests", maxBatchSize)
	}
	out := make([]domain.TaskRequest, 0, len(payloads))
	for i, payload := range payloads {
		req, err := payload.toRequest()
		if err != nil {
			return nil, fmt.Errorf("batch[%d]: %w", i, err)
		}
		out = append(out, req)
	}
	return out, nil
}

// isBatchBody reports whether body is a JSON array.
func isBatchBody(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func newDecoder(body []byte) *json.Decoder {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	return decoder
}

// ensureJSONEOF rejects trailing tokens after the first JSON value.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return errors.New("unexpected trailing JSON value")
		}
		return fmt.Errorf("decode trailing data: %w", err)
	}
	return nil
}
