package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"alertdesk/internal/domain"
	"alertdesk/internal/queue"

	"github.com/nats-io/nats.go"
)

// NATSOptions selects the completion subject prefix.
type NATSOptions struct {
	URL     []string
	Subject string
}

// Completion is the published wire form of domain.TaskCompletion.
type Completion struct {
	RequestID   string          `json:"request_id"`
	Key         string          `json:"key"`
	Type        domain.TaskType `json:"type"`
	TargetID    *int64          `json:"target_id,omitempty"`
	Source      string          `json:"source,omitempty"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	Permanent   bool            `json:"permanent,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	StartedAt   string          `json:"started_at"`
	CompletedAt string          `json:"completed_at"`
	Data        any             `json:"data,omitempty"`
}

// NATSPublisher publishes task completions to "<subject>.<task type>".
// Publishing is fire-and-forget; failures are logged.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects publisher.
// Params: NATS options and optional logger.
// Returns: publisher or connect error.
func NewNATSPublisher(opts NATSOptions, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(strings.Join(opts.URL, ","), nats.Name("alertdesk-events"))
	if err != nil {
		return nil, fmt.Errorf("connect nats events: %w", err)
	}
	return &NATSPublisher{nc: nc, subject: opts.Subject, logger: logger}, nil
}

// Subject returns the subject used for one task type.
func (p *NATSPublisher) Subject(taskType domain.TaskType) string {
	return p.subject + "." + string(taskType)
}

// Listener adapts publisher to scheduler completion notifications.
func (p *NATSPublisher) Listener() queue.Listener {
	return queue.Listener{OnCompleted: p.Publish}
}

// Publish sends one completion event.
func (p *NATSPublisher) Publish(completion domain.TaskCompletion) {
	body, err := json.Marshal(toWire(completion))
	if err != nil {
		p.logger.Warn("completion encode failed", "task_key", completion.Key(), "error", err.Error())
		return
	}
	msg := nats.NewMsg(p.Subject(completion.Type))
	msg.Data = body
	msg.Header.Set("Nats-Msg-Id", completion.RequestID)
	if err := p.nc.PublishMsg(msg); err != nil {
		p.logger.Warn("completion publish failed", "task_key", completion.Key(), "error", err.Error())
	}
}

func toWire(c domain.TaskCompletion) Completion {
	const layout = "2006-01-02T15:04:05.000Z07:00"
	return Completion{
		RequestID:   c.RequestID,
		Key:         c.Key(),
		Type:        c.Type,
		TargetID:    c.TargetID,
		Source:      c.Source,
		Success:     c.Success,
		Error:       c.ErrorMessage,
		Permanent:   c.Permanent,
		DurationMS:  c.Duration.Milliseconds(),
		StartedAt:   c.StartedAt.Format(layout),
		CompletedAt: c.CompletedAt.Format(layout),
		Data:        c.Data,
	}
}

// Close flushes pending publishes and closes connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	err := p.nc.Flush()
	p.nc.Close()
	return err
}
