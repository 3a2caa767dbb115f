package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSOptions selects the run-now request subject.
type NATSOptions struct {
	URL        []string
	Subject    string
	QueueGroup string
}

// NATSSubscriber accepts run-now requests on a queue-group subscription.
// Requests with a reply subject get the same JSON answer as the HTTP handler.
type NATSSubscriber struct {
	nc        *nats.Conn
	sub       *nats.Subscription
	submitter Submitter
	logger    *slog.Logger
}

// NewNATSSubscriber connects and subscribes to request subject.
// Params: NATS options, submitter, optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(opts NATSOptions, submitter Submitter, logger *slog.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(strings.Join(opts.URL, ","), nats.Name("alertdesk-requests"))
	if err != nil {
		return nil, fmt.Errorf("connect nats requests: %w", err)
	}
	subscriber := &NATSSubscriber{nc: nc, submitter: submitter, logger: logger}
	sub, err := nc.QueueSubscribe(opts.Subject, opts.QueueGroup, subscriber.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", opts.Subject, opts.QueueGroup, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

func (s *NATSSubscriber) handle(message *nats.Msg) {
	if isBatchBody(message.Data) {
		reqs, err := DecodeBatch(message.Data)
		if err != nil {
			s.logger.Warn("nats request decode failed", "subject", message.Subject, "error", err.Error())
			s.reply(message, errorResponse{Error: err.Error()})
			return
		}
		accepted := s.submitter.SubmitBatch(reqs, 0)
		s.reply(message, batchResponse{Requested: len(reqs), Accepted: accepted})
		return
	}

	req, err := DecodeRequest(message.Data)
	if err != nil {
		s.logger.Warn("nats request decode failed", "subject", message.Subject, "error", err.Error())
		s.reply(message, errorResponse{Error: err.Error()})
		return
	}
	s.reply(message, submitResponse{Key: req.Key(), Accepted: s.submitter.Submit(req)})
}

func (s *NATSSubscriber) reply(message *nats.Msg, payload any) {
	if message.Reply == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := message.Respond(body); err != nil {
		s.logger.Warn("nats request reply failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains subscription and closes connection.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
