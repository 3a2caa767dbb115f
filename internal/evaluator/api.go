package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"alertdesk/internal/domain"
	"alertdesk/internal/permanent"
	"alertdesk/internal/source"
	"alertdesk/internal/templatefmt"
)

const responseTextLimit = 200

// Fetcher performs one HTTP request for an API rule.
type Fetcher interface {
	Fetch(ctx context.Context, req source.HTTPRequest) (source.HTTPResponse, error)
}

// APIEvaluator judges HTTP responses at request, text or JSON level.
type APIEvaluator struct {
	fetcher Fetcher
}

// NewAPIEvaluator creates API rule evaluator.
// Params: HTTP fetcher.
// Returns: evaluator for source type api.
func NewAPIEvaluator(fetcher Fetcher) *APIEvaluator {
	return &APIEvaluator{fetcher: fetcher}
}

// Evaluate issues the request then branches on judge level.
func (e *APIEvaluator) Evaluate(ctx context.Context, rule domain.AlertRule) ([]domain.AlertTuple, error) {
	req, err := source.BuildRequest(rule.HTTPSource)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	level := rule.JudgeLevel
	if level == "" {
		level = domain.JudgeRequest
	}
	switch level {
	case domain.JudgeRequest, domain.JudgeResponseText, domain.JudgeJSONParse:
	default:
		return nil, permanent.Errorf("rule %q: unsupported judge level %q", rule.Name, rule.JudgeLevel)
	}
	if level == domain.JudgeResponseText && !rule.JudgeOperator.Textual() {
		return nil, permanent.Errorf("rule %q: response text judgment supports only contains/not_contains", rule.Name)
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	switch level {
	case domain.JudgeRequest:
		return judgeRequest(rule, req.URL, resp), nil
	case domain.JudgeResponseText:
		return judgeResponseText(rule, req.URL, resp), nil
	default:
		return judgeJSON(rule, req.URL, resp)
	}
}

func judgeRequest(rule domain.AlertRule, url string, resp source.HTTPResponse) []domain.AlertTuple {
	if resp.Success() {
		return nil
	}
	row := domain.NewRow(2)
	row.Set("StatusCode", domain.Number(float64(resp.StatusCode), strconv.Itoa(resp.StatusCode)))
	row.Set("ReasonPhrase", domain.String(resp.Reason))
	return []domain.AlertTuple{{
		Key:     domain.StringKey(url),
		Message: templatefmt.Render(rule.MessageTemplate, templatefmt.NamespaceAPI, row),
		RawData: row.JSON(),
	}}
}

func judgeResponseText(rule domain.AlertRule, url string, resp source.HTTPResponse) []domain.AlertTuple {
	if rule.JudgeValue == "" {
		return nil
	}
	text := string(resp.Body)
	contains := strings.Contains(text, rule.JudgeValue)
	if contains != (rule.JudgeOperator == domain.OpContains) {
		return nil
	}
	row := domain.NewRow(1)
	row.Set("ResponseText", domain.String(templatefmt.Truncate(text, responseTextLimit)))
	return []domain.AlertTuple{{
		Key:     domain.StringKey(url),
		Message: templatefmt.Render(rule.MessageTemplate, templatefmt.NamespaceAPI, row),
		RawData: row.JSON(),
	}}
}

func judgeJSON(rule domain.AlertRule, url string, resp source.HTTPResponse) ([]domain.AlertTuple, error) {
	node, err := source.Resolve(resp.Body, rule.DataPath)
	if err != nil {
		switch {
		case errors.Is(err, source.ErrInvalidJSON):
			return []domain.AlertTuple{diagnostic(url, "response is not valid json", resp.Body)}, nil
		case errors.Is(err, source.ErrPathNotFound):
			return []domain.AlertTuple{diagnostic(url, fmt.Sprintf("data path %q not found in response", rule.DataPath), resp.Body)}, nil
		default:
			return nil, err
		}
	}
	rows := source.ObjectRows(node)
	if len(rows) == 0 {
		return nil, nil
	}
	return Judge(rows, rule, templatefmt.NamespaceAPI)
}

// diagnostic reports malformed data as one alert keyed by the endpoint URL.
func diagnostic(url, reason string, body []byte) domain.AlertTuple {
	return domain.AlertTuple{
		Key:     domain.StringKey(url),
		Message: "json parse failed: " + reason,
		RawData: templatefmt.Truncate(string(body), responseTextLimit),
	}
}
