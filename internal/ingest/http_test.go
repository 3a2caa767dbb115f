package ingest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"alertdesk/internal/domain"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []domain.TaskRequest
	batches   [][]domain.TaskRequest
	cancelled []string
	reject    bool
}

func (f *fakeSubmitter) Submit(req domain.TaskRequest) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.submitted = append(f.submitted, req)
	return true
}

func (f *fakeSubmitter) SubmitBatch(reqs []domain.TaskRequest, _ time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, reqs)
	return len(reqs) - 1
}

func (f *fakeSubmitter) Cancel(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, key)
	return 2
}

func newTestHandler(sub *fakeSubmitter) *HTTPHandler {
	return NewHTTPHandler(sub, 1<<10, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)
	return response
}

func TestHTTPHandlerSubmitsManualRequest(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	response := serve(t, newTestHandler(sub), http.MethodPost, "/tasks", `{"type":"rule_check","target_id":42}`)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", response.Code, response.Body)
	}
	var got submitResponse
	if err := json.Unmarshal(response.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got.Accepted || got.Key != "rule_check:42" {
		t.Fatalf("unexpected response %+v", got)
	}
	if len(sub.submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(sub.submitted))
	}
	req := sub.submitted[0]
	if req.Priority != domain.PriorityUser || req.Source != domain.SourceManual || *req.TargetID != 42 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestHTTPHandlerKeepsExplicitPriorityAndSchedule(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	body := `{"type":"stat_refresh","target_id":3,"priority":8,"source":"ops","scheduled_at":"2026-03-01T08:00:00Z"}`
	if response := serve(t, newTestHandler(sub), http.MethodPost, "/tasks", body); response.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", response.Code)
	}
	req := sub.submitted[0]
	if req.Priority != 8 || req.Source != "ops" || !req.ScheduledAt.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestHTTPHandlerReportsDeduplicatedRequest(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{reject: true}
	response := serve(t, newTestHandler(sub), http.MethodPost, "/tasks", `{"type":"alert_list_refresh"}`)
	if response.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", response.Code)
	}
	if !strings.Contains(response.Body.String(), `"key":"alert_list_refresh"`) {
		t.Fatalf("unexpected body %s", response.Body)
	}
}

func TestHTTPHandlerSubmitsBatch(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	body := `[{"type":"rule_check","target_id":1},{"type":"rule_check","target_id":2}]`
	response := serve(t, newTestHandler(sub), http.MethodPost, "/tasks/batch", body)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", response.Code)
	}
	var got batchResponse
	if err := json.Unmarshal(response.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Requested != 2 || got.Accepted != 1 {
		t.Fatalf("unexpected batch response %+v", got)
	}
	if len(sub.batches) != 1 || len(sub.batches[0]) != 2 || sub.batches[0][1].Source != domain.SourceManual {
		t.Fatalf("unexpected batches %+v", sub.batches)
	}
}

func TestHTTPHandlerRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{name: "unknown type", method: http.MethodPost, target: "/tasks", body: `{"type":"reboot"}`, status: http.StatusBadRequest},
		{name: "missing target", method: http.MethodPost, target: "/tasks", body: `{"type":"rule_check"}`, status: http.StatusBadRequest},
		{name: "unexpected target", method: http.MethodPost, target: "/tasks", body: `{"type":"alert_list_refresh","target_id":1}`, status: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, target: "/tasks", body: `{"type":"rule_check","target_id":1,"x":1}`, status: http.StatusBadRequest},
		{name: "trailing value", method: http.MethodPost, target: "/tasks", body: `{"type":"alert_list_refresh"} {}`, status: http.StatusBadRequest},
		{name: "batch object", method: http.MethodPost, target: "/tasks/batch", body: `{"type":"alert_list_refresh"}`, status: http.StatusBadRequest},
		{name: "empty batch", method: http.MethodPost, target: "/tasks", body: `[]`, status: http.StatusBadRequest},
		{name: "bad batch entry", method: http.MethodPost, target: "/tasks", body: `[{"type":"rule_check"}]`, status: http.StatusBadRequest},
		{name: "too large", method: http.MethodPost, target: "/tasks", body: `{"type":"alert_list_refresh","source":"` + strings.Repeat("x", 2048) + `"}`, status: http.StatusRequestEntityTooLarge},
		{name: "cancel without key", method: http.MethodDelete, target: "/tasks", status: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, target: "/tasks", status: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub := &fakeSubmitter{}
			response := serve(t, newTestHandler(sub), tt.method, tt.target, tt.body)
			if response.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, response.Code, response.Body)
			}
			if len(sub.submitted) != 0 || len(sub.batches) != 0 {
				t.Fatalf("invalid request must not reach submitter")
			}
		})
	}
}

func TestHTTPHandlerCancelsQueuedKey(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	response := serve(t, newTestHandler(sub), http.MethodDelete, "/tasks?key=rule_check:9", "")
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	var got cancelResponse
	if err := json.Unmarshal(response.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Key != "rule_check:9" || got.Cancelled != 2 || len(sub.cancelled) != 1 {
		t.Fatalf("unexpected cancel response %+v %v", got, sub.cancelled)
	}
}
