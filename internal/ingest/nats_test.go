package ingest

import (
	"io"
	"log/slog"
	"testing"

	"alertdesk/test/testutil"
)

func TestNATSSubscriberSubmitsAndReplies(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}

	url, _ := testutil.StartLocalNATSServer(t)
	sub := &fakeSubmitter{}
	subscriber, err := NewNATSSubscriber(NATSOptions{
		URL:        []string{url},
		Subject:    "alertdesk.requests.test",
		QueueGroup: "alertdesk",
	}, sub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	defer subscriber.Close()

	var single submitResponse
	testutil.RequestJSON(t, url, "alertdesk.requests.test", map[string]any{"type": "rule_check", "target_id": 5}, &single)
	if !single.Accepted || single.Key != "rule_check:5" {
		t.Fatalf("unexpected reply %+v", single)
	}

	var batch batchResponse
	testutil.RequestJSON(t, url, "alertdesk.requests.test", []map[string]any{
		{"type": "stat_refresh", "target_id": 1},
		{"type": "alert_list_refresh"},
	}, &batch)
	if batch.Requested != 2 || batch.Accepted != 1 {
		t.Fatalf("unexpected batch reply %+v", batch)
	}

	var failed errorResponse
	testutil.RequestJSON(t, url, "alertdesk.requests.test", map[string]any{"type": "nope"}, &failed)
	if failed.Error == "" {
		t.Fatalf("expected error reply")
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.submitted) != 1 || len(sub.batches) != 1 {
		t.Fatalf("unexpected submitter calls %d/%d", len(sub.submitted), len(sub.batches))
	}
}
