package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"alertdesk/internal/domain"
	"alertdesk/internal/events"
	"alertdesk/internal/store"
	"alertdesk/test/testutil"

	"github.com/nats-io/nats.go"
)

const (
	e2eAlertBucket       = "alertdesk_alerts_e2e"
	e2eIgnoreBucket      = "alertdesk_ignored_e2e"
	e2eCompletionSubject = "alertdesk.e2e.completions"
	e2eRequestSubject    = "alertdesk.e2e.requests"
)

// startLocalNATSServer starts a local JetStream NATS process for e2e tests.
func startLocalNATSServer(tb testing.TB) (string, func()) {
	return testutil.StartLocalNATSServer(tb)
}

// natsConfigSection switches store and events to NATS.
// Params: NATS URL and catalog database path.
// Returns: TOML fragment.
func natsConfigSection(natsURL, catalogDB string) string {
	return fmt.Sprintf(`
[store]
backend = "nats"
driver = "sqlite"
dsn = %q

[store.nats]
url = ["%s"]
alert_bucket = "%s"
ignore_bucket = "%s"
allow_create_buckets = true

[events.nats]
enabled = true
url = ["%s"]
completion_subject = "%s"
request_subject = "%s"
queue_group = "alertdesk-e2e"
`, catalogDB, natsURL, e2eAlertBucket, e2eIgnoreBucket, natsURL, e2eCompletionSubject, e2eRequestSubject)
}

// completionCollector records completion events published by the service.
type completionCollector struct {
	mu     sync.Mutex
	events []events.Completion
}

func (c *completionCollector) handle(message *nats.Msg) {
	var completion events.Completion
	if err := json.Unmarshal(message.Data, &completion); err != nil {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, completion)
	c.mu.Unlock()
}

// Count returns completions matching key and source; empty source matches any.
func (c *completionCollector) Count(key, source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, completion := range c.events {
		if completion.Key == key && completion.Success && (source == "" || completion.Source == source) {
			count++
		}
	}
	return count
}

// subscribeCompletions listens on every task-type completion subject.
func subscribeCompletions(tb testing.TB, url string) *completionCollector {
	tb.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	tb.Cleanup(nc.Close)
	collector := &completionCollector{}
	if _, err := nc.Subscribe(e2eCompletionSubject+".>", collector.handle); err != nil {
		tb.Fatalf("subscribe completions: %v", err)
	}
	if err := nc.Flush(); err != nil {
		tb.Fatalf("flush subscription: %v", err)
	}
	return collector
}

// listKVAlerts reads current alerts straight from the JetStream KV bucket.
func listKVAlerts(tb testing.TB, url string) []domain.CurrentAlert {
	tb.Helper()

	kv, err := store.NewNATSAlertStore(store.NATSOptions{
		URL:          []string{url},
		AlertBucket:  e2eAlertBucket,
		IgnoreBucket: e2eIgnoreBucket,
	})
	if err != nil {
		tb.Fatalf("open alert buckets: %v", err)
	}
	defer kv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	alerts, err := kv.ListAlerts(ctx)
	if err != nil {
		tb.Fatalf("list kv alerts: %v", err)
	}
	return alerts
}
