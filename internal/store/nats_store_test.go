package store

import (
	"testing"

	"alertdesk/test/testutil"
)

func TestNATSAlertStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}

	url, stopNATS := testutil.StartLocalNATSServer(t)
	defer stopNATS()

	store, err := NewNATSAlertStore(NATSOptions{
		URL:                []string{url},
		AlertBucket:        "alerts_test",
		IgnoreBucket:       "ignored_test",
		AllowCreateBuckets: true,
	})
	if err != nil {
		t.Fatalf("new nats alert store: %v", err)
	}
	defer store.Close()

	exerciseAlertStore(t, store, store)
}

func TestNATSAlertStoreRequiresBuckets(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}

	url, stopNATS := testutil.StartLocalNATSServer(t)
	defer stopNATS()

	if _, err := NewNATSAlertStore(NATSOptions{URL: []string{url}, AlertBucket: "missing", IgnoreBucket: "missing_ignored"}); err == nil {
		t.Fatalf("expected missing bucket error without create permission")
	}
}
