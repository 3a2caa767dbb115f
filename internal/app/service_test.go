package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/config"
)

func writeServiceConfig(t *testing.T, sourceDB string) string {
	t.Helper()

	body := fmt.Sprintf(`[service]
alert_list_refresh_sec = 3600

[http]
listen = "127.0.0.1:0"

[log.console]
enabled = true
level = "error"

[queue]
min_dispatch_interval_ms = 1
poll_interval_ms = 5
batch_spacing_min_ms = 1
batch_spacing_max_ms = 2
dedup_enabled = false

[connection.orders]
db_type = "sqlite"
dsn = %q

[rule.backlog]
connection = "orders"
sql_query = "SELECT COUNT(*) AS cnt FROM orders WHERE state = 'open'"
judge_field = "cnt"
judge_operator = ">"
judge_value = "1"
message_template = "open orders: {table.cnt}"

[stat.open_orders]
connection = "orders"
sql_query = "SELECT state, COUNT(*) AS total FROM orders GROUP BY state"
`, sourceDB)
	path := filepath.Join(t.TempDir(), "alertdesk.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func seedOrdersDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "orders.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open source db: %v", err)
	}
	defer db.Close()
	for _, stmt := range []string{
		"CREATE TABLE orders (id INTEGER PRIMARY KEY, state TEXT NOT NULL)",
		"INSERT INTO orders (state) VALUES ('open'), ('open'), ('open'), ('closed')",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return path
}

func TestServiceStartupBatchPublishesAlertList(t *testing.T) {
	t.Parallel()

	src, err := config.FromCLI(writeServiceConfig(t, seedOrdersDB(t)), "", "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	svc, err := NewService(src, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		latest, ok := svc.host.LatestAlerts()
		if ok && len(latest.Alerts) == 1 {
			if latest.WarningCount != 1 {
				t.Fatalf("unexpected counts: %+v", latest)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alert list never showed the backlog alert: %+v ok=%v", latest, ok)
		}
		time.Sleep(20 * time.Millisecond)
	}

	server := httptest.NewServer(svc.httpSrv.Handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/readyz")
	if err != nil {
		t.Fatalf("ready request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/tasks", "application/json", strings.NewReader(`{"type":"rule_check","target_id":1}`))
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/alerts")
	if err != nil {
		t.Fatalf("alerts request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "open orders: 3") {
		t.Fatalf("unexpected alerts response %d: %s", resp.StatusCode, body)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "alertdesk_tasks_submitted_total") {
		t.Fatalf("metrics missing scheduler counters:\n%s", body)
	}
}

func TestNewServiceRejectsBadCatalog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.toml")
	body := `[rule.orphan]
connection = "missing"
sql_query = "SELECT 1 AS v"
judge_field = "v"
judge_operator = ">"
judge_value = "0"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	src, err := config.FromCLI(path, "", "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	if _, err := NewService(src, clock.RealClock{}); err == nil {
		t.Fatalf("expected unknown connection to fail startup")
	}
}
