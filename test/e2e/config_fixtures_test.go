package e2e

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/glebarez/go-sqlite"
)

// e2eConfigPrefix builds service/http/log/queue sections shared by e2e configs.
// Dedup is off so chained alert-list refreshes always run.
// Params: HTTP port (0 leaves listen to the environment).
// Returns: TOML prefix string.
func e2eConfigPrefix(port int) string {
	listen := ""
	if port > 0 {
		listen = fmt.Sprintf("listen = \"127.0.0.1:%d\"\n", port)
	}
	return fmt.Sprintf(`
[service]
name = "alertdesk-e2e"
alert_list_refresh_sec = 3600

[http]
%shealth_path = "/healthz"
ready_path = "/readyz"
tasks_path = "/tasks"
alerts_path = "/alerts"
metrics_path = "/metrics"

[log.console]
enabled = true
level = "error"
format = "line"

[queue]
max_concurrency = 2
min_dispatch_interval_ms = 1
poll_interval_ms = 5
batch_spacing_min_ms = 1
batch_spacing_max_ms = 5
dedup_enabled = false
`, listen)
}

// e2eCatalog declares one sqlite connection, one backlog rule, and one stat view.
func e2eCatalog(sourceDB string) string {
	return fmt.Sprintf(`
[connection.orders]
db_type = "sqlite"
dsn = %q

[rule.backlog]
connection = "orders"
sql_query = "SELECT id, customer FROM orders WHERE state = 'open'"
judge_type = "multi_row"
key_field = "id"
level = "critical"
message_template = "order {table.id} open for {table.customer}"

[stat.by_state]
connection = "orders"
sql_query = "SELECT state, COUNT(*) AS total FROM orders GROUP BY state"
refresh_interval_sec = 60
`, sourceDB)
}

// seedOrdersDB creates sqlite source with two open orders and one closed.
func seedOrdersDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "orders.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open source db: %v", err)
	}
	defer db.Close()
	for _, stmt := range []string{
		"CREATE TABLE orders (id INTEGER PRIMARY KEY, customer TEXT NOT NULL, state TEXT NOT NULL)",
		"INSERT INTO orders (customer, state) VALUES ('acme', 'open'), ('globex', 'open'), ('initech', 'closed')",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return path
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alertdesk.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
