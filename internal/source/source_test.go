package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"alertdesk/internal/domain"
	"alertdesk/internal/permanent"
)

func TestGJSONPath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                    "",
		"data":                "data",
		"data.items[1].count": "data.items.1.count",
		"[0].name":            "0.name",
		"grid[1][2]":          "grid.1.2",
		"weird*key.x":         `weird\*key.x`,
	}
	for input, want := range cases {
		got, err := GJSONPath(input)
		if err != nil {
			t.Fatalf("path %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("path %q: expected %q, got %q", input, want, got)
		}
	}
	if _, err := GJSONPath("items[x]"); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("expected bad segment error, got %v", err)
	}
}

func TestResolveIndexedPath(t *testing.T) {
	t.Parallel()

	body := []byte(`{"data":{"items":[{"count":1},{"count":7}]}}`)
	node, err := Resolve(body, "data.items[1].count")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if node.Int() != 7 {
		t.Fatalf("expected 7, got %s", node.Raw)
	}

	if _, err := Resolve(body, "data.missing"); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("expected path not found, got %v", err)
	}
	if _, err := Resolve([]byte(`{"data":`), "data"); !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected invalid json, got %v", err)
	}
}

func TestObjectRows(t *testing.T) {
	t.Parallel()

	node, err := Resolve([]byte(`{"list":[{"a":1,"b":"x","c":true,"d":null},3,{"a":2}]}`), "list")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rows := ObjectRows(node)
	if len(rows) != 3 {
		t.Fatalf("expected one row per item, got %d", len(rows))
	}
	if cols := rows[1].Columns(); len(cols) != 0 {
		t.Fatalf("scalar item must yield empty row, got %#v", cols)
	}
	if v, ok := rows[2].Get("a"); !ok || v.Float() != 2 {
		t.Fatalf("unexpected third row %+v", v)
	}
	first := rows[0]
	if cols := first.Columns(); len(cols) != 4 || cols[0] != "a" || cols[3] != "d" {
		t.Fatalf("unexpected columns %#v", cols)
	}
	if v, _ := first.Get("c"); v.Kind != domain.KindBool || v.Float() != 1 {
		t.Fatalf("unexpected bool cell %+v", v)
	}
	if v, _ := first.Get("d"); v.Kind != domain.KindNull {
		t.Fatalf("unexpected null cell %+v", v)
	}
}

func TestBuildRequestValidation(t *testing.T) {
	t.Parallel()

	if _, err := BuildRequest(domain.HTTPSource{}); !permanent.Is(err) {
		t.Fatalf("expected configuration error for missing url, got %v", err)
	}
	if _, err := BuildRequest(domain.HTTPSource{URL: "http://x", Method: "PUT"}); !permanent.Is(err) {
		t.Fatalf("expected configuration error for PUT, got %v", err)
	}
	if _, err := BuildRequest(domain.HTTPSource{URL: "http://x", Headers: "[1]"}); !permanent.Is(err) {
		t.Fatalf("expected configuration error for array headers, got %v", err)
	}
	req, err := BuildRequest(domain.HTTPSource{URL: " http://x ", Method: "post", Headers: `{"X-Token":"t"}`})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if req.Method != http.MethodPost || req.Headers["X-Token"] != "t" || req.Timeout != domain.DefaultAPITimeout {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestHTTPClientFetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		body, _ := io.ReadAll(request.Body)
		if request.Header.Get("X-Token") != "t" || string(body) != `{"q":1}` {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		if request.Header.Get("Content-Type") != "application/json" {
			writer.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		writer.WriteHeader(http.StatusServiceUnavailable)
		_, _ = writer.Write([]byte("down"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.Client())
	resp, err := client.Fetch(context.Background(), HTTPRequest{
		Method:  http.MethodPost,
		URL:     server.URL,
		Headers: map[string]string{"X-Token": "t"},
		Body:    `{"q":1}`,
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable || resp.Reason != "Service Unavailable" || string(resp.Body) != "down" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Success() {
		t.Fatalf("503 must not be success")
	}
}

func TestHTTPClientHonorsContextCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := NewHTTPClient(server.Client()).Fetch(ctx, HTTPRequest{Method: http.MethodGet, URL: server.URL, Timeout: time.Minute})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if time.Since(started) > 5*time.Second {
		t.Fatalf("fetch was not bounded by context")
	}
}

func TestSQLPoolQuerySQLite(t *testing.T) {
	t.Parallel()

	pool := NewSQLPool(SQLPoolOptions{})
	defer pool.Close()

	conn := domain.DbConnection{
		ID:      1,
		Name:    "local",
		DbType:  domain.DbSQLite,
		DSN:     filepath.Join(t.TempDir(), "source.db"),
		Enabled: true,
	}
	ctx := context.Background()
	if _, _, err := pool.Query(ctx, conn, `CREATE TABLE jobs (host TEXT, cnt INTEGER, ratio REAL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, _, err := pool.Query(ctx, conn, `INSERT INTO jobs VALUES ('a', 156, 0.5), ('b', NULL, 1.25)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	columns, rows, err := pool.Query(ctx, conn, `SELECT host, cnt, ratio FROM jobs ORDER BY host`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(columns) != 3 || columns[1] != "cnt" {
		t.Fatalf("unexpected columns %#v", columns)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if cnt, _ := rows[0].Get("cnt"); !cnt.IsNumber() || cnt.Float() != 156 || cnt.String() != "156" {
		t.Fatalf("unexpected cnt cell %+v", cnt)
	}
	if cnt, _ := rows[1].Get("cnt"); cnt.Kind != domain.KindNull {
		t.Fatalf("expected null cnt, got %+v", cnt)
	}

	_, empty, err := pool.Query(ctx, conn, `SELECT host FROM jobs WHERE cnt > 1000`)
	if err != nil {
		t.Fatalf("select empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no rows, got %d", len(empty))
	}
}

func TestDriverNameRejectsUnknownType(t *testing.T) {
	t.Parallel()

	if _, err := DriverName("oracle"); !permanent.Is(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
