package templatefmt

import (
	"strings"
	"testing"

	"alertdesk/internal/domain"
)

func TestRenderSubstitutesNamespaceTokens(t *testing.T) {
	t.Parallel()

	row := domain.NewRow(2)
	row.Set("host", domain.String("db-1"))
	row.Set("cnt", domain.Number(156, "156"))

	got := Render("{table.host} backlog {table.cnt} ({api.cnt} untouched)", NamespaceTable, row)
	want := "db-1 backlog 156 ({api.cnt} untouched)"
	if got != want {
		t.Fatalf("unexpected render:\nwant %q\ngot  %q", want, got)
	}
}

func TestRenderBlankTemplateUsesRowJSON(t *testing.T) {
	t.Parallel()

	row := domain.NewRow(1)
	row.Set("count", domain.Number(7, "7"))
	if got := Render("  ", NamespaceAPI, row); got != `{"count":7}` {
		t.Fatalf("unexpected fallback %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 250)
	got := Truncate(long, 200)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncated length %d", len(got))
	}
	if Truncate("short", 200) != "short" {
		t.Fatalf("short text must be unchanged")
	}
}
