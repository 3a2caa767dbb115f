package domain

import (
	"testing"
)

func TestValueFloatCoercion(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		value Value
		want  float64
	}{
		{name: "number", value: Number(101, "101"), want: 101},
		{name: "numeric string", value: String(" 42.5 "), want: 42.5},
		{name: "non numeric string", value: String("abc"), want: 0},
		{name: "true", value: Bool(true), want: 1},
		{name: "false", value: Bool(false), want: 0},
		{name: "null", value: Null(), want: 0},
		{name: "empty string", value: String(""), want: 0},
	}
	for _, tc := range cases {
		if got := tc.value.Float(); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestValueStringKeepsSourceText(t *testing.T) {
	t.Parallel()

	if got := Number(42, "42").String(); got != "42" {
		t.Fatalf("unexpected number text %q", got)
	}
	if got := Number(1.5, "").String(); got != "1.5" {
		t.Fatalf("unexpected formatted number %q", got)
	}
	if got := Null().String(); got != "" {
		t.Fatalf("expected empty null text, got %q", got)
	}
}

func TestRowJSONPreservesColumnOrder(t *testing.T) {
	t.Parallel()

	row := NewRow(3)
	row.Set("z", Number(1, "1"))
	row.Set("a", String("x\"y"))
	row.Set("m", Null())
	row.Set("z", Number(2, "2"))

	want := `{"z":2,"a":"x\"y","m":null}`
	if got := row.JSON(); got != want {
		t.Fatalf("unexpected row json:\nwant %s\ngot  %s", want, got)
	}
	if cols := row.Columns(); len(cols) != 3 || cols[0] != "z" || cols[2] != "m" {
		t.Fatalf("unexpected columns %#v", cols)
	}
}

func TestParseOperator(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]Operator{
		">": OpGreater, "=": OpEqual, "<>": OpNotEqual, "Contains": OpContains, "not_contains": OpNotContains,
	} {
		got, ok := ParseOperator(input)
		if !ok || got != want {
			t.Fatalf("operator %q: got %q ok=%v", input, got, ok)
		}
	}
	if _, ok := ParseOperator("~"); ok {
		t.Fatalf("expected unknown operator to be rejected")
	}
}
