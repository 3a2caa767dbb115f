package templatefmt

import (
	"strings"

	"alertdesk/internal/domain"
)

const (
	// NamespaceTable prefixes SQL column tokens: {table.<column>}.
	NamespaceTable = "table"
	// NamespaceAPI prefixes HTTP/JSON field tokens: {api.<field>}.
	NamespaceAPI = "api"
)

// Render substitutes {namespace.<column>} tokens with row values.
// Params: message template, token namespace, and source row.
// Returns: rendered message; row JSON when template is blank.
func Render(template, namespace string, row domain.Row) string {
	if strings.TrimSpace(template) == "" {
		return row.JSON()
	}
	columns := row.Columns()
	if len(columns) == 0 || !strings.Contains(template, "{"+namespace+".") {
		return template
	}
	pairs := make([]string, 0, len(columns)*2)
	for _, column := range columns {
		value, _ := row.Get(column)
		pairs = append(pairs, Token(namespace, column), value.String())
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Token returns placeholder text for one field.
func Token(namespace, field string) string {
	return "{" + namespace + "." + field + "}"
}

// Truncate shortens text to limit runes and appends "..." when cut.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
