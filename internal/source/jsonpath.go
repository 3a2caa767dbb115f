package source

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"alertdesk/internal/domain"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidJSON indicates response body is not valid JSON.
	ErrInvalidJSON = errors.New("invalid json")
	// ErrPathNotFound indicates data path did not resolve.
	ErrPathNotFound = errors.New("json path not found")
)

var (
	segmentPattern = regexp.MustCompile(`^([^\[\]]*)((?:\[\d+\])*)$`)
	indexPattern   = regexp.MustCompile(`\[(\d+)\]`)
	gjsonEscaper   = strings.NewReplacer(
		`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`,
		`#`, `\#`, `@`, `\@`, `!`, `\!`, `=`, `\=`, `<`, `\<`, `>`, `\>`, `%`, `\%`,
	)
)

// GJSONPath converts dotted data path with name[i] indexing into gjson syntax.
// Params: path like "data.items[1].count".
// Returns: gjson path "data.items.1.count" or syntax error.
func GJSONPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	parts := make([]string, 0, 4)
	for _, segment := range strings.Split(path, ".") {
		match := segmentPattern.FindStringSubmatch(segment)
		if match == nil || (match[1] == "" && match[2] == "") {
			return "", fmt.Errorf("%w: bad segment %q in %q", ErrPathNotFound, segment, path)
		}
		if match[1] != "" {
			parts = append(parts, gjsonEscaper.Replace(match[1]))
		}
		for _, index := range indexPattern.FindAllStringSubmatch(match[2], -1) {
			parts = append(parts, index[1])
		}
	}
	return strings.Join(parts, "."), nil
}

// Resolve parses body and descends data path.
// Params: raw JSON body and dotted data path (empty = document root).
// Returns: resolved node, ErrInvalidJSON or ErrPathNotFound.
func Resolve(body []byte, path string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrInvalidJSON
	}
	gpath, err := GJSONPath(path)
	if err != nil {
		return gjson.Result{}, err
	}
	if gpath == "" {
		return gjson.ParseBytes(body), nil
	}
	result := gjson.GetBytes(body, gpath)
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %q", ErrPathNotFound, path)
	}
	return result, nil
}

// ObjectRows turns resolved node into rows: one per array item, or the object itself.
// Array items that are not objects become empty rows so they keep their position.
// Params: resolved gjson node.
// Returns: rows in document order; a top-level scalar produces none.
func ObjectRows(node gjson.Result) []domain.Row {
	switch {
	case node.IsArray():
		items := node.Array()
		rows := make([]domain.Row, 0, len(items))
		for _, item := range items {
			if !item.IsObject() {
				rows = append(rows, domain.NewRow(0))
				continue
			}
			rows = append(rows, RowFromObject(item))
		}
		return rows
	case node.IsObject():
		return []domain.Row{RowFromObject(node)}
	default:
		return nil
	}
}

// RowFromObject copies object fields into ordered row.
func RowFromObject(node gjson.Result) domain.Row {
	row := domain.NewRow(8)
	node.ForEach(func(key, value gjson.Result) bool {
		row.Set(key.String(), ValueFromJSON(value))
		return true
	})
	return row
}

// ValueFromJSON maps gjson scalar into tagged value; nested JSON stays as raw text.
func ValueFromJSON(node gjson.Result) domain.Value {
	switch node.Type {
	case gjson.Number:
		return domain.Number(node.Num, node.Raw)
	case gjson.String:
		return domain.String(node.Str)
	case gjson.True:
		return domain.Bool(true)
	case gjson.False:
		return domain.Bool(false)
	case gjson.JSON:
		return domain.String(node.Raw)
	default:
		return domain.Null()
	}
}
