package logging

import (
	"bytes"
	"io"
	"regexp"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiGray   = "\x1b[90m"
	ansiBlue   = "\x1b[34m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
)

var (
	levelToken  = regexp.MustCompile(`level=(DEBUG|INFO|WARN|ERROR|PANIC)`)
	errorValue  = regexp.MustCompile(`\berror=("(?:[^"\\]|\\.)*"|\S+)`)
	idValue     = regexp.MustCompile(`\b(?:rule_id|stat_id|request_id|key)=("(?:[^"\\]|\\.)*"|\S+)`)
	levelColors = map[string]string{
		"DEBUG": ansiGray,
		"INFO":  ansiBlue,
		"WARN":  ansiYellow,
		"ERROR": ansiRed,
		"PANIC": ansiBold + ansiRed,
	}
)

// colorWriter paints the level token, error values, and task identifiers of text-handler lines.
type colorWriter struct {
	dst io.Writer
}

func (w *colorWriter) Write(line []byte) (int, error) {
	out := levelToken.ReplaceAllFunc(line, func(token []byte) []byte {
		name := string(token[len("level="):])
		return paint(token, levelColors[name])
	})
	out = errorValue.ReplaceAllFunc(out, func(token []byte) []byte { return paint(token, ansiRed) })
	out = idValue.ReplaceAllFunc(out, func(token []byte) []byte { return paint(token, ansiGreen) })
	if _, err := w.dst.Write(out); err != nil {
		return 0, err
	}
	return len(line), nil
}

func paint(token []byte, color string) []byte {
	if color == "" {
		return token
	}
	var buf bytes.Buffer
	buf.Grow(len(token) + len(color) + len(ansiReset))
	buf.WriteString(color)
	buf.Write(token)
	buf.WriteString(ansiReset)
	return buf.Bytes()
}
