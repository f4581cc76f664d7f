package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// consoleHandler renders one header line per record followed by indented
// fields. Info and above show a curated subset; debug shows everything.
type consoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	source bool
	prefix string
	preset []field
}

type field struct {
	key   string
	value slog.Value
}

func newPrettyHandler(w io.Writer, level slog.Leveler, source bool) slog.Handler {
	return &consoleHandler{mu: new(sync.Mutex), w: w, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = append([]field(nil), h.preset...)
	for _, a := range attrs {
		next.preset = appendFlat(next.preset, h.prefix, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]field(nil), h.preset...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendFlat(fields, h.prefix, a)
		return true
	})
	fields = lastWins(fields)

	var buf bytes.Buffer
	buf.WriteString(consoleTime(r.Time))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(r.Level))
	if c := lookup(fields, FieldComponent); c != "" {
		fmt.Fprintf(&buf, " [%s]", c)
	}
	if s := subjectLine(fields); s != "" {
		buf.WriteByte(' ')
		buf.WriteString(s)
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	buf.WriteString(" – ")
	buf.WriteString(msg)
	if h.source && r.PC != 0 {
		if src := r.Source(); src != nil && src.File != "" {
			fmt.Fprintf(&buf, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	buf.WriteByte('\n')

	if r.Level < slog.LevelInfo {
		for _, f := range fields {
			if f.key == FieldComponent {
				continue
			}
			fmt.Fprintf(&buf, "    %s: %s\n", f.key, quoteIfNeeded(plainValue(f.value)))
		}
	} else {
		writeSummary(&buf, fields)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func appendFlat(dst []field, prefix string, a slog.Attr) []field {
	if a.Equal(slog.Attr{}) {
		return dst
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, g := range v.Group() {
			dst = appendFlat(dst, inner, g)
		}
		return dst
	}
	return append(dst, field{key: prefix + a.Key, value: v})
}

// lastWins keeps the first position of each key but the latest value.
func lastWins(fields []field) []field {
	index := make(map[string]int, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if i, ok := index[f.key]; ok {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func lookup(fields []field, key string) string {
	for _, f := range fields {
		if f.key == key {
			return strings.TrimSpace(plainValue(f.value))
		}
	}
	return ""
}

// subjectLine names what the record is about: job, mail account, queue item.
func subjectLine(fields []field) string {
	var parts []string
	if job := lookup(fields, FieldJob); job != "" {
		parts = append(parts, "Job "+job)
	}
	if account := lookup(fields, FieldAccount); account != "" {
		parts = append(parts, account)
	}
	if id := lookup(fields, FieldItemID); id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, "Item "+id)
	}
	return strings.Join(parts, " · ")
}

// summaryRank orders the keys shown first at info level.
var summaryRank = map[string]int{
	FieldAlert:      1,
	FieldEventType:  2,
	"error":         3,
	FieldErrorHint:  4,
	FieldImpact:     5,
	"status":        6,
	"type":          7,
	"count":         8,
	"jobs_found":    9,
	"jobs_enqueued": 10,
	"duration":      11,
}

func writeSummary(buf *bytes.Buffer, fields []field) {
	shown := make([]field, 0, len(fields))
	for _, f := range fields {
		switch f.key {
		case FieldComponent, FieldJob, FieldAccount, FieldItemID:
			continue
		}
		shown = append(shown, f)
	}
	// Stable: ranked keys first, then the rest in call order.
	ranked := make([]field, 0, len(shown))
	for rank := 1; rank <= len(summaryRank); rank++ {
		for _, f := range shown {
			if summaryRank[f.key] == rank {
				ranked = append(ranked, f)
			}
		}
	}
	for _, f := range shown {
		if summaryRank[f.key] == 0 {
			ranked = append(ranked, f)
		}
	}

	hidden := 0
	for _, f := range ranked {
		value := summaryValue(f.key, f.value)
		if debugOnly(f.key) || (len(value) > 120 && !alwaysShown(f.key)) {
			hidden++
			continue
		}
		fmt.Fprintf(buf, "    - %s: %s\n", label(f.key), value)
	}
	switch hidden {
	case 0:
	case 1:
		buf.WriteString("    + 1 more field hidden\n")
	default:
		fmt.Fprintf(buf, "    + %d more fields hidden\n", hidden)
	}
}

func debugOnly(key string) bool {
	switch key {
	case FieldCorrelationID, "history_id", "thread_id":
		return true
	}
	return strings.Contains(key, "_path") || strings.Contains(key, "_dir")
}

func alwaysShown(key string) bool {
	return key == "error" || key == FieldErrorHint || key == "url"
}

func summaryValue(key string, v slog.Value) string {
	switch {
	case v.Kind() == slog.KindBool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	case strings.HasSuffix(key, "_bytes") && v.Kind() == slog.KindInt64 && v.Int64() >= 0:
		return humanize.IBytes(uint64(v.Int64()))
	}
	s := quoteIfNeeded(plainValue(v))
	if key == "error" && len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

func label(key string) string {
	switch key {
	case FieldAlert:
		return "Alert"
	case FieldEventType:
		return "Event"
	case FieldErrorHint:
		return "Hint"
	case FieldMessageID:
		return "Message"
	case "url":
		return "URL"
	}
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return consoleTime(v.Time())
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r < ' ' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
