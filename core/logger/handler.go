package logger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// sink receives every line at or above min.
type sink struct {
	w   *asyncWriter
	min slog.Level
}

type handlerConfig struct {
	level  slog.Leveler
	format logFormat
	sinks  []sink
}

// structuredHandler renders records as one kv or json line with a fixed
// leading key order and writes the line to each sink whose level admits it.
type structuredHandler struct {
	cfg    handlerConfig
	preset []field
	prefix string
}

type field struct {
	key string
	val any
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if len(h.cfg.sinks) == 0 {
		return errors.New("logger: no sinks configured")
	}
	asJSON := h.cfg.format == formatJSON

	e := make(entry, 16)
	ts := r.Time.UTC()
	e["ts"] = ts.Truncate(time.Millisecond).Format(timeLayout)
	e["level"] = r.Level.String()
	if asJSON {
		e["ts_unix_nano"] = ts.UnixNano()
	}
	for _, f := range h.preset {
		e[f.key] = f.val
	}
	r.Attrs(func(a slog.Attr) bool {
		e.add(h.prefix, a)
		return true
	})
	for _, a := range scopeOf(ctx).fields() {
		if _, set := e[a.Key]; !set {
			e[a.Key] = a.Value.Any()
		}
	}
	e.finish(r.Message, asJSON)

	line, err := e.encode(h.cfg.format)
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range h.cfg.sinks {
		if r.Level >= s.min {
			errs = append(errs, s.w.Write(line))
		}
	}
	return errors.Join(errs...)
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	tmp := make(entry, len(attrs))
	for _, a := range attrs {
		tmp.add(h.prefix, a)
	}
	clone := *h
	clone.preset = slices.Clone(h.preset)
	for _, k := range sortedKeys(tmp) {
		clone.preset = append(clone.preset, field{k, tmp[k]})
	}
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

// entry is a record being assembled, keyed by flattened attribute name.
type entry map[string]any

// add flattens groups into dotted keys and stores plain values.
func (e entry) add(prefix string, a slog.Attr) {
	key := joinKey(prefix, a.Key)
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			e.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if d, ok := asDuration(v); ok {
		e[durationKey(key)] = RoundMS(d).Milliseconds()
		return
	}
	if val, ok := plainValue(v); ok {
		e[key] = val
	}
}

// finish applies defaults, normalizes enumerations, redacts secrets and drops
// empty values.
func (e entry) finish(msg string, asJSON bool) {
	if rid, _ := e["rid"].(string); rid != "" {
		if c := CompactRID(rid); c != rid {
			if asJSON {
				e["rid_full"] = rid
			}
			e["rid"] = c
		}
	}
	if ev, _ := e["event"].(string); ev == "" {
		e["event"] = cmp.Or(msg, "unknown")
	}
	if c, _ := e["component"].(string); c == "" {
		e["component"] = "app"
	}
	if s, ok := e["status"].(string); ok {
		e["status"] = strings.ToLower(strings.TrimSpace(s))
	}
	if o, ok := e["outcome"].(string); ok {
		o = strings.ToLower(strings.TrimSpace(o))
		if _, known := outcomes[o]; known {
			e["outcome"] = o
		} else {
			delete(e, "outcome")
		}
	}
	for k, v := range e {
		if _, secret := secretKeys[k]; secret {
			e[k] = redacted
			continue
		}
		switch s := v.(type) {
		case nil:
			delete(e, k)
		case string:
			if s == "" {
				delete(e, k)
			} else if botTokenRe.MatchString(s) {
				e[k] = botTokenRe.ReplaceAllString(s, redacted)
			}
		}
	}
}

func (e entry) encode(format logFormat) ([]byte, error) {
	keys := orderedKeys(e)
	var b strings.Builder
	if format == formatJSON {
		b.WriteByte('{')
		for i, k := range keys {
			data, err := json.Marshal(e[k])
			if err != nil {
				return nil, fmt.Errorf("logger: encode %s: %w", k, err)
			}
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			b.Write(data)
		}
		b.WriteString("}\n")
		return []byte(b.String()), nil
	}
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kvValue(e[k]))
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

const redacted = "<redacted>"

// botTokenRe matches a Bot API token, bare or inside a request URL.
var botTokenRe = regexp.MustCompile(`[0-9]{5,}:[A-Za-z0-9_-]{30,}`)

func plainValue(v slog.Value) (any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return v.Bool(), true
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return v.Uint64(), true
	case slog.KindFloat64:
		return v.Float64(), true
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := v.Any().(type) {
	case nil:
		return nil, false
	case error:
		return x.Error(), true
	case fmt.Stringer:
		return x.String(), true
	case string:
		return strings.TrimSpace(x), true
	default:
		return fmt.Sprint(x), true
	}
}

func asDuration(v slog.Value) (time.Duration, bool) {
	if v.Kind() == slog.KindDuration {
		return v.Duration(), true
	}
	if v.Kind() == slog.KindAny {
		d, ok := v.Any().(time.Duration)
		return d, ok
	}
	return 0, false
}

// durationKey renames duration attrs so the unit is part of the key.
func durationKey(key string) string {
	if key == "duration" {
		return "duration_ms"
	}
	if strings.HasSuffix(key, "_ms") {
		return key
	}
	return key + "_ms"
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

// orderedKeys lists keyOrder members first, then the rest alphabetically.
func orderedKeys(e entry) []string {
	keys := make([]string, 0, len(e))
	for _, k := range keyOrder {
		if _, ok := e[k]; ok {
			keys = append(keys, k)
		}
	}
	for _, k := range sortedKeys(e) {
		if _, lead := keyRank[k]; !lead {
			keys = append(keys, k)
		}
	}
	return keys
}

func sortedKeys(e entry) []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func kvValue(v any) string {
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
